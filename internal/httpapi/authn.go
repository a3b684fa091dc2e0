package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// callerHeader names the acting address when the API runs without an
	// auth secret.
	callerHeader = "X-Town-Caller"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.issuer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="defitown"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.issuer.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="defitown", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// caller is the address a state-changing request acts as: the token subject,
// or the X-Town-Caller header when auth is disabled.
func (a *API) caller(r *http.Request) (chain.Address, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return p.Address, nil
	}
	if a.issuer != nil {
		return chain.Address{}, auth.ErrUnauthorized
	}
	raw := strings.TrimSpace(r.Header.Get(callerHeader))
	if raw == "" {
		return chain.Address{}, auth.ErrUnauthorized
	}
	return chain.ParseAddress(raw)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
