package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/factory"
)

func newAuthAPI(t *testing.T) *API {
	t.Helper()
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return &API{issuer: issuer}
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	a := newAuthAPI(t)
	token, _, err := a.issuer.Issue(u1, []string{"PAUSER_ROLE"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got chain.Address
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err = a.caller(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/townhall", nil)
	req.Header.Set(authHeader, "Bearer "+token)
	req.Header.Set(callerHeader, u2.Hex())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err != nil || got != u1 {
		t.Fatalf("caller should be the token subject, got %s (%v)", got, err)
	}
}

func TestWithAuthRejects(t *testing.T) {
	a := newAuthAPI(t)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/registry", nil)
			if tc.header != "" {
				req.Header.Set(authHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate header set")
			}
		})
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	a := newAuthAPI(t)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range publicPaths {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestCallerWithoutAuth(t *testing.T) {
	a := &API{}

	req := httptest.NewRequest(http.MethodPost, "/v1/townhall", nil)
	if _, err := a.caller(req); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	req.Header.Set(callerHeader, "0x123")
	if _, err := a.caller(req); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	req.Header.Set(callerHeader, u2.Hex())
	got, err := a.caller(req)
	if err != nil || got != u2 {
		t.Fatalf("expected %s, got %s (%v)", u2, got, err)
	}
}

func TestStatusForMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{auth.ErrUnauthorized, http.StatusUnauthorized},
		{chain.ErrInvalidAddress, http.StatusBadRequest},
		{factory.ErrInvalidOwner, http.StatusBadRequest},
		{factory.ErrInvalidEntryPoint, http.StatusBadRequest},
		{chain.ErrLengthMismatch, http.StatusBadRequest},
		{&access.MissingRoleError{Account: u1, Role: access.PauserRole}, http.StatusForbidden},
		// a role failure inside a wallet batch is still a failed batch
		{&account.ExecutionError{Index: 0, Target: u2, Err: &access.MissingRoleError{Account: u1, Role: access.PauserRole}}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, got)
		}
	}
}
