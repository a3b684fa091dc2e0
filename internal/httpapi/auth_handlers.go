package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"defitown.org/internal/access"
	"defitown.org/internal/audit"
	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/town"
)

type tokenRequest struct {
	Address  chain.Address `json:"address"`
	Password string        `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Address   string    `json:"address"`
	Roles     []string  `json:"roles,omitempty"`
}

// roleChecks are the on-chain roles copied into a token's roles claim.
var roleChecks = []struct {
	contract chain.Address
	role     access.Role
}{
	{town.RegistryAddress, access.DefaultAdminRole},
	{town.RegistryAddress, access.AdapterManagerRole},
	{town.RegistryAddress, access.PauserRole},
	{town.FactoryAddress, access.DeployerRole},
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if a.issuer == nil || a.creds == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == chain.ZeroAddress || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "address and password are required")
		return
	}
	if err := a.creds.Check(req.Address, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			logger().Error("credential check failed", errorFields(r, err)...)
		}
		a.audit(r, "auth.token_denied", map[string]any{"address": req.Address.Hex()})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	roles := make([]string, 0, len(roleChecks))
	for _, rc := range roleChecks {
		ok, err := a.town.HasRole(r.Context(), rc.contract, rc.role, req.Address)
		if err != nil {
			handleTownError(w, r, err)
			return
		}
		if ok {
			roles = append(roles, access.RoleName(rc.role))
		}
	}

	token, exp, err := a.issuer.Issue(req.Address, roles)
	if err != nil {
		logger().Error("issue token", errorFields(r, err)...)
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{Address: req.Address, Roles: roles})
	_ = audit.LogEvent(ctx, "auth.token_issued", map[string]any{"expires_at": exp})
	logger().Debug("token issued", zap.String("address", req.Address.Hex()), zap.Strings("roles", roles))

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: exp,
		Address:   req.Address.Hex(),
		Roles:     roles,
	})
}
