package httpapi

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"defitown.org/internal/access"
	"defitown.org/internal/audit"
	"defitown.org/internal/chain"
	"defitown.org/internal/strategy"
	"defitown.org/internal/town"
)

type townHallRequest struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type adapterRequest struct {
	BuildingType string        `json:"building_type"`
	Adapter      chain.Address `json:"adapter"`
}

type roleRequest struct {
	Contract string        `json:"contract"`
	Role     string        `json:"role"`
	Member   chain.Address `json:"member"`
}

type walletRequest struct {
	Owner chain.Address `json:"owner"`
	Salt  uint64        `json:"salt"`
}

type accrueRequest struct {
	Depositor chain.Address `json:"depositor"`
	Asset     chain.Address `json:"asset"`
	Interest  *big.Int      `json:"interest"`
}

type drawRequest struct {
	Winner chain.Address `json:"winner"`
}

// --- buildings ---

func (a *API) createTownHall(w http.ResponseWriter, r *http.Request) {
	user, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req townHallRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	b, rec, err := a.town.CreateTownHall(r.Context(), user, req.X, req.Y)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "townhall.create", map[string]any{"user": user.Hex(), "building_id": b.ID, "tx_id": rec.TxID})
	writeJSON(w, http.StatusCreated, map[string]any{"building": b, "receipt": rec})
}

func (a *API) placeBuilding(w http.ResponseWriter, r *http.Request) {
	user, bt, params, ok := a.placement(w, r)
	if !ok {
		return
	}
	out, err := a.town.Place(r.Context(), user, bt, params)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	fields := map[string]any{"user": user.Hex(), "building_type": bt, "tx_id": out.Receipt.TxID}
	if out.Building != nil {
		fields["building_id"] = out.Building.ID
	}
	a.audit(r, "building.place", fields)
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) previewPlace(w http.ResponseWriter, r *http.Request) {
	user, bt, params, ok := a.placement(w, r)
	if !ok {
		return
	}
	batch, err := a.town.PreviewPlace(r.Context(), user, bt, params)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

// placement resolves the caller and re-encodes the JSON body as adapter
// params for the building type in the path.
func (a *API) placement(w http.ResponseWriter, r *http.Request) (chain.Address, string, []byte, bool) {
	user, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return chain.Address{}, "", nil, false
	}
	bt := r.PathValue("type")
	raw, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return chain.Address{}, "", nil, false
	}
	params, err := strategy.ParamsFromJSON(bt, raw)
	if err != nil {
		handleTownError(w, r, err)
		return chain.Address{}, "", nil, false
	}
	return user, bt, params, true
}

func (a *API) lifecycle(action town.Action, preview bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.caller(r)
		if err != nil {
			handleTownError(w, r, err)
			return
		}
		id, err := parseUint(r.PathValue("id"))
		if err != nil || id == 0 {
			writeError(w, r, http.StatusBadRequest, "invalid building id")
			return
		}
		ctx := r.Context()

		if preview {
			var batch chain.CallBatch
			if action == town.ActionHarvest {
				batch, err = a.town.PreviewHarvest(ctx, user, id, nil)
			} else {
				batch, err = a.town.PreviewDemolish(ctx, user, id, nil)
			}
			if err != nil {
				handleTownError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
			return
		}

		var out town.Outcome
		if action == town.ActionHarvest {
			out, err = a.town.Harvest(ctx, user, id, nil)
		} else {
			out, err = a.town.Demolish(ctx, user, id, nil)
		}
		if err != nil {
			handleTownError(w, r, err)
			return
		}
		if out.Executed {
			a.audit(r, "building."+string(action), map[string]any{"user": user.Hex(), "building_id": id, "tx_id": out.Receipt.TxID})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *API) getBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(r.PathValue("id"))
	if err != nil || id == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid building id")
		return
	}
	b, err := a.town.Building(r.Context(), id)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) userBuildings(w http.ResponseWriter, r *http.Request) {
	owner, err := chain.ParseAddress(r.PathValue("owner"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	list, err := a.town.Buildings(r.Context(), owner)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "buildings": list})
}

// --- registry ---

func (a *API) registryState(w http.ResponseWriter, r *http.Request) {
	st, err := a.town.Registry(r.Context())
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) getAdapter(w http.ResponseWriter, r *http.Request) {
	e, err := a.town.Adapter(r.Context(), r.PathValue("type"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) registerAdapter(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req adapterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.town.RegisterAdapter(r.Context(), caller, req.BuildingType, req.Adapter); err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "registry.register", map[string]any{"caller": caller.Hex(), "building_type": req.BuildingType, "adapter": req.Adapter.Hex()})
	a.respondAdapter(w, r, http.StatusCreated, req.BuildingType)
}

func (a *API) upgradeAdapter(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req adapterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bt := r.PathValue("type")
	if req.BuildingType != "" && req.BuildingType != bt {
		writeError(w, r, http.StatusBadRequest, "building_type does not match path")
		return
	}
	if err := a.town.UpgradeAdapter(r.Context(), caller, bt, req.Adapter); err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "registry.upgrade", map[string]any{"caller": caller.Hex(), "building_type": bt, "adapter": req.Adapter.Hex()})
	a.respondAdapter(w, r, http.StatusOK, bt)
}

func (a *API) respondAdapter(w http.ResponseWriter, r *http.Request, code int, bt string) {
	e, err := a.town.Adapter(r.Context(), bt)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, code, e)
}

func (a *API) removeAdapter(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	bt := r.PathValue("type")
	if err := a.town.RemoveAdapter(r.Context(), caller, bt); err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "registry.remove", map[string]any{"caller": caller.Hex(), "building_type": bt})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) pauseRegistry(w http.ResponseWriter, r *http.Request) {
	a.setPaused(w, r, true)
}

func (a *API) unpauseRegistry(w http.ResponseWriter, r *http.Request) {
	a.setPaused(w, r, false)
}

func (a *API) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	event := "registry.pause"
	if paused {
		err = a.town.Pause(r.Context(), caller)
	} else {
		event = "registry.unpause"
		err = a.town.Unpause(r.Context(), caller)
	}
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, event, map[string]any{"caller": caller.Hex()})
	writeJSON(w, http.StatusOK, map[string]any{"paused": paused})
}

// --- roles ---

func (a *API) grantRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, true)
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, false)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	contract, role, err := resolveRole(req.Contract, req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	event := "role.grant"
	if grant {
		err = a.town.GrantRole(r.Context(), caller, contract, role, req.Member)
	} else {
		event = "role.revoke"
		err = a.town.RevokeRole(r.Context(), caller, contract, role, req.Member)
	}
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, event, map[string]any{
		"caller":   caller.Hex(),
		"contract": contract.Hex(),
		"role":     access.RoleName(role),
		"member":   req.Member.Hex(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"contract": contract,
		"role":     access.RoleName(role),
		"member":   req.Member,
		"granted":  grant,
	})
}

func (a *API) hasRole(w http.ResponseWriter, r *http.Request) {
	contract, role, err := resolveRole(r.PathValue("contract"), r.PathValue("role"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, err := chain.ParseAddress(r.PathValue("member"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	ok, err := a.town.HasRole(r.Context(), contract, role, member)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract": contract,
		"role":     access.RoleName(role),
		"member":   member,
		"has_role": ok,
	})
}

// resolveRole accepts "registry" or "factory" as contract aliases and a role
// name or hash.
func resolveRole(contract, role string) (chain.Address, access.Role, error) {
	var addr chain.Address
	switch strings.ToLower(contract) {
	case "registry":
		addr = town.RegistryAddress
	case "factory":
		addr = town.FactoryAddress
	default:
		parsed, err := chain.ParseAddress(contract)
		if err != nil {
			return chain.Address{}, access.Role{}, fmt.Errorf("unknown contract %q", contract)
		}
		addr = parsed
	}
	rl, err := access.ParseRole(role)
	if err != nil {
		return chain.Address{}, access.Role{}, err
	}
	return addr, rl, nil
}

// --- factory ---

func (a *API) factoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.town.FactoryStats(r.Context())
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	owner, err := chain.ParseAddress(r.PathValue("owner"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	salt, err := parseUint(r.URL.Query().Get("salt"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.town.Wallet(r.Context(), owner, salt)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) createWallet(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req walletRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := a.town.CreateWallet(r.Context(), caller, req.Owner, req.Salt)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "wallet.create", map[string]any{"caller": caller.Hex(), "owner": req.Owner.Hex(), "salt": req.Salt, "wallet": addr.Hex()})
	rec, err := a.town.Wallet(r.Context(), req.Owner, req.Salt)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// --- protocol operators ---

func (a *API) accrueInterest(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req accrueRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Interest == nil || req.Interest.Sign() <= 0 {
		writeError(w, r, http.StatusBadRequest, "interest must be positive")
		return
	}
	asset := req.Asset
	if asset == chain.ZeroAddress {
		asset = town.GoldAddress
	}
	if err := a.town.AccrueInterest(r.Context(), caller, req.Depositor, asset, req.Interest); err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "lending.accrue", map[string]any{
		"caller":    caller.Hex(),
		"depositor": req.Depositor.Hex(),
		"asset":     asset.Hex(),
		"interest":  req.Interest.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"depositor": req.Depositor, "asset": asset, "interest": req.Interest})
}

func (a *API) drawLottery(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	var req drawRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.town.DrawLottery(r.Context(), caller, req.Winner); err != nil {
		handleTownError(w, r, err)
		return
	}
	a.audit(r, "lottery.draw", map[string]any{"caller": caller.Hex(), "winner": req.Winner.Hex()})
	writeJSON(w, http.StatusOK, map[string]any{"winner": req.Winner})
}

func (a *API) tokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, err := resolveToken(r.PathValue("token"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	holder, err := chain.ParseAddress(r.PathValue("holder"))
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	bal, err := a.town.TokenBalance(r.Context(), tok, holder)
	if err != nil {
		handleTownError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "holder": holder, "balance": bal})
}

func resolveToken(s string) (chain.Address, error) {
	switch strings.ToLower(s) {
	case "gold", "gld":
		return town.GoldAddress, nil
	case "gem":
		return town.GemAddress, nil
	}
	return chain.ParseAddress(s)
}

func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}
