package httpapi

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/adapter"
	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/factory"
	"defitown.org/internal/protocols/amm"
	"defitown.org/internal/protocols/lending"
	"defitown.org/internal/protocols/lottery"
	"defitown.org/internal/protocols/token"
	"defitown.org/internal/registry"
	"defitown.org/internal/store"
	"defitown.org/internal/strategy"
	"defitown.org/internal/town"
)

type errorClass struct {
	status int
	errs   []error
}

// Order matters. A failed batch wraps the protocol error that stopped it and
// is matched in statusFor before this table.
var errorClasses = []errorClass{
	{http.StatusUnauthorized, []error{auth.ErrUnauthorized, auth.ErrInvalidToken, auth.ErrInvalidCredentials}},
	{http.StatusForbidden, []error{
		access.ErrUnauthorized, access.ErrBadConfirmation,
		strategy.ErrNotOwner, core.ErrNotWallet, core.ErrNotBuildingAccount,
	}},
	{http.StatusNotFound, []error{
		registry.ErrNotRegistered, core.ErrBuildingNotFound, core.ErrNoTownHall,
		town.ErrNoWallet, chain.ErrNoCode,
	}},
	{http.StatusConflict, []error{
		access.ErrEnforcedPause, access.ErrAlreadyPaused, access.ErrNotPaused,
		registry.ErrAlreadyRegistered, core.ErrTownHallExists, core.ErrTileOccupied,
		core.ErrBuildingInactive, lottery.ErrNoTickets, lottery.ErrEmptyPot,
	}},
	{http.StatusBadRequest, []error{
		adapter.ErrInvalidParams, strategy.ErrUnknownType, strategy.ErrWrongType,
		chain.ErrInvalidAddress, chain.ErrLengthMismatch,
		account.ErrInvalidOwner, factory.ErrInvalidOwner, factory.ErrInvalidEntryPoint,
		registry.ErrInvalidAdapter, registry.ErrEmptyBuildingType,
		core.ErrInvalidAmount, token.ErrInvalidAmount, lending.ErrInvalidAmount,
		amm.ErrInvalidAmount, lottery.ErrInvalidCount,
	}},
	{http.StatusUnprocessableEntity, []error{
		token.ErrInsufficientBalance, token.ErrInsufficientAllowance,
		lending.ErrUnfundedInterest, chain.ErrInsufficientBalance,
	}},
	{http.StatusServiceUnavailable, []error{store.ErrSchemaMissing}},
}

func statusFor(err error) int {
	if errors.Is(err, account.ErrExecutionFailed) {
		return http.StatusUnprocessableEntity
	}
	var missing *access.MissingRoleError
	if errors.As(err, &missing) {
		return http.StatusForbidden
	}
	for _, c := range errorClasses {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.status
			}
		}
	}
	return http.StatusInternalServerError
}

// handleTownError writes err with the status its sentinel maps to. Internal
// errors are logged and hidden.
func handleTownError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger().Error("request failed", errorFields(r, err)...)
		writeError(w, r, code, "internal error")
		return
	}
	writeError(w, r, code, err.Error())
}

var grpcCodes = map[int]codes.Code{
	http.StatusBadRequest:          codes.InvalidArgument,
	http.StatusUnauthorized:        codes.Unauthenticated,
	http.StatusForbidden:           codes.PermissionDenied,
	http.StatusNotFound:            codes.NotFound,
	http.StatusConflict:            codes.FailedPrecondition,
	http.StatusUnprocessableEntity: codes.Aborted,
	http.StatusServiceUnavailable:  codes.Unavailable,
}

// grpcStatus converts a town error into a gRPC status error. Errors that
// already carry a status pass through.
func grpcStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, ok := grpcCodes[statusFor(err)]
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
