package access

import (
	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigHasRole      = "hasRole(bytes32,address)"
	SigGetRoleAdmin = "getRoleAdmin(bytes32)"
	SigGrantRole    = "grantRole(bytes32,address)"
	SigRevokeRole   = "revokeRole(bytes32,address)"
	SigRenounceRole = "renounceRole(bytes32,address)"
	SigPaused       = "paused()"
	SigPause        = "pause()"
	SigUnpause      = "unpause()"
)

// Route exposes role management on r. Pause methods are added only when
// pausable is set, since not every contract honours the flag.
func (c *Control) Route(r *abi.Router, pausable bool) {
	r.Handle(SigHasRole, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			role    Role
			account chain.Address
		)
		if err := abi.Unpack(p, &role, &account); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(c.HasRole(role, account))
	})
	r.Handle(SigGetRoleAdmin, func(env *chain.Env, p []byte) ([]byte, error) {
		var role Role
		if err := abi.Unpack(p, &role); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(c.GetRoleAdmin(role))
	})
	roleOp := func(op func(*chain.Env, Role, chain.Address) error) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var (
				role    Role
				account chain.Address
			)
			if err := abi.Unpack(p, &role, &account); err != nil {
				return nil, err
			}
			return nil, op(env, role, account)
		}
	}
	r.Handle(SigGrantRole, roleOp(c.GrantRole))
	r.Handle(SigRevokeRole, roleOp(c.RevokeRole))
	r.Handle(SigRenounceRole, roleOp(c.RenounceRole))
	if !pausable {
		return
	}
	r.Handle(SigPaused, func(env *chain.Env, p []byte) ([]byte, error) {
		return abi.EncodeReturn(c.Paused())
	})
	r.Handle(SigPause, func(env *chain.Env, p []byte) ([]byte, error) {
		return nil, c.Pause(env)
	})
	r.Handle(SigUnpause, func(env *chain.Env, p []byte) ([]byte, error) {
		return nil, c.Unpause(env)
	})
}

// Client drives the role surface of any contract that routes it.
type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) HasRole(env *chain.Env, role Role, account chain.Address) (bool, error) {
	return abi.Returns[bool](c.Read(env, SigHasRole, role, account))
}

func (c Client) GetRoleAdmin(env *chain.Env, role Role) (Role, error) {
	return abi.Returns[Role](c.Read(env, SigGetRoleAdmin, role))
}

func (c Client) GrantRole(env *chain.Env, role Role, account chain.Address) error {
	_, err := c.Send(env, nil, SigGrantRole, role, account)
	return err
}

func (c Client) RevokeRole(env *chain.Env, role Role, account chain.Address) error {
	_, err := c.Send(env, nil, SigRevokeRole, role, account)
	return err
}

func (c Client) RenounceRole(env *chain.Env, role Role, account chain.Address) error {
	_, err := c.Send(env, nil, SigRenounceRole, role, account)
	return err
}

func (c Client) Paused(env *chain.Env) (bool, error) {
	return abi.Returns[bool](c.Read(env, SigPaused))
}

func (c Client) Pause(env *chain.Env) error {
	_, err := c.Send(env, nil, SigPause)
	return err
}

func (c Client) Unpause(env *chain.Env) error {
	_, err := c.Send(env, nil, SigUnpause)
	return err
}
