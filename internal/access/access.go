// Package access is the role and pause store shared by the town's contracts.
package access

import (
	"errors"
	"fmt"

	"defitown.org/internal/chain"
)

// Role identifies a permission; it is the keccak256 hash of its name.
type Role = chain.Hash

// DefaultAdminRole administers itself and every role without an explicit admin.
var DefaultAdminRole Role

var (
	AdapterManagerRole = RoleFor("ADAPTER_MANAGER_ROLE")
	PauserRole         = RoleFor("PAUSER_ROLE")
	AdminRole          = RoleFor("ADMIN_ROLE")
	DeployerRole       = RoleFor("DEPLOYER_ROLE")
)

var knownRoles = map[Role]string{
	DefaultAdminRole:   "DEFAULT_ADMIN",
	AdapterManagerRole: "ADAPTER_MANAGER_ROLE",
	PauserRole:         "PAUSER_ROLE",
	AdminRole:          "ADMIN_ROLE",
	DeployerRole:       "DEPLOYER_ROLE",
}

func RoleFor(name string) Role {
	return chain.Keccak256([]byte(name))
}

// RoleName returns the readable name of a well-known role, or its hex.
func RoleName(r Role) string {
	if n, ok := knownRoles[r]; ok {
		return n
	}
	return r.Hex()
}

// ParseRole accepts a well-known role name or a 0x-prefixed role hash.
func ParseRole(s string) (Role, error) {
	for r, n := range knownRoles {
		if n == s {
			return r, nil
		}
	}
	if s == "DEFAULT_ADMIN_ROLE" {
		return DefaultAdminRole, nil
	}
	var r Role
	if err := r.UnmarshalText([]byte(s)); err != nil {
		return Role{}, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrEnforcedPause   = errors.New("enforced pause")
	ErrAlreadyPaused   = errors.New("already paused")
	ErrNotPaused       = errors.New("not paused")
	ErrBadConfirmation = errors.New("can only renounce roles for self")
)

// MissingRoleError reports which role an account lacked.
type MissingRoleError struct {
	Account chain.Address
	Role    Role
}

func (e *MissingRoleError) Error() string {
	return fmt.Sprintf("unauthorized: account %s is missing role %s", e.Account, RoleName(e.Role))
}

func (e *MissingRoleError) Unwrap() error { return ErrUnauthorized }

type member struct {
	role    Role
	account chain.Address
}

// Control holds role membership, role admins and the pause flag of one
// contract. It must be driven from the owning contract's frame.
type Control struct {
	members chain.Map[member, struct{}]
	admins  chain.Map[Role, Role]
	paused  chain.Value[bool]
}

// New grants owner DEFAULT_ADMIN plus every bootstrap role. env is the
// constructor frame of the owning contract.
func New(env *chain.Env, owner chain.Address, bootstrap ...Role) (*Control, error) {
	c := &Control{}
	for _, r := range append([]Role{DefaultAdminRole}, bootstrap...) {
		if err := c.grant(env, r, owner); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Control) HasRole(role Role, account chain.Address) bool {
	return c.members.Has(member{role, account})
}

func (c *Control) GetRoleAdmin(role Role) Role {
	admin, _ := c.admins.Get(role)
	return admin
}

// CheckRole fails unless the immediate caller holds role.
func (c *Control) CheckRole(env *chain.Env, role Role) error {
	return c.checkRole(role, env.Caller())
}

func (c *Control) checkRole(role Role, account chain.Address) error {
	if !c.HasRole(role, account) {
		return &MissingRoleError{Account: account, Role: role}
	}
	return nil
}

// GrantRole is idempotent: granting a held role succeeds without an event.
func (c *Control) GrantRole(env *chain.Env, role Role, account chain.Address) error {
	if err := c.CheckRole(env, c.GetRoleAdmin(role)); err != nil {
		return err
	}
	return c.grant(env, role, account)
}

func (c *Control) RevokeRole(env *chain.Env, role Role, account chain.Address) error {
	if err := c.CheckRole(env, c.GetRoleAdmin(role)); err != nil {
		return err
	}
	return c.revoke(env, role, account)
}

// RenounceRole drops a role held by the caller; confirm must be the caller.
func (c *Control) RenounceRole(env *chain.Env, role Role, confirm chain.Address) error {
	if confirm != env.Caller() {
		return ErrBadConfirmation
	}
	return c.revoke(env, role, confirm)
}

// SetRoleAdmin has no access check; contracts call it while configuring themselves.
func (c *Control) SetRoleAdmin(env *chain.Env, role, admin Role) error {
	prev := c.GetRoleAdmin(role)
	if err := c.admins.Set(env, role, admin); err != nil {
		return err
	}
	return env.Emit("RoleAdminChanged", map[string]any{
		"role":           RoleName(role),
		"previous_admin": RoleName(prev),
		"new_admin":      RoleName(admin),
	})
}

func (c *Control) grant(env *chain.Env, role Role, account chain.Address) error {
	if c.HasRole(role, account) {
		return nil
	}
	if err := c.members.Set(env, member{role, account}, struct{}{}); err != nil {
		return err
	}
	return env.Emit("RoleGranted", map[string]any{
		"role":    RoleName(role),
		"account": account.Hex(),
		"sender":  env.Caller().Hex(),
	})
}

func (c *Control) revoke(env *chain.Env, role Role, account chain.Address) error {
	if !c.HasRole(role, account) {
		return nil
	}
	if err := c.members.Delete(env, member{role, account}); err != nil {
		return err
	}
	return env.Emit("RoleRevoked", map[string]any{
		"role":    RoleName(role),
		"account": account.Hex(),
		"sender":  env.Caller().Hex(),
	})
}

func (c *Control) Paused() bool { return c.paused.Get() }

// WhenNotPaused guards state-changing entry points.
func (c *Control) WhenNotPaused() error {
	if c.paused.Get() {
		return ErrEnforcedPause
	}
	return nil
}

// Pause requires PAUSER_ROLE. Pausing twice is an error, not a no-op.
func (c *Control) Pause(env *chain.Env) error {
	if err := c.CheckRole(env, PauserRole); err != nil {
		return err
	}
	if c.paused.Get() {
		return ErrAlreadyPaused
	}
	if err := c.paused.Set(env, true); err != nil {
		return err
	}
	return env.Emit("Paused", map[string]any{"account": env.Caller().Hex()})
}

func (c *Control) Unpause(env *chain.Env) error {
	if err := c.CheckRole(env, PauserRole); err != nil {
		return err
	}
	if !c.paused.Get() {
		return ErrNotPaused
	}
	if err := c.paused.Set(env, false); err != nil {
		return err
	}
	return env.Emit("Unpaused", map[string]any{"account": env.Caller().Hex()})
}
