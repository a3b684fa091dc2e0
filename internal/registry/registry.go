// Package registry maps building types to strategy adapters and forwards
// prepare calls to whichever adapter is current.
package registry

import (
	"errors"
	"fmt"
	"time"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
)

var CodeHash = chain.CodeHashOf("registry")

var (
	ErrAlreadyRegistered = errors.New("adapter already registered")
	ErrNotRegistered     = errors.New("adapter not registered")
	ErrInvalidAdapter    = errors.New("invalid adapter")
	ErrEmptyBuildingType = errors.New("empty building type")
)

type Entry struct {
	BuildingType string        `json:"building_type" cbor:"building_type"`
	Adapter      chain.Address `json:"adapter" cbor:"adapter"`
	RegisteredAt time.Time     `json:"registered_at" cbor:"registered_at"`
}

type Registry struct {
	*access.Control
	self    chain.Address
	entries chain.Map[string, Entry]
	order   chain.List[string]
	index   chain.Map[string, int]
	router  *abi.Router
}

// Deploy installs a registry at addr. admin receives DEFAULT_ADMIN,
// ADAPTER_MANAGER_ROLE and PAUSER_ROLE.
func Deploy(env *chain.Env, addr, admin chain.Address) (*Registry, error) {
	var r *Registry
	err := env.Create(addr, CodeHash, func(ctor *chain.Env) (chain.Contract, error) {
		ac, err := access.New(ctor, admin, access.AdapterManagerRole, access.PauserRole)
		if err != nil {
			return nil, err
		}
		r = &Registry{Control: ac, self: addr}
		r.router = r.routes()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Address() chain.Address { return r.self }

func (r *Registry) Call(env *chain.Env, data []byte) ([]byte, error) {
	return r.router.Dispatch(env, data)
}

func (r *Registry) guardMutation(env *chain.Env) error {
	if err := r.CheckRole(env, access.AdapterManagerRole); err != nil {
		return err
	}
	return r.WhenNotPaused()
}

func (r *Registry) RegisterAdapter(env *chain.Env, buildingType string, adapterAddr chain.Address) error {
	if err := r.guardMutation(env); err != nil {
		return err
	}
	if buildingType == "" {
		return ErrEmptyBuildingType
	}
	if r.entries.Has(buildingType) {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, buildingType)
	}
	if err := r.validateAdapter(env, buildingType, adapterAddr); err != nil {
		return err
	}
	entry := Entry{BuildingType: buildingType, Adapter: adapterAddr, RegisteredAt: env.Time()}
	if err := r.entries.Set(env, buildingType, entry); err != nil {
		return err
	}
	if err := r.index.Set(env, buildingType, r.order.Len()); err != nil {
		return err
	}
	if err := r.order.Append(env, buildingType); err != nil {
		return err
	}
	return env.Emit("AdapterRegistered", map[string]any{
		"building_type": buildingType,
		"adapter":       adapterAddr.Hex(),
	})
}

// UpgradeAdapter swaps the implementation; the next prepare call uses it.
func (r *Registry) UpgradeAdapter(env *chain.Env, buildingType string, newAdapter chain.Address) error {
	if err := r.guardMutation(env); err != nil {
		return err
	}
	entry, ok := r.entries.Get(buildingType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, buildingType)
	}
	if err := r.validateAdapter(env, buildingType, newAdapter); err != nil {
		return err
	}
	old := entry.Adapter
	entry.Adapter = newAdapter
	entry.RegisteredAt = env.Time()
	if err := r.entries.Set(env, buildingType, entry); err != nil {
		return err
	}
	return env.Emit("AdapterUpgraded", map[string]any{
		"building_type": buildingType,
		"old_adapter":   old.Hex(),
		"new_adapter":   newAdapter.Hex(),
	})
}

func (r *Registry) RemoveAdapter(env *chain.Env, buildingType string) error {
	if err := r.guardMutation(env); err != nil {
		return err
	}
	entry, ok := r.entries.Get(buildingType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, buildingType)
	}
	// Swap the last type into the removed slot, then pop.
	idx, _ := r.index.Get(buildingType)
	last := r.order.Len() - 1
	if idx != last {
		moved := r.order.At(last)
		if err := r.order.Put(env, idx, moved); err != nil {
			return err
		}
		if err := r.index.Set(env, moved, idx); err != nil {
			return err
		}
	}
	if _, err := r.order.Pop(env); err != nil {
		return err
	}
	if err := r.index.Delete(env, buildingType); err != nil {
		return err
	}
	if err := r.entries.Delete(env, buildingType); err != nil {
		return err
	}
	return env.Emit("AdapterRemoved", map[string]any{
		"building_type": buildingType,
		"adapter":       entry.Adapter.Hex(),
	})
}

// validateAdapter runs the capability check: code must exist and the
// metadata call must report the same non-empty building type.
func (r *Registry) validateAdapter(env *chain.Env, buildingType string, addr chain.Address) error {
	if addr == chain.ZeroAddress {
		return fmt.Errorf("%w: zero address", ErrInvalidAdapter)
	}
	if !env.HasCode(addr) {
		return fmt.Errorf("%w: no code at %s", ErrInvalidAdapter, addr)
	}
	reported, err := adapter.NewClient(addr).BuildingType(env)
	if err != nil {
		return fmt.Errorf("%w: metadata call failed: %v", ErrInvalidAdapter, err)
	}
	if reported == "" {
		return fmt.Errorf("%w: empty building type", ErrInvalidAdapter)
	}
	if reported != buildingType {
		return fmt.Errorf("%w: adapter reports %q, registering %q", ErrInvalidAdapter, reported, buildingType)
	}
	return nil
}

// resolve is consulted on every prepare call; nothing caches its result.
func (r *Registry) resolve(buildingType string) (adapter.Client, error) {
	if err := r.WhenNotPaused(); err != nil {
		return adapter.Client{}, err
	}
	entry, ok := r.entries.Get(buildingType)
	if !ok {
		return adapter.Client{}, fmt.Errorf("%w: %q", ErrNotRegistered, buildingType)
	}
	return adapter.NewClient(entry.Adapter), nil
}

func (r *Registry) PreparePlace(env *chain.Env, buildingType string, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	a, err := r.resolve(buildingType)
	if err != nil {
		return chain.CallBatch{}, err
	}
	return a.PreparePlace(env, user, account, params)
}

func (r *Registry) PrepareHarvest(env *chain.Env, buildingType string, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	a, err := r.resolve(buildingType)
	if err != nil {
		return chain.CallBatch{}, err
	}
	return a.PrepareHarvest(env, user, account, buildingID, params)
}

func (r *Registry) PrepareDemolish(env *chain.Env, buildingType string, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	a, err := r.resolve(buildingType)
	if err != nil {
		return chain.CallBatch{}, err
	}
	return a.PrepareDemolish(env, user, account, buildingID, params)
}

func (r *Registry) GetAdapter(buildingType string) (chain.Address, error) {
	entry, ok := r.entries.Get(buildingType)
	if !ok {
		return chain.Address{}, fmt.Errorf("%w: %q", ErrNotRegistered, buildingType)
	}
	return entry.Adapter, nil
}

func (r *Registry) GetEntry(buildingType string) (Entry, bool) {
	return r.entries.Get(buildingType)
}

func (r *Registry) IsRegistered(buildingType string) bool {
	return r.entries.Has(buildingType)
}

// GetAllBuildingTypes lists types in registration order, except that a
// removal moves the last type into the freed slot.
func (r *Registry) GetAllBuildingTypes() []string {
	return r.order.Items()
}

func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, r.order.Len())
	for _, bt := range r.order.Items() {
		e, _ := r.entries.Get(bt)
		out = append(out, e)
	}
	return out
}

func (r *Registry) AdapterCount() int { return r.order.Len() }
