// Package core is the town ledger: it records buildings and provisions a
// user's execution account when their town hall is founded.
package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
	"defitown.org/internal/factory"
)

var CodeHash = chain.CodeHashOf("town-core")

const TownHall = "townhall"

var (
	ErrTownHallExists     = errors.New("town hall already exists")
	ErrTileOccupied       = errors.New("tile occupied")
	ErrNotWallet          = errors.New("caller is not a factory wallet")
	ErrNotBuildingAccount = errors.New("caller does not own the building")
	ErrBuildingNotFound   = errors.New("building not found")
	ErrBuildingInactive   = errors.New("building inactive")
	ErrNoTownHall         = errors.New("no town hall")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidFactory     = errors.New("invalid factory")
)

type Building struct {
	ID           uint64        `json:"id" cbor:"id"`
	Owner        chain.Address `json:"owner" cbor:"owner"`
	Account      chain.Address `json:"account" cbor:"account"`
	BuildingType string        `json:"building_type" cbor:"building_type"`
	Asset        chain.Address `json:"asset" cbor:"asset"`
	Amount       *big.Int      `json:"amount" cbor:"amount"`
	X            int64         `json:"x" cbor:"x"`
	Y            int64         `json:"y" cbor:"y"`
	Active       bool          `json:"active" cbor:"active"`
	CreatedAt    time.Time     `json:"created_at" cbor:"created_at"`
}

func (b Building) clone() Building {
	if b.Amount != nil {
		b.Amount = new(big.Int).Set(b.Amount)
	}
	return b
}

type tile struct{ x, y int64 }

type Core struct {
	self      chain.Address
	factory   chain.Address
	buildings chain.Map[uint64, Building]
	byOwner   chain.Map[chain.Address, []uint64]
	tiles     chain.Map[tile, uint64]
	townHalls chain.Map[chain.Address, uint64]
	count     chain.Value[uint64]
	router    *abi.Router
}

func Deploy(env *chain.Env, addr, factoryAddr chain.Address) (*Core, error) {
	if factoryAddr == chain.ZeroAddress {
		return nil, ErrInvalidFactory
	}
	var c *Core
	err := env.Create(addr, CodeHash, func(ctor *chain.Env) (chain.Contract, error) {
		c = &Core{self: addr, factory: factoryAddr}
		c.router = c.routes()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) Call(env *chain.Env, data []byte) ([]byte, error) {
	return c.router.Dispatch(env, data)
}

func (c *Core) Address() chain.Address { return c.self }
func (c *Core) Factory() chain.Address { return c.factory }

// CreateTownHall founds the caller's town. It is the one path that
// provisions an execution account automatically.
func (c *Core) CreateTownHall(env *chain.Env, x, y int64) (uint64, error) {
	owner := env.Caller()
	if c.townHalls.Has(owner) {
		return 0, ErrTownHallExists
	}
	if err := c.checkTile(x, y); err != nil {
		return 0, err
	}
	wallet, err := factory.NewClient(c.factory).CreateOrGetWallet(env, owner)
	if err != nil {
		return 0, fmt.Errorf("provision wallet: %w", err)
	}
	id, err := c.record(env, Building{
		Owner:        owner,
		Account:      wallet,
		BuildingType: TownHall,
		Amount:       new(big.Int),
		X:            x,
		Y:            y,
	})
	if err != nil {
		return 0, err
	}
	return id, c.townHalls.Set(env, owner, id)
}

// RecordBuilding is called by a factory wallet, usually as the last call of a
// place batch. The owner is whoever the factory says owns that wallet.
func (c *Core) RecordBuilding(env *chain.Env, buildingType string, asset chain.Address, amount *big.Int, x, y int64) (uint64, error) {
	wallet := env.Caller()
	fc := factory.NewClient(c.factory)
	ok, err := fc.IsFactoryWallet(env, wallet)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotWallet, wallet)
	}
	owner, err := fc.GetWalletOwner(env, wallet)
	if err != nil {
		return 0, err
	}
	if !c.townHalls.Has(owner) {
		return 0, fmt.Errorf("%w: %s", ErrNoTownHall, owner)
	}
	if amount == nil || amount.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	if err := c.checkTile(x, y); err != nil {
		return 0, err
	}
	return c.record(env, Building{
		Owner:        owner,
		Account:      wallet,
		BuildingType: buildingType,
		Asset:        asset,
		Amount:       new(big.Int).Set(amount),
		X:            x,
		Y:            y,
	})
}

func (c *Core) checkTile(x, y int64) error {
	if id, ok := c.tiles.Get(tile{x, y}); ok {
		return fmt.Errorf("%w: (%d,%d) holds building %d", ErrTileOccupied, x, y, id)
	}
	return nil
}

func (c *Core) record(env *chain.Env, b Building) (uint64, error) {
	id := c.count.Get() + 1
	b.ID = id
	b.Active = true
	b.CreatedAt = env.Time()
	if err := c.count.Set(env, id); err != nil {
		return 0, err
	}
	if err := c.buildings.Set(env, id, b); err != nil {
		return 0, err
	}
	ids, _ := c.byOwner.Get(b.Owner)
	if err := c.byOwner.Set(env, b.Owner, append(append([]uint64(nil), ids...), id)); err != nil {
		return 0, err
	}
	if err := c.tiles.Set(env, tile{b.X, b.Y}, id); err != nil {
		return 0, err
	}
	return id, env.Emit("BuildingPlaced", map[string]any{
		"id":            id,
		"owner":         b.Owner.Hex(),
		"account":       b.Account.Hex(),
		"building_type": b.BuildingType,
		"asset":         b.Asset.Hex(),
		"amount":        b.Amount.String(),
		"x":             b.X,
		"y":             b.Y,
	})
}

func (c *Core) ownedBy(env *chain.Env, id uint64) (Building, error) {
	b, ok := c.buildings.Get(id)
	if !ok {
		return Building{}, fmt.Errorf("%w: %d", ErrBuildingNotFound, id)
	}
	if b.Account != env.Caller() {
		return Building{}, fmt.Errorf("%w: building %d", ErrNotBuildingAccount, id)
	}
	if !b.Active {
		return Building{}, fmt.Errorf("%w: %d", ErrBuildingInactive, id)
	}
	return b, nil
}

// DeactivateBuilding closes a building and frees its tile.
func (c *Core) DeactivateBuilding(env *chain.Env, id uint64) error {
	b, err := c.ownedBy(env, id)
	if err != nil {
		return err
	}
	b.Active = false
	if err := c.buildings.Set(env, id, b); err != nil {
		return err
	}
	if err := c.tiles.Delete(env, tile{b.X, b.Y}); err != nil {
		return err
	}
	return env.Emit("BuildingDeactivated", map[string]any{"id": id, "owner": b.Owner.Hex()})
}

func (c *Core) UpdateBuildingAmount(env *chain.Env, id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b, err := c.ownedBy(env, id)
	if err != nil {
		return err
	}
	b.Amount = new(big.Int).Set(amount)
	if err := c.buildings.Set(env, id, b); err != nil {
		return err
	}
	return env.Emit("BuildingUpdated", map[string]any{"id": id, "amount": amount.String()})
}

func (c *Core) Buildings(id uint64) (Building, error) {
	b, ok := c.buildings.Get(id)
	if !ok {
		return Building{}, fmt.Errorf("%w: %d", ErrBuildingNotFound, id)
	}
	return b.clone(), nil
}

// GetUserBuildings returns every building, active or not, in creation order.
func (c *Core) GetUserBuildings(owner chain.Address) []Building {
	ids, _ := c.byOwner.Get(owner)
	out := make([]Building, 0, len(ids))
	for _, id := range ids {
		b, _ := c.buildings.Get(id)
		out = append(out, b.clone())
	}
	return out
}

func (c *Core) TownHallOf(owner chain.Address) (uint64, bool) {
	return c.townHalls.Get(owner)
}

func (c *Core) BuildingCount() uint64 { return c.count.Get() }
