// Package strategy holds the building adapters: each turns a building action
// into the batch of protocol calls a user's account runs.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
)

const (
	TypeBank    = "bank"
	TypeShop    = "shop"
	TypeLottery = "lottery"
)

var (
	ErrNotOwner    = errors.New("building not owned by user and account")
	ErrWrongType   = errors.New("building has another type")
	ErrUnknownType = errors.New("unknown building type")
)

// Tile is the map position shared by every placement.
type Tile struct {
	X int64 `json:"x" cbor:"x"`
	Y int64 `json:"y" cbor:"y"`
}

type BankParams struct {
	Tile
	Asset  chain.Address `json:"asset" cbor:"asset"`
	Amount *big.Int      `json:"amount" cbor:"amount"`
}

type ShopParams struct {
	Tile
	AmountA *big.Int `json:"amount_a" cbor:"amount_a"`
	AmountB *big.Int `json:"amount_b" cbor:"amount_b"`
}

type LotteryParams struct {
	Tile
	Tickets uint64 `json:"tickets" cbor:"tickets"`
}

func EncodeBankParams(p BankParams) ([]byte, error)       { return abi.Marshal(p) }
func EncodeShopParams(p ShopParams) ([]byte, error)       { return abi.Marshal(p) }
func EncodeLotteryParams(p LotteryParams) ([]byte, error) { return abi.Marshal(p) }

// ParamsFromJSON re-encodes a JSON placement request for buildingType into
// the adapter's wire form.
func ParamsFromJSON(buildingType string, raw []byte) ([]byte, error) {
	var v any
	switch buildingType {
	case TypeBank:
		v = &BankParams{}
	case TypeShop:
		v = &ShopParams{}
	case TypeLottery:
		v = &LotteryParams{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, buildingType)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%w: %v", adapter.ErrInvalidParams, err)
		}
	}
	return abi.Marshal(v)
}

func decodeParams(raw []byte, v any) error {
	if err := abi.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrInvalidParams, err)
	}
	return nil
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// base carries what every adapter shares: its metadata and the core ledger
// its batches record into.
type base struct {
	buildingType string
	treasury     chain.Address
	core         chain.Address
}

func (b base) BuildingType() string    { return b.buildingType }
func (b base) Treasury() chain.Address { return b.treasury }

// building loads id and checks it is an active building of this type that
// belongs to user through account.
func (b base) building(env *chain.Env, user, account chain.Address, id uint64) (core.Building, error) {
	bld, err := core.NewClient(b.core).Buildings(env, id)
	if err != nil {
		return core.Building{}, err
	}
	if bld.Owner != user || bld.Account != account {
		return core.Building{}, fmt.Errorf("%w: building %d", ErrNotOwner, id)
	}
	if bld.BuildingType != b.buildingType {
		return core.Building{}, fmt.Errorf("%w: building %d is %q", ErrWrongType, id, bld.BuildingType)
	}
	if !bld.Active {
		return core.Building{}, fmt.Errorf("%w: %d", core.ErrBuildingInactive, id)
	}
	return bld, nil
}

// batch collects calls, stopping at the first build error.
type batch struct {
	b   chain.CallBatch
	err error
}

func (bt *batch) add(call chain.Call, err error) {
	if bt.err != nil {
		return
	}
	if err != nil {
		bt.err = err
		return
	}
	bt.b.Append(call)
}

func (bt *batch) done() (chain.CallBatch, error) {
	if bt.err != nil {
		return chain.CallBatch{}, bt.err
	}
	return bt.b, nil
}

func deploy(env *chain.Env, addr chain.Address, p adapter.Protocol) error {
	return env.Create(addr, adapter.CodeHash, func(*chain.Env) (chain.Contract, error) {
		return adapter.Export(p), nil
	})
}
