// Package adapter defines the capability every strategy adapter provides:
// static metadata plus pure preparation of call batches.
package adapter

import (
	"errors"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

// CodeHash identifies adapter code deployed through Export.
var CodeHash = chain.CodeHashOf("adapter")

var ErrInvalidParams = errors.New("invalid adapter params")

// Protocol is implemented once per building type. Prepare methods read
// whatever state they need to size amounts but must never mutate it; they are
// always reached through static calls so an attempt fails with
// chain.ErrWriteProtection.
type Protocol interface {
	BuildingType() string
	Treasury() chain.Address
	PreparePlace(env *chain.Env, user, account chain.Address, params []byte) (chain.CallBatch, error)
	PrepareHarvest(env *chain.Env, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error)
	PrepareDemolish(env *chain.Env, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error)
}

const (
	SigGetBuildingType = "getBuildingType()"
	SigGetTreasury     = "getTreasury()"
	SigPreparePlace    = "preparePlace(address,address,bytes)"
	SigPrepareHarvest  = "prepareHarvest(address,address,uint256,bytes)"
	SigPrepareDemolish = "prepareDemolish(address,address,uint256,bytes)"
)

// Export serves p on calldata.
func Export(p Protocol) chain.Contract {
	r := abi.NewRouter()
	r.Handle(SigGetBuildingType, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(p.BuildingType())
	})
	r.Handle(SigGetTreasury, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(p.Treasury())
	})
	r.Handle(SigPreparePlace, func(env *chain.Env, payload []byte) ([]byte, error) {
		var (
			user, account chain.Address
			params        []byte
		)
		if err := abi.Unpack(payload, &user, &account, &params); err != nil {
			return nil, err
		}
		return encodeBatch(p.PreparePlace(env, user, account, params))
	})
	r.Handle(SigPrepareHarvest, func(env *chain.Env, payload []byte) ([]byte, error) {
		user, account, id, params, err := unpackBuildingCall(payload)
		if err != nil {
			return nil, err
		}
		return encodeBatch(p.PrepareHarvest(env, user, account, id, params))
	})
	r.Handle(SigPrepareDemolish, func(env *chain.Env, payload []byte) ([]byte, error) {
		user, account, id, params, err := unpackBuildingCall(payload)
		if err != nil {
			return nil, err
		}
		return encodeBatch(p.PrepareDemolish(env, user, account, id, params))
	})
	return chain.ContractFunc(r.Dispatch)
}

func unpackBuildingCall(payload []byte) (user, account chain.Address, id uint64, params []byte, err error) {
	err = abi.Unpack(payload, &user, &account, &id, &params)
	return
}

// Batches travel as the triple (targets, values, datas).
func encodeBatch(b chain.CallBatch, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return abi.EncodeReturn(b.Targets, b.Values, b.Datas)
}

// DecodeBatch reads a batch returned by a prepare call.
func DecodeBatch(out []byte, err error) (chain.CallBatch, error) {
	if err != nil {
		return chain.CallBatch{}, err
	}
	var b chain.CallBatch
	if err := abi.DecodeReturn(out, &b.Targets, &b.Values, &b.Datas); err != nil {
		return chain.CallBatch{}, err
	}
	return b, b.Validate()
}

// Client reaches an adapter through static calls only.
type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) BuildingType(env *chain.Env) (string, error) {
	return abi.Returns[string](c.Read(env, SigGetBuildingType))
}

func (c Client) Treasury(env *chain.Env) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigGetTreasury))
}

func (c Client) PreparePlace(env *chain.Env, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	return DecodeBatch(c.Read(env, SigPreparePlace, user, account, params))
}

func (c Client) PrepareHarvest(env *chain.Env, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	return DecodeBatch(c.Read(env, SigPrepareHarvest, user, account, buildingID, params))
}

func (c Client) PrepareDemolish(env *chain.Env, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	return DecodeBatch(c.Read(env, SigPrepareDemolish, user, account, buildingID, params))
}
