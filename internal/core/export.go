package core

import (
	"bytes"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigCreateTownHall       = "createTownHall(int256,int256)"
	SigRecordBuilding       = "recordBuilding(string,address,uint256,int256,int256)"
	SigDeactivateBuilding   = "deactivateBuilding(uint256)"
	SigUpdateBuildingAmount = "updateBuildingAmount(uint256,uint256)"
	SigBuildings            = "buildings(uint256)"
	SigGetUserBuildings     = "getUserBuildings(address)"
	SigBuildingCount        = "buildingCount()"
)

func (c *Core) routes() *abi.Router {
	r := abi.NewRouter()
	r.Handle(SigCreateTownHall, func(env *chain.Env, p []byte) ([]byte, error) {
		var x, y int64
		if err := abi.Unpack(p, &x, &y); err != nil {
			return nil, err
		}
		id, err := c.CreateTownHall(env, x, y)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(id)
	})
	r.Handle(SigRecordBuilding, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			bt     string
			asset  chain.Address
			amount *big.Int
			x, y   int64
		)
		if err := abi.Unpack(p, &bt, &asset, &amount, &x, &y); err != nil {
			return nil, err
		}
		id, err := c.RecordBuilding(env, bt, asset, amount, x, y)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(id)
	})
	r.Handle(SigDeactivateBuilding, func(env *chain.Env, p []byte) ([]byte, error) {
		var id uint64
		if err := abi.Unpack(p, &id); err != nil {
			return nil, err
		}
		return nil, c.DeactivateBuilding(env, id)
	})
	r.Handle(SigUpdateBuildingAmount, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			id     uint64
			amount *big.Int
		)
		if err := abi.Unpack(p, &id, &amount); err != nil {
			return nil, err
		}
		return nil, c.UpdateBuildingAmount(env, id, amount)
	})
	r.Handle(SigBuildings, func(env *chain.Env, p []byte) ([]byte, error) {
		var id uint64
		if err := abi.Unpack(p, &id); err != nil {
			return nil, err
		}
		b, err := c.Buildings(id)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(b)
	})
	r.Handle(SigGetUserBuildings, func(env *chain.Env, p []byte) ([]byte, error) {
		var owner chain.Address
		if err := abi.Unpack(p, &owner); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(c.GetUserBuildings(owner))
	})
	r.Handle(SigBuildingCount, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(c.BuildingCount())
	})
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) CreateTownHall(env *chain.Env, x, y int64) (uint64, error) {
	return abi.Returns[uint64](c.Send(env, nil, SigCreateTownHall, x, y))
}

func (c Client) Buildings(env *chain.Env, id uint64) (Building, error) {
	return abi.Returns[Building](c.Read(env, SigBuildings, id))
}

func (c Client) GetUserBuildings(env *chain.Env, owner chain.Address) ([]Building, error) {
	return abi.Returns[[]Building](c.Read(env, SigGetUserBuildings, owner))
}

// RecordBuildingCall, DeactivateCall and UpdateAmountCall build batch entries
// for adapters; core calls are never made directly by users.
func RecordBuildingCall(coreAddr chain.Address, buildingType string, asset chain.Address, amount *big.Int, x, y int64) (chain.Call, error) {
	return abi.CallTo(coreAddr, nil, SigRecordBuilding, buildingType, asset, amount, x, y)
}

func DeactivateCall(coreAddr chain.Address, id uint64) (chain.Call, error) {
	return abi.CallTo(coreAddr, nil, SigDeactivateBuilding, id)
}

func UpdateAmountCall(coreAddr chain.Address, id uint64, amount *big.Int) (chain.Call, error) {
	return abi.CallTo(coreAddr, nil, SigUpdateBuildingAmount, id, amount)
}

// RecordedBuilding finds the recordBuilding call to coreAddr in an executed
// batch and decodes the building id from its result. ok is false when the
// batch recorded nothing.
func RecordedBuilding(coreAddr chain.Address, batch chain.CallBatch, results [][]byte) (id uint64, ok bool, err error) {
	sel := abi.SelectorOf(SigRecordBuilding)
	for i, target := range batch.Targets {
		if target != coreAddr || i >= len(batch.Datas) || i >= len(results) || !bytes.HasPrefix(batch.Datas[i], sel[:]) {
			continue
		}
		if err := abi.DecodeReturn(results[i], &id); err != nil {
			return 0, false, err
		}
		return id, true, nil
	}
	return 0, false, nil
}
