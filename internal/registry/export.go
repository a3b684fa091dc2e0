package registry

import (
	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
)

const (
	SigRegisterAdapter     = "registerAdapter(string,address)"
	SigUpgradeAdapter      = "upgradeAdapter(string,address)"
	SigRemoveAdapter       = "removeAdapter(string)"
	SigPreparePlace        = "preparePlace(string,address,address,bytes)"
	SigPrepareHarvest      = "prepareHarvest(string,address,address,uint256,bytes)"
	SigPrepareDemolish     = "prepareDemolish(string,address,address,uint256,bytes)"
	SigGetAdapter          = "getAdapter(string)"
	SigIsRegistered        = "isRegistered(string)"
	SigGetAllBuildingTypes = "getAllBuildingTypes()"
	SigAdapterCount        = "adapterCount()"
)

func (r *Registry) routes() *abi.Router {
	rt := abi.NewRouter()
	r.Route(rt, true)

	typeAndAddr := func(op func(*chain.Env, string, chain.Address) error) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var (
				bt   string
				addr chain.Address
			)
			if err := abi.Unpack(p, &bt, &addr); err != nil {
				return nil, err
			}
			return nil, op(env, bt, addr)
		}
	}
	rt.Handle(SigRegisterAdapter, typeAndAddr(r.RegisterAdapter))
	rt.Handle(SigUpgradeAdapter, typeAndAddr(r.UpgradeAdapter))
	rt.Handle(SigRemoveAdapter, func(env *chain.Env, p []byte) ([]byte, error) {
		var bt string
		if err := abi.Unpack(p, &bt); err != nil {
			return nil, err
		}
		return nil, r.RemoveAdapter(env, bt)
	})

	rt.Handle(SigPreparePlace, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			bt            string
			user, account chain.Address
			params        []byte
		)
		if err := abi.Unpack(p, &bt, &user, &account, &params); err != nil {
			return nil, err
		}
		return encodeBatch(r.PreparePlace(env, bt, user, account, params))
	})
	buildingOp := func(op func(*chain.Env, string, chain.Address, chain.Address, uint64, []byte) (chain.CallBatch, error)) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var (
				bt            string
				user, account chain.Address
				id            uint64
				params        []byte
			)
			if err := abi.Unpack(p, &bt, &user, &account, &id, &params); err != nil {
				return nil, err
			}
			return encodeBatch(op(env, bt, user, account, id, params))
		}
	}
	rt.Handle(SigPrepareHarvest, buildingOp(r.PrepareHarvest))
	rt.Handle(SigPrepareDemolish, buildingOp(r.PrepareDemolish))

	rt.Handle(SigGetAdapter, func(env *chain.Env, p []byte) ([]byte, error) {
		var bt string
		if err := abi.Unpack(p, &bt); err != nil {
			return nil, err
		}
		addr, err := r.GetAdapter(bt)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(addr)
	})
	rt.Handle(SigIsRegistered, func(env *chain.Env, p []byte) ([]byte, error) {
		var bt string
		if err := abi.Unpack(p, &bt); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(r.IsRegistered(bt))
	})
	rt.Handle(SigGetAllBuildingTypes, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(r.GetAllBuildingTypes())
	})
	rt.Handle(SigAdapterCount, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(r.AdapterCount())
	})
	return rt
}

func encodeBatch(b chain.CallBatch, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return abi.EncodeReturn(b.Targets, b.Values, b.Datas)
}

// Client is the calldata binding used by other contracts and transactions.
type Client struct {
	access.Client
}

func NewClient(addr chain.Address) Client { return Client{access.NewClient(addr)} }

func (c Client) RegisterAdapter(env *chain.Env, buildingType string, adapterAddr chain.Address) error {
	_, err := c.Send(env, nil, SigRegisterAdapter, buildingType, adapterAddr)
	return err
}

func (c Client) UpgradeAdapter(env *chain.Env, buildingType string, adapterAddr chain.Address) error {
	_, err := c.Send(env, nil, SigUpgradeAdapter, buildingType, adapterAddr)
	return err
}

func (c Client) RemoveAdapter(env *chain.Env, buildingType string) error {
	_, err := c.Send(env, nil, SigRemoveAdapter, buildingType)
	return err
}

func (c Client) PreparePlace(env *chain.Env, buildingType string, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	return adapter.DecodeBatch(c.Read(env, SigPreparePlace, buildingType, user, account, params))
}

func (c Client) PrepareHarvest(env *chain.Env, buildingType string, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	return adapter.DecodeBatch(c.Read(env, SigPrepareHarvest, buildingType, user, account, buildingID, params))
}

func (c Client) PrepareDemolish(env *chain.Env, buildingType string, user, account chain.Address, buildingID uint64, params []byte) (chain.CallBatch, error) {
	return adapter.DecodeBatch(c.Read(env, SigPrepareDemolish, buildingType, user, account, buildingID, params))
}

func (c Client) GetAdapter(env *chain.Env, buildingType string) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigGetAdapter, buildingType))
}

func (c Client) IsRegistered(env *chain.Env, buildingType string) (bool, error) {
	return abi.Returns[bool](c.Read(env, SigIsRegistered, buildingType))
}

func (c Client) GetAllBuildingTypes(env *chain.Env) ([]string, error) {
	return abi.Returns[[]string](c.Read(env, SigGetAllBuildingTypes))
}
