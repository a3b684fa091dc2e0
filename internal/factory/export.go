package factory

import (
	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/chain"
)

const (
	SigGetAddress         = "getAddress(address,uint256)"
	SigCreateWallet       = "createWallet(address,uint256)"
	SigCreateOrGetWallet  = "createOrGetWallet(address)"
	SigCreateWalletsBatch = "createWalletsBatch(address[],uint256[])"
	SigGetAddressesBatch  = "getAddressesBatch(address[],uint256[])"
	SigIsWalletDeployed   = "isWalletDeployed(address,uint256)"
	SigGetWalletByOwner   = "getWalletByOwner(address)"
	SigIsFactoryWallet    = "isFactoryWallet(address)"
	SigIsWallet           = "isWallet(address)"
	SigGetWalletOwner     = "getWalletOwner(address)"
	SigGetTotalWallets    = "getTotalWallets()"
	SigEntryPoint         = "entryPoint()"
)

func (f *Factory) routes() *abi.Router {
	r := abi.NewRouter()
	f.Route(r, false)

	ownerSalt := func(p []byte) (chain.Address, uint64, error) {
		var (
			owner chain.Address
			salt  uint64
		)
		err := abi.Unpack(p, &owner, &salt)
		return owner, salt, err
	}
	r.Handle(SigGetAddress, func(env *chain.Env, p []byte) ([]byte, error) {
		owner, salt, err := ownerSalt(p)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(f.GetAddress(owner, salt))
	})
	r.Handle(SigCreateWallet, func(env *chain.Env, p []byte) ([]byte, error) {
		owner, salt, err := ownerSalt(p)
		if err != nil {
			return nil, err
		}
		addr, err := f.CreateWallet(env, owner, salt)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(addr)
	})
	r.Handle(SigCreateOrGetWallet, func(env *chain.Env, p []byte) ([]byte, error) {
		var owner chain.Address
		if err := abi.Unpack(p, &owner); err != nil {
			return nil, err
		}
		addr, err := f.CreateOrGetWallet(env, owner)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(addr)
	})
	batchArgs := func(p []byte) ([]chain.Address, []uint64, error) {
		var (
			owners []chain.Address
			salts  []uint64
		)
		err := abi.Unpack(p, &owners, &salts)
		return owners, salts, err
	}
	r.Handle(SigCreateWalletsBatch, func(env *chain.Env, p []byte) ([]byte, error) {
		owners, salts, err := batchArgs(p)
		if err != nil {
			return nil, err
		}
		out, err := f.CreateWalletsBatch(env, owners, salts)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.Handle(SigGetAddressesBatch, func(env *chain.Env, p []byte) ([]byte, error) {
		owners, salts, err := batchArgs(p)
		if err != nil {
			return nil, err
		}
		out, err := f.GetAddressesBatch(owners, salts)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.Handle(SigIsWalletDeployed, func(env *chain.Env, p []byte) ([]byte, error) {
		owner, salt, err := ownerSalt(p)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(f.IsWalletDeployed(owner, salt))
	})
	addrRead := func(fn func(chain.Address) any) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var addr chain.Address
			if err := abi.Unpack(p, &addr); err != nil {
				return nil, err
			}
			return abi.EncodeReturn(fn(addr))
		}
	}
	r.Handle(SigGetWalletByOwner, addrRead(func(a chain.Address) any { return f.GetWalletByOwner(a) }))
	r.Handle(SigIsFactoryWallet, addrRead(func(a chain.Address) any { return f.IsFactoryWallet(a) }))
	r.Handle(SigIsWallet, addrRead(func(a chain.Address) any { return f.IsWallet(a) }))
	r.Handle(SigGetWalletOwner, addrRead(func(a chain.Address) any {
		owner, _ := f.GetWalletOwner(a)
		return owner
	}))
	r.Handle(SigGetTotalWallets, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(f.GetTotalWallets())
	})
	r.Handle(SigEntryPoint, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(f.entryPoint)
	})
	return r
}

type Client struct {
	access.Client
}

func NewClient(addr chain.Address) Client { return Client{access.NewClient(addr)} }

func (c Client) GetAddress(env *chain.Env, owner chain.Address, salt uint64) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigGetAddress, owner, salt))
}

func (c Client) CreateWallet(env *chain.Env, owner chain.Address, salt uint64) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Send(env, nil, SigCreateWallet, owner, salt))
}

func (c Client) CreateOrGetWallet(env *chain.Env, owner chain.Address) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Send(env, nil, SigCreateOrGetWallet, owner))
}

func (c Client) CreateWalletsBatch(env *chain.Env, owners []chain.Address, salts []uint64) ([]chain.Address, error) {
	return abi.Returns[[]chain.Address](c.Send(env, nil, SigCreateWalletsBatch, owners, salts))
}

func (c Client) GetAddressesBatch(env *chain.Env, owners []chain.Address, salts []uint64) ([]chain.Address, error) {
	return abi.Returns[[]chain.Address](c.Read(env, SigGetAddressesBatch, owners, salts))
}

func (c Client) IsWalletDeployed(env *chain.Env, owner chain.Address, salt uint64) (bool, error) {
	return abi.Returns[bool](c.Read(env, SigIsWalletDeployed, owner, salt))
}

func (c Client) GetWalletByOwner(env *chain.Env, owner chain.Address) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigGetWalletByOwner, owner))
}

func (c Client) IsFactoryWallet(env *chain.Env, addr chain.Address) (bool, error) {
	return abi.Returns[bool](c.Read(env, SigIsFactoryWallet, addr))
}

func (c Client) GetWalletOwner(env *chain.Env, addr chain.Address) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigGetWalletOwner, addr))
}

func (c Client) GetTotalWallets(env *chain.Env) (uint64, error) {
	return abi.Returns[uint64](c.Read(env, SigGetTotalWallets))
}
