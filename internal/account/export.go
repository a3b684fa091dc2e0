package account

import (
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigExecuteBatch      = "executeBatch(address[],uint256[],bytes[])"
	SigExecute           = "execute(address,uint256,bytes)"
	SigAddExecutor       = "addExecutor(address)"
	SigRemoveExecutor    = "removeExecutor(address)"
	SigTransferOwnership = "transferOwnership(address)"
	SigOwner             = "owner()"
	SigIsExecutor        = "isExecutor(address)"
	SigNonce             = "nonce()"
)

func (a *Account) routes() *abi.Router {
	r := abi.NewRouter()
	r.Receive(func(env *chain.Env, _ []byte) ([]byte, error) { return nil, nil })
	r.HandlePayable(SigExecuteBatch, func(env *chain.Env, p []byte) ([]byte, error) {
		var b chain.CallBatch
		if err := abi.Unpack(p, &b.Targets, &b.Values, &b.Datas); err != nil {
			return nil, err
		}
		out, err := a.ExecuteBatch(env, b.Targets, b.Values, b.Datas)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.HandlePayable(SigExecute, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			target chain.Address
			value  *big.Int
			data   []byte
		)
		if err := abi.Unpack(p, &target, &value, &data); err != nil {
			return nil, err
		}
		out, err := a.Execute(env, target, value, data)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	addrOp := func(op func(*chain.Env, chain.Address) error) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var addr chain.Address
			if err := abi.Unpack(p, &addr); err != nil {
				return nil, err
			}
			return nil, op(env, addr)
		}
	}
	r.Handle(SigAddExecutor, addrOp(a.AddExecutor))
	r.Handle(SigRemoveExecutor, addrOp(a.RemoveExecutor))
	r.Handle(SigTransferOwnership, addrOp(a.TransferOwnership))
	r.Handle(SigOwner, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(a.Owner())
	})
	r.Handle(SigIsExecutor, func(env *chain.Env, p []byte) ([]byte, error) {
		var addr chain.Address
		if err := abi.Unpack(p, &addr); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(a.IsExecutor(addr))
	})
	r.Handle(SigNonce, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(a.Nonce())
	})
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) ExecuteBatch(env *chain.Env, b chain.CallBatch) ([][]byte, error) {
	return abi.Returns[[][]byte](c.Send(env, nil, SigExecuteBatch, b.Targets, b.Values, b.Datas))
}

func (c Client) Execute(env *chain.Env, target chain.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	return abi.Returns[[]byte](c.Send(env, nil, SigExecute, target, value, data))
}

func (c Client) AddExecutor(env *chain.Env, executor chain.Address) error {
	_, err := c.Send(env, nil, SigAddExecutor, executor)
	return err
}

func (c Client) RemoveExecutor(env *chain.Env, executor chain.Address) error {
	_, err := c.Send(env, nil, SigRemoveExecutor, executor)
	return err
}

func (c Client) TransferOwnership(env *chain.Env, newOwner chain.Address) error {
	_, err := c.Send(env, nil, SigTransferOwnership, newOwner)
	return err
}

func (c Client) Owner(env *chain.Env) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigOwner))
}

func (c Client) Nonce(env *chain.Env) (uint64, error) {
	return abi.Returns[uint64](c.Read(env, SigNonce))
}
