package token

import (
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigMint         = "mint(address,uint256)"
	SigTransfer     = "transfer(address,uint256)"
	SigApprove      = "approve(address,uint256)"
	SigTransferFrom = "transferFrom(address,address,uint256)"
	SigBalanceOf    = "balanceOf(address)"
	SigAllowance    = "allowance(address,address)"
	SigTotalSupply  = "totalSupply()"
	SigSymbol       = "symbol()"
)

func (t *Token) routes() *abi.Router {
	r := abi.NewRouter()
	addrAmount := func(op func(*chain.Env, chain.Address, *big.Int) error) abi.Handler {
		return func(env *chain.Env, p []byte) ([]byte, error) {
			var (
				to     chain.Address
				amount *big.Int
			)
			if err := abi.Unpack(p, &to, &amount); err != nil {
				return nil, err
			}
			if err := op(env, to, amount); err != nil {
				return nil, err
			}
			return abi.EncodeReturn(true)
		}
	}
	r.Handle(SigMint, addrAmount(t.Mint))
	r.Handle(SigTransfer, addrAmount(t.Transfer))
	r.Handle(SigApprove, addrAmount(t.Approve))
	r.Handle(SigTransferFrom, func(env *chain.Env, p []byte) ([]byte, error) {
		var (
			from, to chain.Address
			amount   *big.Int
		)
		if err := abi.Unpack(p, &from, &to, &amount); err != nil {
			return nil, err
		}
		if err := t.TransferFrom(env, from, to, amount); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(true)
	})
	r.Handle(SigBalanceOf, func(env *chain.Env, p []byte) ([]byte, error) {
		var addr chain.Address
		if err := abi.Unpack(p, &addr); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(t.BalanceOf(addr))
	})
	r.Handle(SigAllowance, func(env *chain.Env, p []byte) ([]byte, error) {
		var owner, spender chain.Address
		if err := abi.Unpack(p, &owner, &spender); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(t.Allowance(owner, spender))
	})
	r.Handle(SigTotalSupply, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(t.TotalSupply())
	})
	r.Handle(SigSymbol, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(t.symbol)
	})
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) Mint(env *chain.Env, to chain.Address, amount *big.Int) error {
	_, err := c.Send(env, nil, SigMint, to, amount)
	return err
}

func (c Client) Transfer(env *chain.Env, to chain.Address, amount *big.Int) error {
	_, err := c.Send(env, nil, SigTransfer, to, amount)
	return err
}

func (c Client) Approve(env *chain.Env, spender chain.Address, amount *big.Int) error {
	_, err := c.Send(env, nil, SigApprove, spender, amount)
	return err
}

func (c Client) TransferFrom(env *chain.Env, from, to chain.Address, amount *big.Int) error {
	_, err := c.Send(env, nil, SigTransferFrom, from, to, amount)
	return err
}

func (c Client) BalanceOf(env *chain.Env, addr chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigBalanceOf, addr))
}

func (c Client) Allowance(env *chain.Env, owner, spender chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigAllowance, owner, spender))
}

// ApproveCall builds an approve entry for a batch.
func ApproveCall(tokenAddr, spender chain.Address, amount *big.Int) (chain.Call, error) {
	return abi.CallTo(tokenAddr, nil, SigApprove, spender, amount)
}

func TransferCall(tokenAddr, to chain.Address, amount *big.Int) (chain.Call, error) {
	return abi.CallTo(tokenAddr, nil, SigTransfer, to, amount)
}
