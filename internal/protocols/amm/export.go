package amm

import (
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigAddLiquidity    = "addLiquidity(uint256,uint256,address)"
	SigRemoveLiquidity = "removeLiquidity(uint256,address)"
	SigSwap            = "swap(address,uint256,uint256,address)"
	SigCollectFees     = "collectFees(address)"
	SigQuoteShares     = "quoteShares(uint256,uint256)"
	SigPendingFees     = "pendingFees(address)"
	SigSharesOf        = "sharesOf(address)"
	SigReserves        = "reserves()"
	SigTokens          = "tokens()"
)

func (p *Pool) routes() *abi.Router {
	r := abi.NewRouter()
	r.Handle(SigAddLiquidity, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			a, bAmt *big.Int
			to      chain.Address
		)
		if err := abi.Unpack(b, &a, &bAmt, &to); err != nil {
			return nil, err
		}
		shares, err := p.AddLiquidity(env, a, bAmt, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(shares)
	})
	r.Handle(SigRemoveLiquidity, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			shares *big.Int
			to     chain.Address
		)
		if err := abi.Unpack(b, &shares, &to); err != nil {
			return nil, err
		}
		outA, outB, err := p.RemoveLiquidity(env, shares, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(outA, outB)
	})
	r.Handle(SigSwap, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			tokenIn, to      chain.Address
			amountIn, minOut *big.Int
		)
		if err := abi.Unpack(b, &tokenIn, &amountIn, &minOut, &to); err != nil {
			return nil, err
		}
		out, err := p.Swap(env, tokenIn, amountIn, minOut, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.Handle(SigCollectFees, func(env *chain.Env, b []byte) ([]byte, error) {
		var to chain.Address
		if err := abi.Unpack(b, &to); err != nil {
			return nil, err
		}
		a, bOut, err := p.CollectFees(env, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(a, bOut)
	})
	r.Handle(SigQuoteShares, func(env *chain.Env, b []byte) ([]byte, error) {
		var a, bAmt *big.Int
		if err := abi.Unpack(b, &a, &bAmt); err != nil {
			return nil, err
		}
		shares, err := p.QuoteShares(a, bAmt)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(shares)
	})
	r.Handle(SigPendingFees, func(env *chain.Env, b []byte) ([]byte, error) {
		var account chain.Address
		if err := abi.Unpack(b, &account); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(p.PendingFees(account))
	})
	r.Handle(SigSharesOf, func(env *chain.Env, b []byte) ([]byte, error) {
		var account chain.Address
		if err := abi.Unpack(b, &account); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(p.SharesOf(account))
	})
	r.Handle(SigReserves, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(p.Reserves())
	})
	r.Handle(SigTokens, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(p.Tokens())
	})
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) Tokens(env *chain.Env) (a, b chain.Address, err error) {
	out, err := c.Read(env, SigTokens)
	if err != nil {
		return a, b, err
	}
	err = abi.DecodeReturn(out, &a, &b)
	return a, b, err
}

func (c Client) QuoteShares(env *chain.Env, amountA, amountB *big.Int) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigQuoteShares, amountA, amountB))
}

func (c Client) PendingFees(env *chain.Env, account chain.Address) (a, b *big.Int, err error) {
	out, err := c.Read(env, SigPendingFees, account)
	if err != nil {
		return nil, nil, err
	}
	err = abi.DecodeReturn(out, &a, &b)
	return a, b, err
}

func (c Client) SharesOf(env *chain.Env, account chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigSharesOf, account))
}

func (c Client) Reserves(env *chain.Env) (a, b *big.Int, err error) {
	out, err := c.Read(env, SigReserves)
	if err != nil {
		return nil, nil, err
	}
	err = abi.DecodeReturn(out, &a, &b)
	return a, b, err
}

func AddLiquidityCall(pool chain.Address, amountA, amountB *big.Int, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigAddLiquidity, amountA, amountB, to)
}

func RemoveLiquidityCall(pool chain.Address, shares *big.Int, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigRemoveLiquidity, shares, to)
}

func SwapCall(pool, tokenIn chain.Address, amountIn, minOut *big.Int, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigSwap, tokenIn, amountIn, minOut, to)
}

func CollectFeesCall(pool, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigCollectFees, to)
}
