package lending

import (
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigSupply        = "supply(address,uint256,address)"
	SigWithdraw      = "withdraw(address,uint256,address)"
	SigClaimInterest = "claimInterest(address,address)"
	SigAccrue        = "accrue(address,address,uint256)"
	SigBorrow        = "borrow(address,uint256)"
	SigRepay         = "repay(address,uint256)"
	SigBalanceOf     = "balanceOf(address,address)"
	SigPrincipalOf   = "principalOf(address,address)"
	SigInterestOf    = "interestOf(address,address)"
	SigDebtOf        = "debtOf(address,address)"
)

func (p *Pool) routes() *abi.Router {
	r := abi.NewRouter()
	r.Handle(SigSupply, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			asset, onBehalf chain.Address
			amount          *big.Int
		)
		if err := abi.Unpack(b, &asset, &amount, &onBehalf); err != nil {
			return nil, err
		}
		return nil, p.Supply(env, asset, amount, onBehalf)
	})
	r.Handle(SigWithdraw, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			asset, to chain.Address
			amount    *big.Int
		)
		if err := abi.Unpack(b, &asset, &amount, &to); err != nil {
			return nil, err
		}
		out, err := p.Withdraw(env, asset, amount, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.Handle(SigClaimInterest, func(env *chain.Env, b []byte) ([]byte, error) {
		var asset, to chain.Address
		if err := abi.Unpack(b, &asset, &to); err != nil {
			return nil, err
		}
		out, err := p.ClaimInterest(env, asset, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	r.Handle(SigAccrue, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			account, asset chain.Address
			interest       *big.Int
		)
		if err := abi.Unpack(b, &account, &asset, &interest); err != nil {
			return nil, err
		}
		return nil, p.Accrue(env, account, asset, interest)
	})
	r.Handle(SigBorrow, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			asset  chain.Address
			amount *big.Int
		)
		if err := abi.Unpack(b, &asset, &amount); err != nil {
			return nil, err
		}
		return nil, p.Borrow(env, asset, amount)
	})
	r.Handle(SigRepay, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			asset  chain.Address
			amount *big.Int
		)
		if err := abi.Unpack(b, &asset, &amount); err != nil {
			return nil, err
		}
		out, err := p.Repay(env, asset, amount)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(out)
	})
	read := func(fn func(asset, account chain.Address) *big.Int) abi.Handler {
		return func(env *chain.Env, b []byte) ([]byte, error) {
			var asset, account chain.Address
			if err := abi.Unpack(b, &asset, &account); err != nil {
				return nil, err
			}
			return abi.EncodeReturn(fn(asset, account))
		}
	}
	r.Handle(SigBalanceOf, read(p.BalanceOf))
	r.Handle(SigPrincipalOf, read(p.PrincipalOf))
	r.Handle(SigInterestOf, read(p.InterestOf))
	r.Handle(SigDebtOf, read(p.DebtOf))
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) Accrue(env *chain.Env, account, asset chain.Address, interest *big.Int) error {
	_, err := c.Send(env, nil, SigAccrue, account, asset, interest)
	return err
}

func (c Client) BalanceOf(env *chain.Env, asset, account chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigBalanceOf, asset, account))
}

func (c Client) PrincipalOf(env *chain.Env, asset, account chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigPrincipalOf, asset, account))
}

func (c Client) InterestOf(env *chain.Env, asset, account chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigInterestOf, asset, account))
}

func SupplyCall(pool, asset chain.Address, amount *big.Int, onBehalfOf chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigSupply, asset, amount, onBehalfOf)
}

func WithdrawCall(pool, asset chain.Address, amount *big.Int, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigWithdraw, asset, amount, to)
}

func ClaimInterestCall(pool, asset, to chain.Address) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigClaimInterest, asset, to)
}

func BorrowCall(pool, asset chain.Address, amount *big.Int) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigBorrow, asset, amount)
}

func RepayCall(pool, asset chain.Address, amount *big.Int) (chain.Call, error) {
	return abi.CallTo(pool, nil, SigRepay, asset, amount)
}
