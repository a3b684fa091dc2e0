// Package amm is a two-token constant-product pool. Swap fees stay outside
// the reserves and are distributed to liquidity providers per share.
package amm

import (
	"errors"
	"fmt"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
	"defitown.org/internal/protocols/token"
)

var CodeHash = chain.CodeHashOf("amm-pool")

const (
	feeNumerator   = 3
	feeDenominator = 1000
)

// accScale is the fixed-point scale of the fee-per-share accumulators.
var accScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidToken      = errors.New("token not in pool")
	ErrNoLiquidity       = errors.New("pool has no liquidity")
	ErrInsufficientShare = errors.New("insufficient liquidity shares")
	ErrSlippage          = errors.New("output below minimum")
	ErrSameToken         = errors.New("pool tokens must differ")
)

type side int

const (
	sideA side = iota
	sideB
)

type checkpoint struct {
	account chain.Address
	side    side
}

type Pool struct {
	self     chain.Address
	tokens   [2]chain.Address
	reserves [2]chain.Value[*big.Int]
	acc      [2]chain.Value[*big.Int]
	total    chain.Value[*big.Int]
	shares   chain.Map[chain.Address, *big.Int]
	paid     chain.Map[checkpoint, *big.Int]
	owed     chain.Map[checkpoint, *big.Int]
	router   *abi.Router
}

func Deploy(env *chain.Env, addr, tokenA, tokenB chain.Address) (*Pool, error) {
	if tokenA == tokenB {
		return nil, ErrSameToken
	}
	var p *Pool
	err := env.Create(addr, CodeHash, func(*chain.Env) (chain.Contract, error) {
		p = &Pool{self: addr, tokens: [2]chain.Address{tokenA, tokenB}}
		p.router = p.routes()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) Call(env *chain.Env, data []byte) ([]byte, error) { return p.router.Dispatch(env, data) }

func (p *Pool) Address() chain.Address { return p.self }

// Tokens returns the pair in pool order.
func (p *Pool) Tokens() (chain.Address, chain.Address) { return p.tokens[0], p.tokens[1] }

func copyOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (p *Pool) Reserves() (*big.Int, *big.Int) {
	return copyOf(p.reserves[sideA].Get()), copyOf(p.reserves[sideB].Get())
}

func (p *Pool) TotalShares() *big.Int { return copyOf(p.total.Get()) }

func (p *Pool) SharesOf(account chain.Address) *big.Int {
	v, _ := p.shares.Get(account)
	return copyOf(v)
}

func (p *Pool) sideOf(tok chain.Address) (side, error) {
	switch tok {
	case p.tokens[sideA]:
		return sideA, nil
	case p.tokens[sideB]:
		return sideB, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidToken, tok)
}

// QuoteShares reports the shares addLiquidity would mint for the amounts.
func (p *Pool) QuoteShares(amountA, amountB *big.Int) (*big.Int, error) {
	if !positive(amountA) || !positive(amountB) {
		return nil, ErrInvalidAmount
	}
	total := p.TotalShares()
	if total.Sign() == 0 {
		return new(big.Int).Sqrt(new(big.Int).Mul(amountA, amountB)), nil
	}
	ra, rb := p.Reserves()
	sa := new(big.Int).Quo(new(big.Int).Mul(amountA, total), ra)
	sb := new(big.Int).Quo(new(big.Int).Mul(amountB, total), rb)
	if sa.Cmp(sb) < 0 {
		return sa, nil
	}
	return sb, nil
}

// PendingFees is what collectFees would pay account right now.
func (p *Pool) PendingFees(account chain.Address) (*big.Int, *big.Int) {
	return p.pending(account, sideA), p.pending(account, sideB)
}

func (p *Pool) pending(account chain.Address, s side) *big.Int {
	k := checkpoint{account, s}
	owed, _ := p.owed.Get(k)
	paid, _ := p.paid.Get(k)
	delta := new(big.Int).Sub(copyOf(p.acc[s].Get()), copyOf(paid))
	earned := new(big.Int).Quo(new(big.Int).Mul(p.SharesOf(account), delta), accScale)
	return earned.Add(earned, copyOf(owed))
}

// settle moves accrued fees into owed before a share balance changes.
func (p *Pool) settle(env *chain.Env, account chain.Address) error {
	for _, s := range []side{sideA, sideB} {
		k := checkpoint{account, s}
		if err := p.owed.Set(env, k, p.pending(account, s)); err != nil {
			return err
		}
		if err := p.paid.Set(env, k, copyOf(p.acc[s].Get())); err != nil {
			return err
		}
	}
	return nil
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// AddLiquidity pulls both amounts from the caller and mints shares to to.
// Amounts beyond the current ratio are kept by the pool.
func (p *Pool) AddLiquidity(env *chain.Env, amountA, amountB *big.Int, to chain.Address) (*big.Int, error) {
	minted, err := p.QuoteShares(amountA, amountB)
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small", ErrInvalidAmount)
	}
	from := env.Caller()
	for s, amt := range []*big.Int{amountA, amountB} {
		if err := token.NewClient(p.tokens[s]).TransferFrom(env, from, p.self, amt); err != nil {
			return nil, err
		}
		if err := p.reserves[s].Set(env, new(big.Int).Add(copyOf(p.reserves[s].Get()), amt)); err != nil {
			return nil, err
		}
	}
	if err := p.settle(env, to); err != nil {
		return nil, err
	}
	if err := p.shares.Set(env, to, new(big.Int).Add(p.SharesOf(to), minted)); err != nil {
		return nil, err
	}
	if err := p.total.Set(env, new(big.Int).Add(p.TotalShares(), minted)); err != nil {
		return nil, err
	}
	return minted, env.Emit("LiquidityAdded", map[string]any{
		"provider": to.Hex(), "amount_a": amountA.String(), "amount_b": amountB.String(), "shares": minted.String(),
	})
}

// RemoveLiquidity burns the caller's shares and pays the proportional
// reserves to to. Accrued fees stay claimable.
func (p *Pool) RemoveLiquidity(env *chain.Env, shares *big.Int, to chain.Address) (*big.Int, *big.Int, error) {
	if !positive(shares) {
		return nil, nil, ErrInvalidAmount
	}
	owner := env.Caller()
	held := p.SharesOf(owner)
	if held.Cmp(shares) < 0 {
		return nil, nil, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShare, owner, held, shares)
	}
	if err := p.settle(env, owner); err != nil {
		return nil, nil, err
	}
	total := p.TotalShares()
	var out [2]*big.Int
	for s := range out {
		r := copyOf(p.reserves[s].Get())
		out[s] = new(big.Int).Quo(new(big.Int).Mul(r, shares), total)
		if err := p.reserves[s].Set(env, r.Sub(r, out[s])); err != nil {
			return nil, nil, err
		}
	}
	if err := p.shares.Set(env, owner, held.Sub(held, shares)); err != nil {
		return nil, nil, err
	}
	if err := p.total.Set(env, total.Sub(total, shares)); err != nil {
		return nil, nil, err
	}
	for s, amt := range out {
		if amt.Sign() == 0 {
			continue
		}
		if err := token.NewClient(p.tokens[s]).Transfer(env, to, amt); err != nil {
			return nil, nil, err
		}
	}
	return out[0], out[1], env.Emit("LiquidityRemoved", map[string]any{
		"provider": owner.Hex(), "shares": shares.String(), "amount_a": out[0].String(), "amount_b": out[1].String(),
	})
}

// QuoteSwap returns the output and fee for selling amountIn of tokenIn.
func (p *Pool) QuoteSwap(tokenIn chain.Address, amountIn *big.Int) (out, fee *big.Int, err error) {
	if !positive(amountIn) {
		return nil, nil, ErrInvalidAmount
	}
	in, err := p.sideOf(tokenIn)
	if err != nil {
		return nil, nil, err
	}
	if p.TotalShares().Sign() == 0 {
		return nil, nil, ErrNoLiquidity
	}
	rin, rout := copyOf(p.reserves[in].Get()), copyOf(p.reserves[1-in].Get())
	fee = new(big.Int).Quo(new(big.Int).Mul(amountIn, big.NewInt(feeNumerator)), big.NewInt(feeDenominator))
	net := new(big.Int).Sub(amountIn, fee)
	out = new(big.Int).Quo(new(big.Int).Mul(net, rout), new(big.Int).Add(rin, net))
	return out, fee, nil
}

// Swap sells amountIn of tokenIn for the other token. The 0.3% fee is
// credited to liquidity providers rather than the reserves.
func (p *Pool) Swap(env *chain.Env, tokenIn chain.Address, amountIn, minOut *big.Int, to chain.Address) (*big.Int, error) {
	out, fee, err := p.QuoteSwap(tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 || (minOut != nil && out.Cmp(minOut) < 0) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, out, minOut)
	}
	in, _ := p.sideOf(tokenIn)
	if err := token.NewClient(tokenIn).TransferFrom(env, env.Caller(), p.self, amountIn); err != nil {
		return nil, err
	}
	rin := copyOf(p.reserves[in].Get())
	if err := p.reserves[in].Set(env, rin.Add(rin, new(big.Int).Sub(amountIn, fee))); err != nil {
		return nil, err
	}
	rout := copyOf(p.reserves[1-in].Get())
	if err := p.reserves[1-in].Set(env, rout.Sub(rout, out)); err != nil {
		return nil, err
	}
	acc := copyOf(p.acc[in].Get())
	acc.Add(acc, new(big.Int).Quo(new(big.Int).Mul(fee, accScale), p.TotalShares()))
	if err := p.acc[in].Set(env, acc); err != nil {
		return nil, err
	}
	if err := token.NewClient(p.tokens[1-in]).Transfer(env, to, out); err != nil {
		return nil, err
	}
	return out, env.Emit("Swap", map[string]any{
		"trader": env.Caller().Hex(), "token_in": tokenIn.Hex(), "amount_in": amountIn.String(), "amount_out": out.String(), "fee": fee.String(),
	})
}

// CollectFees pays the caller's accrued fees in both tokens to to.
func (p *Pool) CollectFees(env *chain.Env, to chain.Address) (*big.Int, *big.Int, error) {
	owner := env.Caller()
	if err := p.settle(env, owner); err != nil {
		return nil, nil, err
	}
	var got [2]*big.Int
	for _, s := range []side{sideA, sideB} {
		k := checkpoint{owner, s}
		v, _ := p.owed.Get(k)
		got[s] = copyOf(v)
		if got[s].Sign() == 0 {
			continue
		}
		if err := p.owed.Set(env, k, new(big.Int)); err != nil {
			return nil, nil, err
		}
		if err := token.NewClient(p.tokens[s]).Transfer(env, to, got[s]); err != nil {
			return nil, nil, err
		}
	}
	return got[0], got[1], env.Emit("FeesCollected", map[string]any{
		"provider": owner.Hex(), "amount_a": got[0].String(), "amount_b": got[1].String(),
	})
}
