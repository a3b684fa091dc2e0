// Package lending is a single-pool money market: deposits earn interest the
// operator accrues, and deposits back loans at a 50% collateral factor.
package lending

import (
	"errors"
	"fmt"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/chain"
	"defitown.org/internal/protocols/token"
)

var CodeHash = chain.CodeHashOf("lending-pool")

// MaxAmount asks withdraw for the whole principal.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const collateralFactorPct = 50

var (
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrUndercollateralized = errors.New("position would be undercollateralized")
	ErrUnfundedInterest    = errors.New("pool cannot fund interest")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNoDebt              = errors.New("no debt to repay")
)

type position struct {
	asset, account chain.Address
}

type Pool struct {
	self        chain.Address
	operator    chain.Address
	principal   chain.Map[position, *big.Int]
	interest    chain.Map[position, *big.Int]
	debt        chain.Map[position, *big.Int]
	liabilities chain.Map[chain.Address, *big.Int]
	router      *abi.Router
}

func Deploy(env *chain.Env, addr, operator chain.Address) (*Pool, error) {
	var p *Pool
	err := env.Create(addr, CodeHash, func(*chain.Env) (chain.Contract, error) {
		p = &Pool{self: addr, operator: operator}
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

func get(m *chain.Map[position, *big.Int], asset, account chain.Address) *big.Int {
	v, _ := m.Get(position{asset, account})
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (p *Pool) PrincipalOf(asset, account chain.Address) *big.Int {
	return get(&p.principal, asset, account)
}

func (p *Pool) InterestOf(asset, account chain.Address) *big.Int {
	return get(&p.interest, asset, account)
}

func (p *Pool) DebtOf(asset, account chain.Address) *big.Int {
	return get(&p.debt, asset, account)
}

// BalanceOf is principal plus unclaimed interest.
func (p *Pool) BalanceOf(asset, account chain.Address) *big.Int {
	return new(big.Int).Add(p.PrincipalOf(asset, account), p.InterestOf(asset, account))
}

func (p *Pool) liability(asset chain.Address) *big.Int {
	v, _ := p.liabilities.Get(asset)
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (p *Pool) addLiability(env *chain.Env, asset chain.Address, delta *big.Int) error {
	return p.liabilities.Set(env, asset, new(big.Int).Add(p.liability(asset), delta))
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Supply pulls amount of asset from the caller and credits onBehalfOf.
func (p *Pool) Supply(env *chain.Env, asset chain.Address, amount *big.Int, onBehalfOf chain.Address) error {
	if err := positive(amount); err != nil {
		return err
	}
	if err := token.NewClient(asset).TransferFrom(env, env.Caller(), p.self, amount); err != nil {
		return err
	}
	pos := position{asset, onBehalfOf}
	if err := p.principal.Set(env, pos, new(big.Int).Add(p.PrincipalOf(asset, onBehalfOf), amount)); err != nil {
		return err
	}
	if err := p.addLiability(env, asset, amount); err != nil {
		return err
	}
	return env.Emit("Supply", map[string]any{"asset": asset.Hex(), "on_behalf_of": onBehalfOf.Hex(), "amount": amount.String()})
}

// Withdraw returns principal to to; MaxAmount withdraws all of it. The
// remaining principal must still cover half of any debt.
func (p *Pool) Withdraw(env *chain.Env, asset chain.Address, amount *big.Int, to chain.Address) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	owner := env.Caller()
	principal := p.PrincipalOf(asset, owner)
	if amount.Cmp(MaxAmount) == 0 {
		amount = principal
	}
	if amount.Sign() == 0 || principal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s supplied %s, withdrawing %s", ErrInsufficientDeposit, owner, principal, amount)
	}
	left := new(big.Int).Sub(principal, amount)
	if !covers(left, p.DebtOf(asset, owner)) {
		return nil, ErrUndercollateralized
	}
	if err := p.principal.Set(env, position{asset, owner}, left); err != nil {
		return nil, err
	}
	if err := p.addLiability(env, asset, new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}
	if err := token.NewClient(asset).Transfer(env, to, amount); err != nil {
		return nil, err
	}
	return amount, env.Emit("Withdraw", map[string]any{"asset": asset.Hex(), "account": owner.Hex(), "to": to.Hex(), "amount": amount.String()})
}

// ClaimInterest pays out the caller's accrued interest; zero is a no-op.
func (p *Pool) ClaimInterest(env *chain.Env, asset, to chain.Address) (*big.Int, error) {
	owner := env.Caller()
	due := p.InterestOf(asset, owner)
	if due.Sign() == 0 {
		return due, nil
	}
	if err := p.interest.Set(env, position{asset, owner}, new(big.Int)); err != nil {
		return nil, err
	}
	if err := p.addLiability(env, asset, new(big.Int).Neg(due)); err != nil {
		return nil, err
	}
	if err := token.NewClient(asset).Transfer(env, to, due); err != nil {
		return nil, err
	}
	return due, env.Emit("InterestClaimed", map[string]any{"asset": asset.Hex(), "account": owner.Hex(), "amount": due.String()})
}

// Accrue credits interest to a depositor. The pool must already hold enough
// idle asset to pay every liability including the new interest.
func (p *Pool) Accrue(env *chain.Env, account, asset chain.Address, interest *big.Int) error {
	if env.Caller() != p.operator {
		return fmt.Errorf("%w: only the operator may accrue", access.ErrUnauthorized)
	}
	if err := positive(interest); err != nil {
		return err
	}
	held, err := token.NewClient(asset).BalanceOf(env, p.self)
	if err != nil {
		return err
	}
	need := new(big.Int).Add(p.liability(asset), interest)
	if held.Cmp(need) < 0 {
		return fmt.Errorf("%w: holds %s, owes %s", ErrUnfundedInterest, held, need)
	}
	if err := p.interest.Set(env, position{asset, account}, new(big.Int).Add(p.InterestOf(asset, account), interest)); err != nil {
		return err
	}
	if err := p.addLiability(env, asset, interest); err != nil {
		return err
	}
	return env.Emit("InterestAccrued", map[string]any{"asset": asset.Hex(), "account": account.Hex(), "amount": interest.String()})
}

func covers(collateral, debt *big.Int) bool {
	limit := new(big.Int).Mul(collateral, big.NewInt(collateralFactorPct))
	return new(big.Int).Mul(debt, big.NewInt(100)).Cmp(limit) <= 0
}

func (p *Pool) Borrow(env *chain.Env, asset chain.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	owner := env.Caller()
	debt := new(big.Int).Add(p.DebtOf(asset, owner), amount)
	if !covers(p.PrincipalOf(asset, owner), debt) {
		return ErrUndercollateralized
	}
	if err := p.debt.Set(env, position{asset, owner}, debt); err != nil {
		return err
	}
	if err := token.NewClient(asset).Transfer(env, owner, amount); err != nil {
		return err
	}
	return env.Emit("Borrow", map[string]any{"asset": asset.Hex(), "account": owner.Hex(), "amount": amount.String()})
}

// Repay settles up to the outstanding debt and returns what was taken.
func (p *Pool) Repay(env *chain.Env, asset chain.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	owner := env.Caller()
	debt := p.DebtOf(asset, owner)
	if debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	if amount.Cmp(debt) > 0 {
		amount = debt
	}
	if err := token.NewClient(asset).TransferFrom(env, owner, p.self, amount); err != nil {
		return nil, err
	}
	if err := p.debt.Set(env, position{asset, owner}, new(big.Int).Sub(debt, amount)); err != nil {
		return nil, err
	}
	return amount, env.Emit("Repay", map[string]any{"asset": asset.Hex(), "account": owner.Hex(), "amount": amount.String()})
}
