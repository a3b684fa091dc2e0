// Package token is a minimal fungible token with allowances.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/chain"
)

var CodeHash = chain.CodeHashOf("token")

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid token amount")
)

type allowanceKey struct {
	owner, spender chain.Address
}

type Token struct {
	self       chain.Address
	name       string
	symbol     string
	minter     chain.Address
	supply     chain.Value[*big.Int]
	balances   chain.Map[chain.Address, *big.Int]
	allowances chain.Map[allowanceKey, *big.Int]
	router     *abi.Router
}

func Deploy(env *chain.Env, addr chain.Address, name, symbol string, minter chain.Address) (*Token, error) {
	var t *Token
	err := env.Create(addr, CodeHash, func(ctor *chain.Env) (chain.Contract, error) {
		t = &Token{self: addr, name: name, symbol: symbol, minter: minter}
		t.router = t.routes()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) Call(env *chain.Env, data []byte) ([]byte, error) { return t.router.Dispatch(env, data) }

func (t *Token) Address() chain.Address { return t.self }
func (t *Token) Name() string           { return t.name }
func (t *Token) Symbol() string         { return t.symbol }

func (t *Token) TotalSupply() *big.Int { return orZero(t.supply.Get()) }

func (t *Token) BalanceOf(addr chain.Address) *big.Int {
	b, _ := t.balances.Get(addr)
	return orZero(b)
}

func (t *Token) Allowance(owner, spender chain.Address) *big.Int {
	a, _ := t.allowances.Get(allowanceKey{owner, spender})
	return orZero(a)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t *Token) Mint(env *chain.Env, to chain.Address, amount *big.Int) error {
	if env.Caller() != t.minter {
		return fmt.Errorf("%w: only the minter may mint %s", access.ErrUnauthorized, t.symbol)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := t.supply.Set(env, new(big.Int).Add(t.TotalSupply(), amount)); err != nil {
		return err
	}
	if err := t.balances.Set(env, to, new(big.Int).Add(t.BalanceOf(to), amount)); err != nil {
		return err
	}
	return env.Emit("Transfer", map[string]any{"from": chain.ZeroAddress.Hex(), "to": to.Hex(), "value": amount.String()})
}

func (t *Token) Transfer(env *chain.Env, to chain.Address, amount *big.Int) error {
	return t.move(env, env.Caller(), to, amount)
}

func (t *Token) Approve(env *chain.Env, spender chain.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	owner := env.Caller()
	if err := t.allowances.Set(env, allowanceKey{owner, spender}, new(big.Int).Set(amount)); err != nil {
		return err
	}
	return env.Emit("Approval", map[string]any{"owner": owner.Hex(), "spender": spender.Hex(), "value": amount.String()})
}

func (t *Token) TransferFrom(env *chain.Env, from, to chain.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	spender := env.Caller()
	allowed := t.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s, wants %s", ErrInsufficientAllowance, spender, allowed, from, amount)
	}
	if err := t.allowances.Set(env, allowanceKey{from, spender}, new(big.Int).Sub(allowed, amount)); err != nil {
		return err
	}
	return t.move(env, from, to, amount)
}

func (t *Token) move(env *chain.Env, from, to chain.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := t.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, bal, t.symbol, amount)
	}
	if err := t.balances.Set(env, from, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	if err := t.balances.Set(env, to, new(big.Int).Add(t.BalanceOf(to), amount)); err != nil {
		return err
	}
	return env.Emit("Transfer", map[string]any{"from": from.Hex(), "to": to.Hex(), "value": amount.String()})
}
