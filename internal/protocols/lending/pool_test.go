package lending

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defitown.org/internal/access"
	"defitown.org/internal/chain"
	"defitown.org/internal/protocols/token"
)

var (
	operator = chain.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = chain.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = chain.HexToAddress("0x0000000000000000000000000000000000000002")
	gold     = chain.SystemAddress("token.gld")
	poolAt   = chain.SystemAddress("lending")
)

type fixture struct {
	c    *chain.Chain
	tok  *token.Token
	pool *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{c: chain.New()}
	_, err := f.c.Transact(context.Background(), operator, func(env *chain.Env) error {
		var err error
		if f.tok, err = token.Deploy(env, gold, "Gold", "GLD", operator); err != nil {
			return err
		}
		if f.pool, err = Deploy(env, poolAt, operator); err != nil {
			return err
		}
		cl := token.NewClient(gold)
		if err := cl.Mint(env, alice, big.NewInt(1000)); err != nil {
			return err
		}
		return cl.Mint(env, operator, big.NewInt(1000))
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) send(from chain.Address, build func() (chain.Call, error)) error {
	call, err := build()
	if err != nil {
		return err
	}
	_, _, err = f.c.SendTransaction(context.Background(), from, call)
	return err
}

func (f *fixture) supply(t *testing.T, from chain.Address, amount int64) {
	t.Helper()
	require.NoError(t, f.send(from, func() (chain.Call, error) {
		return token.ApproveCall(gold, poolAt, big.NewInt(amount))
	}))
	require.NoError(t, f.send(from, func() (chain.Call, error) {
		return SupplyCall(poolAt, gold, big.NewInt(amount), from)
	}))
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.send(operator, func() (chain.Call, error) {
		return token.TransferCall(gold, poolAt, big.NewInt(amount))
	}))
}

func (f *fixture) accrue(account chain.Address, amount int64) error {
	_, err := f.c.Transact(context.Background(), operator, func(env *chain.Env) error {
		return NewClient(poolAt).Accrue(env, account, gold, big.NewInt(amount))
	})
	return err
}

func TestSupplyWithdraw(t *testing.T) {
	f := newFixture(t)
	f.supply(t, alice, 400)
	require.Equal(t, int64(400), f.pool.PrincipalOf(gold, alice).Int64())
	require.Equal(t, int64(600), f.tok.BalanceOf(alice).Int64())
	require.Equal(t, int64(400), f.tok.BalanceOf(poolAt).Int64())

	err := f.send(alice, func() (chain.Call, error) {
		return WithdrawCall(poolAt, gold, big.NewInt(401), alice)
	})
	require.ErrorIs(t, err, ErrInsufficientDeposit)

	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return WithdrawCall(poolAt, gold, big.NewInt(100), bob)
	}))
	require.Equal(t, int64(100), f.tok.BalanceOf(bob).Int64())

	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return WithdrawCall(poolAt, gold, MaxAmount, alice)
	}))
	require.Zero(t, f.pool.PrincipalOf(gold, alice).Sign())
	require.Equal(t, int64(900), f.tok.BalanceOf(alice).Int64())
}

func TestSupplyWithoutAllowanceFails(t *testing.T) {
	f := newFixture(t)
	err := f.send(alice, func() (chain.Call, error) {
		return SupplyCall(poolAt, gold, big.NewInt(10), alice)
	})
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	require.Zero(t, f.pool.PrincipalOf(gold, alice).Sign())
}

func TestAccrueRequiresFunding(t *testing.T) {
	f := newFixture(t)
	f.supply(t, alice, 500)

	require.ErrorIs(t, f.accrue(alice, 5), ErrUnfundedInterest)

	f.fund(t, 50)
	require.NoError(t, f.accrue(alice, 50))
	require.ErrorIs(t, f.accrue(alice, 1), ErrUnfundedInterest)

	require.Equal(t, int64(50), f.pool.InterestOf(gold, alice).Int64())
	require.Equal(t, int64(550), f.pool.BalanceOf(gold, alice).Int64())

	_, err := f.c.Transact(context.Background(), alice, func(env *chain.Env) error {
		return NewClient(poolAt).Accrue(env, alice, gold, big.NewInt(1))
	})
	require.ErrorIs(t, err, access.ErrUnauthorized)
}

func TestClaimInterest(t *testing.T) {
	f := newFixture(t)
	f.supply(t, alice, 500)
	f.fund(t, 20)
	require.NoError(t, f.accrue(alice, 20))

	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return ClaimInterestCall(poolAt, gold, alice)
	}))
	require.Equal(t, int64(520), f.tok.BalanceOf(alice).Int64())
	require.Zero(t, f.pool.InterestOf(gold, alice).Sign())
	require.Equal(t, int64(500), f.pool.PrincipalOf(gold, alice).Int64())

	// Nothing left to claim is not an error.
	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return ClaimInterestCall(poolAt, gold, alice)
	}))

	err := f.c.View(context.Background(), alice, func(env *chain.Env) error {
		bal, err := NewClient(poolAt).BalanceOf(env, gold, alice)
		require.NoError(t, err)
		require.Equal(t, int64(500), bal.Int64())
		return nil
	})
	require.NoError(t, err)
}

func TestBorrowAndRepay(t *testing.T) {
	f := newFixture(t)
	f.supply(t, alice, 400)

	err := f.send(alice, func() (chain.Call, error) {
		return BorrowCall(poolAt, gold, big.NewInt(201))
	})
	require.ErrorIs(t, err, ErrUndercollateralized)

	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return BorrowCall(poolAt, gold, big.NewInt(200))
	}))
	require.Equal(t, int64(200), f.pool.DebtOf(gold, alice).Int64())
	require.Equal(t, int64(800), f.tok.BalanceOf(alice).Int64())

	err = f.send(alice, func() (chain.Call, error) {
		return WithdrawCall(poolAt, gold, big.NewInt(1), alice)
	})
	require.ErrorIs(t, err, ErrUndercollateralized)

	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return token.ApproveCall(gold, poolAt, big.NewInt(1000))
	}))
	require.NoError(t, f.send(alice, func() (chain.Call, error) {
		return RepayCall(poolAt, gold, big.NewInt(500))
	}))
	require.Zero(t, f.pool.DebtOf(gold, alice).Sign())
	require.Equal(t, int64(600), f.tok.BalanceOf(alice).Int64())

	err = f.send(alice, func() (chain.Call, error) {
		return RepayCall(poolAt, gold, big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrNoDebt)
}
