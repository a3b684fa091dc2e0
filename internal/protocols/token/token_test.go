package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defitown.org/internal/access"
	"defitown.org/internal/chain"
)

var (
	minter  = chain.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = chain.HexToAddress("0x0000000000000000000000000000000000000001")
	bob     = chain.HexToAddress("0x0000000000000000000000000000000000000002")
	tokenAt = chain.SystemAddress("token.gld")
)

func deploy(t *testing.T) (*chain.Chain, *Token) {
	t.Helper()
	c := chain.New()
	var tok *Token
	_, err := c.Transact(context.Background(), minter, func(env *chain.Env) error {
		var err error
		tok, err = Deploy(env, tokenAt, "Gold", "GLD", minter)
		return err
	})
	require.NoError(t, err)
	return c, tok
}

func as(c *chain.Chain, from chain.Address, fn func(env *chain.Env, cl Client) error) error {
	_, err := c.Transact(context.Background(), from, func(env *chain.Env) error {
		return fn(env, NewClient(tokenAt))
	})
	return err
}

func TestMintAndTransfer(t *testing.T) {
	c, tok := deploy(t)
	require.NoError(t, as(c, minter, func(env *chain.Env, cl Client) error {
		return cl.Mint(env, alice, big.NewInt(1000))
	}))
	require.Equal(t, "GLD", tok.Symbol())
	require.Equal(t, int64(1000), tok.TotalSupply().Int64())

	require.NoError(t, as(c, alice, func(env *chain.Env, cl Client) error {
		return cl.Transfer(env, bob, big.NewInt(300))
	}))
	require.Equal(t, int64(700), tok.BalanceOf(alice).Int64())
	require.Equal(t, int64(300), tok.BalanceOf(bob).Int64())

	err := as(c, bob, func(env *chain.Env, cl Client) error {
		return cl.Transfer(env, alice, big.NewInt(301))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, int64(300), tok.BalanceOf(bob).Int64())
}

func TestMintRequiresMinter(t *testing.T) {
	c, tok := deploy(t)
	err := as(c, alice, func(env *chain.Env, cl Client) error {
		return cl.Mint(env, alice, big.NewInt(1))
	})
	require.ErrorIs(t, err, access.ErrUnauthorized)
	require.Zero(t, tok.TotalSupply().Sign())
}

func TestAllowanceFlow(t *testing.T) {
	c, tok := deploy(t)
	require.NoError(t, as(c, minter, func(env *chain.Env, cl Client) error {
		return cl.Mint(env, alice, big.NewInt(100))
	}))
	require.NoError(t, as(c, alice, func(env *chain.Env, cl Client) error {
		return cl.Approve(env, bob, big.NewInt(60))
	}))

	err := as(c, bob, func(env *chain.Env, cl Client) error {
		return cl.TransferFrom(env, alice, bob, big.NewInt(61))
	})
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, as(c, bob, func(env *chain.Env, cl Client) error {
		return cl.TransferFrom(env, alice, bob, big.NewInt(40))
	}))
	require.Equal(t, int64(20), tok.Allowance(alice, bob).Int64())
	require.Equal(t, int64(60), tok.BalanceOf(alice).Int64())
	require.Equal(t, int64(40), tok.BalanceOf(bob).Int64())

	err = c.View(context.Background(), bob, func(env *chain.Env) error {
		left, err := NewClient(tokenAt).Allowance(env, alice, bob)
		require.NoError(t, err)
		require.Equal(t, int64(20), left.Int64())
		bal, err := NewClient(tokenAt).BalanceOf(env, bob)
		require.NoError(t, err)
		require.Equal(t, int64(40), bal.Int64())
		return nil
	})
	require.NoError(t, err)
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	c, tok := deploy(t)
	require.NoError(t, as(c, minter, func(env *chain.Env, cl Client) error {
		return cl.Mint(env, alice, big.NewInt(5))
	}))
	require.NoError(t, as(c, alice, func(env *chain.Env, cl Client) error {
		return cl.Transfer(env, alice, big.NewInt(5))
	}))
	require.Equal(t, int64(5), tok.BalanceOf(alice).Int64())
}

func TestNegativeAmountsRejected(t *testing.T) {
	c, _ := deploy(t)
	err := as(c, alice, func(env *chain.Env, cl Client) error {
		return cl.Approve(env, bob, big.NewInt(-1))
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
}
