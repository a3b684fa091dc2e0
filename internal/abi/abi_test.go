package abi

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defitown.org/internal/chain"
)

func TestSelectorMatchesEthereum(t *testing.T) {
	cases := map[string]string{
		"transfer(address,uint256)": "a9059cbb",
		"approve(address,uint256)":  "095ea7b3",
		"balanceOf(address)":        "70a08231",
	}
	for sig, want := range cases {
		t.Run(sig, func(t *testing.T) {
			sel := SelectorOf(sig)
			require.Equal(t, want, hex.EncodeToString(sel[:]))
		})
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	to := chain.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := Pack("transfer(address,uint256)", to, big.NewInt(1_000_000))
	require.NoError(t, err)

	var (
		gotTo  chain.Address
		gotAmt *big.Int
	)
	require.NoError(t, Unpack(data[4:], &gotTo, &gotAmt))
	require.Equal(t, to, gotTo)
	require.Equal(t, int64(1_000_000), gotAmt.Int64())

	err = Unpack(data[4:], &gotTo)
	require.ErrorIs(t, err, ErrInvalidCalldata)
}

func TestPackIsDeterministic(t *testing.T) {
	batch := chain.NewCallBatch(chain.Call{Target: chain.SystemAddress("x"), Value: big.NewInt(1), Data: []byte{1, 2}})
	a := MustPack("executeBatch(address[],uint256[],bytes[])", batch.Targets, batch.Values, batch.Datas)
	b := MustPack("executeBatch(address[],uint256[],bytes[])", batch.Targets, batch.Values, batch.Datas)
	require.Equal(t, a, b)

	var back chain.CallBatch
	require.NoError(t, Unpack(a[4:], &back.Targets, &back.Values, &back.Datas))
	require.Equal(t, batch.Targets, back.Targets)
	require.Equal(t, batch.Datas, back.Datas)
	require.Equal(t, 0, batch.Values[0].Cmp(back.Values[0]))
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()
	r.Handle("echo(string)", func(env *chain.Env, payload []byte) ([]byte, error) {
		var s string
		if err := Unpack(payload, &s); err != nil {
			return nil, err
		}
		return EncodeReturn(s + "!")
	})
	at := chain.SystemAddress("echo")
	sender := chain.SystemAddress("sender")
	c := chain.New()
	require.NoError(t, c.Mint(sender, big.NewInt(10)))
	_, err := c.Transact(context.Background(), sender, func(env *chain.Env) error {
		return env.Create(at, chain.CodeHashOf("echo"), func(*chain.Env) (chain.Contract, error) {
			return chain.ContractFunc(r.Dispatch), nil
		})
	})
	require.NoError(t, err)

	out, err := c.CallView(context.Background(), sender, at, MustPack("echo(string)", "hi"))
	require.NoError(t, err)
	var s string
	require.NoError(t, DecodeReturn(out, &s))
	require.Equal(t, "hi!", s)

	_, err = c.CallView(context.Background(), sender, at, []byte{1, 2})
	require.ErrorIs(t, err, ErrShortCalldata)

	_, err = c.CallView(context.Background(), sender, at, MustPack("nope()"))
	require.ErrorIs(t, err, ErrUnknownSelector)

	_, _, err = c.SendTransaction(context.Background(), sender, chain.Call{Target: at, Value: big.NewInt(1), Data: MustPack("echo(string)", "x")})
	require.ErrorIs(t, err, ErrNonPayable)
}

func TestRouterPanicsOnDuplicate(t *testing.T) {
	r := NewRouter()
	r.Handle("a()", nil)
	require.Panics(t, func() { r.Handle("a()", nil) })
}
