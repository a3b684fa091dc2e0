package adapter

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defitown.org/internal/chain"
)

var (
	user     = chain.HexToAddress("0x0000000000000000000000000000000000000001")
	account  = chain.HexToAddress("0x0000000000000000000000000000000000000002")
	treasury = chain.HexToAddress("0x0000000000000000000000000000000000000003")
)

type stub struct {
	touched chain.Value[int]
	mutate  bool
}

func (s *stub) BuildingType() string { return "stub" }
func (s *stub) Treasury() chain.Address { return treasury }

func (s *stub) PreparePlace(env *chain.Env, u, a chain.Address, params []byte) (chain.CallBatch, error) {
	if s.mutate {
		if err := s.touched.Set(env, 1); err != nil {
			return chain.CallBatch{}, err
		}
	}
	return chain.NewCallBatch(
		chain.Call{Target: a, Value: big.NewInt(int64(len(params)))},
		chain.Call{Target: u, Data: params},
	), nil
}

func (s *stub) PrepareHarvest(env *chain.Env, u, a chain.Address, id uint64, params []byte) (chain.CallBatch, error) {
	return chain.NewCallBatch(chain.Call{Target: a, Value: new(big.Int).SetUint64(id)}), nil
}

func (s *stub) PrepareDemolish(env *chain.Env, u, a chain.Address, id uint64, params []byte) (chain.CallBatch, error) {
	return chain.CallBatch{}, nil
}

func deploy(t *testing.T, p Protocol) (*chain.Chain, chain.Address) {
	t.Helper()
	c := chain.New()
	at := chain.SystemAddress("adapter." + p.BuildingType())
	_, err := c.Transact(context.Background(), user, func(env *chain.Env) error {
		return env.Create(at, CodeHash, func(*chain.Env) (chain.Contract, error) { return Export(p), nil })
	})
	require.NoError(t, err)
	return c, at
}

func TestClientRoundTrip(t *testing.T) {
	c, at := deploy(t, &stub{})
	err := c.View(context.Background(), user, func(env *chain.Env) error {
		cl := NewClient(at)

		bt, err := cl.BuildingType(env)
		require.NoError(t, err)
		require.Equal(t, "stub", bt)

		tr, err := cl.Treasury(env)
		require.NoError(t, err)
		require.Equal(t, treasury, tr)

		b, err := cl.PreparePlace(env, user, account, []byte{9, 9, 9})
		require.NoError(t, err)
		require.Equal(t, 2, b.Len())
		require.Equal(t, []chain.Address{account, user}, b.Targets)
		require.Equal(t, int64(3), b.Values[0].Int64())
		require.Equal(t, []byte{9, 9, 9}, b.Datas[1])

		b, err = cl.PrepareHarvest(env, user, account, 42, nil)
		require.NoError(t, err)
		require.Equal(t, uint64(42), b.Values[0].Uint64())

		b, err = cl.PrepareDemolish(env, user, account, 1, nil)
		require.NoError(t, err)
		require.Zero(t, b.Len())
		return nil
	})
	require.NoError(t, err)
}

func TestPrepareCannotMutate(t *testing.T) {
	s := &stub{mutate: true}
	c, at := deploy(t, s)
	_, err := c.Transact(context.Background(), user, func(env *chain.Env) error {
		_, err := NewClient(at).PreparePlace(env, user, account, nil)
		return err
	})
	require.ErrorIs(t, err, chain.ErrWriteProtection)
	require.Zero(t, s.touched.Get())
}
