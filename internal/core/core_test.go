package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/chain"
	"defitown.org/internal/factory"
)

var (
	admin     = chain.HexToAddress("0x00000000000000000000000000000000000000ad")
	u1        = chain.HexToAddress("0x0000000000000000000000000000000000000001")
	u2        = chain.HexToAddress("0x0000000000000000000000000000000000000002")
	factoryAt = chain.SystemAddress("factory")
	coreAt    = chain.SystemAddress("core")
	asset     = chain.SystemAddress("token")
)

type fixture struct {
	c    *chain.Chain
	fac  *factory.Factory
	core *Core
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{c: chain.New()}
	_, err := f.c.Transact(context.Background(), admin, func(env *chain.Env) error {
		var err error
		if f.fac, err = factory.Deploy(env, factoryAt, admin, admin); err != nil {
			return err
		}
		if f.core, err = Deploy(env, coreAt, factoryAt); err != nil {
			return err
		}
		return factory.NewClient(factoryAt).GrantRole(env, access.DeployerRole, coreAt)
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) townHall(t *testing.T, user chain.Address, x, y int64) (uint64, error) {
	t.Helper()
	var id uint64
	_, err := f.c.Transact(context.Background(), user, func(env *chain.Env) error {
		var err error
		id, err = NewClient(coreAt).CreateTownHall(env, x, y)
		return err
	})
	return id, err
}

// viaWallet runs calls through user's primary account.
func (f *fixture) viaWallet(user chain.Address, calls ...chain.Call) error {
	_, err := f.c.Transact(context.Background(), user, func(env *chain.Env) error {
		_, err := account.NewClient(f.fac.GetWalletByOwner(user)).ExecuteBatch(env, chain.NewCallBatch(calls...))
		return err
	})
	return err
}

func TestCreateTownHallProvisionsWallet(t *testing.T) {
	f := newFixture(t)
	id, err := f.townHall(t, u1, 5, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	wallet := f.fac.GetWalletByOwner(u1)
	require.NotEqual(t, chain.ZeroAddress, wallet)
	require.True(t, f.fac.IsWallet(wallet))

	b, err := f.core.Buildings(id)
	require.NoError(t, err)
	require.Equal(t, TownHall, b.BuildingType)
	require.Equal(t, u1, b.Owner)
	require.Equal(t, wallet, b.Account)
	require.True(t, b.Active)

	_, err = f.townHall(t, u1, 6, 6)
	require.ErrorIs(t, err, ErrTownHallExists)
	_, err = f.townHall(t, u2, 5, 5)
	require.ErrorIs(t, err, ErrTileOccupied)
	require.Equal(t, chain.ZeroAddress, f.fac.GetWalletByOwner(u2), "a failed town hall provisions nothing")
}

func TestCreateTownHallRequiresDeployerRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.Transact(context.Background(), admin, func(env *chain.Env) error {
		return factory.NewClient(factoryAt).RevokeRole(env, access.DeployerRole, coreAt)
	})
	require.NoError(t, err)
	_, err = f.townHall(t, u1, 0, 0)
	require.ErrorIs(t, err, access.ErrUnauthorized)
}

func TestRecordBuildingLifecycle(t *testing.T) {
	f := newFixture(t)
	_, err := f.townHall(t, u1, 0, 0)
	require.NoError(t, err)

	rec, err := RecordBuildingCall(coreAt, "bank", asset, big.NewInt(100), 1, 0)
	require.NoError(t, err)
	require.NoError(t, f.viaWallet(u1, rec))

	buildings := f.core.GetUserBuildings(u1)
	require.Len(t, buildings, 2)
	bank := buildings[1]
	require.Equal(t, "bank", bank.BuildingType)
	require.Equal(t, int64(100), bank.Amount.Int64())
	require.Equal(t, u1, bank.Owner)

	upd, err := UpdateAmountCall(coreAt, bank.ID, big.NewInt(150))
	require.NoError(t, err)
	require.NoError(t, f.viaWallet(u1, upd))
	got, err := f.core.Buildings(bank.ID)
	require.NoError(t, err)
	require.Equal(t, int64(150), got.Amount.Int64())

	deact, err := DeactivateCall(coreAt, bank.ID)
	require.NoError(t, err)
	require.NoError(t, f.viaWallet(u1, deact))
	got, _ = f.core.Buildings(bank.ID)
	require.False(t, got.Active)

	require.ErrorIs(t, f.viaWallet(u1, deact), ErrBuildingInactive)

	// The tile is free again.
	require.NoError(t, f.viaWallet(u1, rec))
	require.Equal(t, uint64(3), f.core.BuildingCount())
}

func TestRecordedBuildingReadsBatchResult(t *testing.T) {
	upd, err := UpdateAmountCall(coreAt, 1, big.NewInt(5))
	require.NoError(t, err)
	rec, err := RecordBuildingCall(coreAt, "bank", asset, big.NewInt(5), 2, 2)
	require.NoError(t, err)
	// Same calldata sent somewhere other than core does not count.
	decoy := chain.Call{Target: asset, Data: rec.Data}

	encode := func(id uint64) []byte {
		out, err := abi.EncodeReturn(id)
		require.NoError(t, err)
		return out
	}
	batch := chain.NewCallBatch(upd, decoy, rec)
	id, ok, err := RecordedBuilding(coreAt, batch, [][]byte{encode(1), encode(4), encode(9)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), id)

	_, ok, err = RecordedBuilding(coreAt, chain.NewCallBatch(upd), [][]byte{encode(1)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordBuildingRejectsNonWallets(t *testing.T) {
	f := newFixture(t)
	rec, err := RecordBuildingCall(coreAt, "bank", asset, big.NewInt(1), 1, 1)
	require.NoError(t, err)
	_, _, err = f.c.SendTransaction(context.Background(), u1, rec)
	require.ErrorIs(t, err, ErrNotWallet)
}

func TestOnlyBuildingAccountMayMutate(t *testing.T) {
	f := newFixture(t)
	id, err := f.townHall(t, u1, 0, 0)
	require.NoError(t, err)
	_, err = f.townHall(t, u2, 1, 1)
	require.NoError(t, err)

	deact, err := DeactivateCall(coreAt, id)
	require.NoError(t, err)
	require.ErrorIs(t, f.viaWallet(u2, deact), ErrNotBuildingAccount)

	missing, err := DeactivateCall(coreAt, 99)
	require.NoError(t, err)
	require.ErrorIs(t, f.viaWallet(u1, missing), ErrBuildingNotFound)
}

func TestClientReads(t *testing.T) {
	f := newFixture(t)
	id, err := f.townHall(t, u1, 3, 4)
	require.NoError(t, err)

	err = f.c.View(context.Background(), u1, func(env *chain.Env) error {
		b, err := NewClient(coreAt).Buildings(env, id)
		require.NoError(t, err)
		require.Equal(t, int64(3), b.X)
		require.Equal(t, int64(4), b.Y)
		list, err := NewClient(coreAt).GetUserBuildings(env, u1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		return nil
	})
	require.NoError(t, err)
}
