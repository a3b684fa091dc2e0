package town

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/obs"
	"defitown.org/internal/protocols/token"
	"defitown.org/internal/registry"
	"defitown.org/internal/strategy"
)

var (
	admin   = chain.HexToAddress("0x00000000000000000000000000000000000000ad")
	manager = chain.HexToAddress("0x00000000000000000000000000000000000000a1")
	u1      = chain.HexToAddress("0x0000000000000000000000000000000000000001")
	u2      = chain.HexToAddress("0x0000000000000000000000000000000000000002")
	u3      = chain.HexToAddress("0x0000000000000000000000000000000000000003")
)

func newService(t *testing.T) *Service {
	t.Helper()
	restore := obs.SetLogger(zap.NewNop())
	t.Cleanup(restore)
	tw, err := Deploy(context.Background(), chain.New(), Config{
		Admin:          admin,
		AdapterManager: manager,
		LendingReserve: big.NewInt(10_000),
		Funding: []Funding{
			{Owner: u1, Gold: big.NewInt(1000), Gem: big.NewInt(1000)},
			{Owner: u2, Gold: big.NewInt(1000), Gem: big.NewInt(1000)},
		},
	})
	require.NoError(t, err)
	return NewService(tw)
}

func bankParams(t *testing.T, amount int64, x, y int64) []byte {
	t.Helper()
	p, err := strategy.EncodeBankParams(strategy.BankParams{
		Tile:   strategy.Tile{X: x, Y: y},
		Asset:  GoldAddress,
		Amount: big.NewInt(amount),
	})
	require.NoError(t, err)
	return p
}

func (s *Service) gold(t *testing.T, holder chain.Address) int64 {
	t.Helper()
	b, err := s.TokenBalance(context.Background(), GoldAddress, holder)
	require.NoError(t, err)
	return b.Int64()
}

func (s *Service) gem(t *testing.T, holder chain.Address) int64 {
	t.Helper()
	b, err := s.TokenBalance(context.Background(), GemAddress, holder)
	require.NoError(t, err)
	return b.Int64()
}

func TestDeployRegistersAdapters(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	st, err := s.Registry(ctx)
	require.NoError(t, err)
	require.False(t, st.Paused)
	require.Len(t, st.Entries, 3)
	for i, bt := range []string{strategy.TypeBank, strategy.TypeShop, strategy.TypeLottery} {
		require.Equal(t, bt, st.Entries[i].BuildingType)
		require.Equal(t, AdapterAddress(bt), st.Entries[i].Adapter)
	}
	ok, err := s.HasRole(ctx, RegistryAddress, access.AdapterManagerRole, manager)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.HasRole(ctx, FactoryAddress, access.DeployerRole, CoreAddress)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.Wallet(ctx, u1, 0)
	require.NoError(t, err)
	require.False(t, rec.Deployed)
	require.Equal(t, int64(1000), s.gold(t, rec.Address), "genesis funds the counterfactual wallet")
}

func TestDeployRequiresAdmin(t *testing.T) {
	_, err := Deploy(context.Background(), chain.New(), Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBankLifecycle(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	hall, _, err := s.CreateTownHall(ctx, u1, 5, 5)
	require.NoError(t, err)
	wallet := hall.Account
	rec, err := s.Wallet(ctx, u1, 0)
	require.NoError(t, err)
	require.True(t, rec.Deployed)
	require.Equal(t, wallet, rec.Address)

	params := bankParams(t, 400, 6, 5)
	preview, err := s.PreviewPlace(ctx, u1, strategy.TypeBank, params)
	require.NoError(t, err)
	require.Equal(t, []chain.Address{GoldAddress, LendingAddress, CoreAddress}, preview.Targets)

	out, err := s.Place(ctx, u1, strategy.TypeBank, params)
	require.NoError(t, err)
	require.True(t, out.Executed)
	require.Equal(t, preview, out.Batch, "preview and execution prepare the same batch")
	require.NotNil(t, out.Building)
	bank := *out.Building
	require.Equal(t, strategy.TypeBank, bank.BuildingType)
	require.Equal(t, int64(400), bank.Amount.Int64())
	require.True(t, bank.Active)
	require.Equal(t, int64(600), s.gold(t, wallet))

	err = s.view(ctx, func(*chain.Env) error {
		require.Equal(t, int64(400), s.town.Lending.PrincipalOf(GoldAddress, wallet).Int64())
		return nil
	})
	require.NoError(t, err)

	list, err := s.Buildings(ctx, u1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, core.TownHall, list[0].BuildingType)
	require.Equal(t, bank.ID, list[1].ID)

	// Nothing accrued yet: harvest runs no batch.
	out, err = s.Harvest(ctx, u1, bank.ID, nil)
	require.NoError(t, err)
	require.False(t, out.Executed)
	require.Zero(t, out.Batch.Len())

	require.NoError(t, s.AccrueInterest(ctx, admin, wallet, GoldAddress, big.NewInt(25)))
	out, err = s.Harvest(ctx, u1, bank.ID, nil)
	require.NoError(t, err)
	require.True(t, out.Executed)
	require.Equal(t, int64(625), s.gold(t, wallet))

	out, err = s.Demolish(ctx, u1, bank.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.Batch.Len())
	require.False(t, out.Building.Active)
	require.Equal(t, int64(1025), s.gold(t, wallet))

	_, err = s.Demolish(ctx, u1, bank.ID, nil)
	require.ErrorIs(t, err, core.ErrBuildingInactive)
}

func TestFailedBatchLeavesNoTrace(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	hall, _, err := s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)

	_, err = s.Place(ctx, u1, strategy.TypeBank, bankParams(t, 5000, 1, 0))
	require.ErrorIs(t, err, account.ErrExecutionFailed)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	err = s.view(ctx, func(*chain.Env) error {
		require.Zero(t, s.town.Gold.Allowance(hall.Account, LendingAddress).Sign(), "approve was rolled back")
		return nil
	})
	require.NoError(t, err)
	list, err := s.Buildings(ctx, u1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(1000), s.gold(t, hall.Account))
}

func TestShopLifecycle(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	hall, _, err := s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)

	params, err := strategy.EncodeShopParams(strategy.ShopParams{
		Tile:    strategy.Tile{X: 2, Y: 2},
		AmountA: big.NewInt(300),
		AmountB: big.NewInt(100),
	})
	require.NoError(t, err)
	out, err := s.Place(ctx, u1, strategy.TypeShop, params)
	require.NoError(t, err)
	require.Equal(t, 4, out.Batch.Len())
	require.Equal(t, AMMAddress, out.Building.Asset)
	require.Equal(t, int64(173), out.Building.Amount.Int64())
	require.Equal(t, int64(700), s.gold(t, hall.Account))
	require.Equal(t, int64(900), s.gem(t, hall.Account))

	shop := *out.Building

	out, err = s.Harvest(ctx, u1, shop.ID, nil)
	require.NoError(t, err)
	require.False(t, out.Executed)
	require.Nil(t, out.Building, "an empty harvest reports no building")

	out, err = s.Demolish(ctx, u1, shop.ID, nil)
	require.NoError(t, err)
	require.False(t, out.Building.Active)
	require.Equal(t, int64(1000), s.gold(t, hall.Account))
	require.Equal(t, int64(1000), s.gem(t, hall.Account))
}

func TestLotteryLifecycle(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	hall, _, err := s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)

	params, err := strategy.ParamsFromJSON(strategy.TypeLottery, []byte(`{"x":3,"y":1,"tickets":3}`))
	require.NoError(t, err)
	out, err := s.Place(ctx, u1, strategy.TypeLottery, params)
	require.NoError(t, err)
	lot := *out.Building
	require.Equal(t, GemAddress, lot.Asset)
	require.Equal(t, int64(3), lot.Amount.Int64())
	require.Equal(t, int64(970), s.gem(t, hall.Account))

	require.NoError(t, s.DrawLottery(ctx, admin, hall.Account))
	batch, err := s.PreviewHarvest(ctx, u1, lot.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())

	out, err = s.Harvest(ctx, u1, lot.ID, nil)
	require.NoError(t, err)
	require.True(t, out.Executed)
	require.Equal(t, int64(1000), s.gem(t, hall.Account))

	batch, err = s.PreviewDemolish(ctx, u1, lot.ID, nil)
	require.NoError(t, err)
	require.Equal(t, []chain.Address{CoreAddress}, batch.Targets)
}

func TestOnlyOwnerMayActOnBuilding(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, _, err := s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)
	_, _, err = s.CreateTownHall(ctx, u2, 9, 9)
	require.NoError(t, err)
	out, err := s.Place(ctx, u1, strategy.TypeBank, bankParams(t, 100, 1, 0))
	require.NoError(t, err)

	_, err = s.Demolish(ctx, u2, out.Building.ID, nil)
	require.ErrorIs(t, err, strategy.ErrNotOwner)

	_, err = s.Place(ctx, u3, strategy.TypeBank, bankParams(t, 1, 4, 4))
	require.ErrorIs(t, err, ErrNoWallet)
}

func TestPauseGatesPlacement(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, _, err := s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)

	require.ErrorIs(t, s.Pause(ctx, u1), access.ErrUnauthorized)
	require.NoError(t, s.Pause(ctx, admin))

	_, err = s.Place(ctx, u1, strategy.TypeBank, bankParams(t, 100, 1, 0))
	require.ErrorIs(t, err, access.ErrEnforcedPause)
	st, err := s.Registry(ctx)
	require.NoError(t, err)
	require.True(t, st.Paused)
	require.Len(t, st.Entries, 3)

	require.NoError(t, s.Unpause(ctx, admin))
	out, err := s.Place(ctx, u1, strategy.TypeBank, bankParams(t, 100, 1, 0))
	require.NoError(t, err)
	require.NotNil(t, out.Building)
	require.Equal(t, u1, out.Building.Owner)
	require.Equal(t, strategy.TypeBank, out.Building.BuildingType)
}

func TestPauseLeavesFactoryAndCoreRunning(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Pause(ctx, admin))

	hall, _, err := s.CreateTownHall(ctx, u2, 3, 3)
	require.NoError(t, err)
	require.Equal(t, u2, hall.Owner)

	wallet, err := s.CreateWallet(ctx, admin, u3, 1)
	require.NoError(t, err)
	rec, err := s.Wallet(ctx, u3, 1)
	require.NoError(t, err)
	require.True(t, rec.Deployed)
	require.Equal(t, wallet, rec.Address)

	st, err := s.Registry(ctx)
	require.NoError(t, err)
	require.True(t, st.Paused)
}

func TestAdapterManagement(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	require.ErrorIs(t, s.RemoveAdapter(ctx, u1, strategy.TypeLottery), access.ErrUnauthorized)
	require.NoError(t, s.RemoveAdapter(ctx, manager, strategy.TypeLottery))
	_, err := s.Adapter(ctx, strategy.TypeLottery)
	require.ErrorIs(t, err, registry.ErrNotRegistered)

	_, _, err = s.CreateTownHall(ctx, u1, 0, 0)
	require.NoError(t, err)
	params, err := strategy.EncodeLotteryParams(strategy.LotteryParams{Tickets: 1, Tile: strategy.Tile{X: 1}})
	require.NoError(t, err)
	_, err = s.Place(ctx, u1, strategy.TypeLottery, params)
	require.ErrorIs(t, err, registry.ErrNotRegistered)

	require.NoError(t, s.RegisterAdapter(ctx, manager, strategy.TypeLottery, AdapterAddress(strategy.TypeLottery)))
	e, err := s.Adapter(ctx, strategy.TypeLottery)
	require.NoError(t, err)
	require.Equal(t, AdapterAddress(strategy.TypeLottery), e.Adapter)

	require.NoError(t, s.RevokeRole(ctx, admin, RegistryAddress, access.AdapterManagerRole, manager))
	require.ErrorIs(t, s.UpgradeAdapter(ctx, manager, strategy.TypeBank, AdapterAddress(strategy.TypeShop)), access.ErrUnauthorized)
}

func TestFactoryAccess(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.CreateWallet(ctx, u1, u1, 7)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	require.NoError(t, s.GrantRole(ctx, admin, FactoryAddress, access.DeployerRole, u1))
	addr, err := s.CreateWallet(ctx, u1, u1, 7)
	require.NoError(t, err)
	again, err := s.CreateWallet(ctx, u1, u1, 7)
	require.NoError(t, err)
	require.Equal(t, addr, again)

	st, err := s.FactoryStats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.TotalWallets)
	require.Equal(t, EntryPointAddress, st.EntryPoint)
}

func TestServiceLogsActions(t *testing.T) {
	s := newService(t)
	logs, restoreObs := observe()
	defer restoreObs()
	s.log = obs.Logger()

	_, _, err := s.CreateTownHall(context.Background(), u1, 0, 0)
	require.NoError(t, err)
	_, err = s.Place(context.Background(), u1, strategy.TypeBank, bankParams(t, 5000, 1, 0))
	require.Error(t, err)

	require.Equal(t, 1, logs.FilterMessage("town hall founded").Len())
	failed := logs.FilterMessage("building action failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "place", failed[0].ContextMap()["action"])
}

func observe() (*observer.ObservedLogs, func()) {
	c, logs := observer.New(zap.InfoLevel)
	return logs, obs.SetLogger(zap.New(c))
}
