// Command smoke-town runs the bank end-to-end scenario against an in-process
// town and exits non-zero on the first broken expectation.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"go.uber.org/zap"

	"defitown.org/internal/chain"
	"defitown.org/internal/obs"
	"defitown.org/internal/strategy"
	"defitown.org/internal/town"
)

var (
	admin   = chain.HexToAddress("0x000000000000000000000000000000000000a11c")
	manager = chain.HexToAddress("0x000000000000000000000000000000000000a1a1")
	user    = chain.HexToAddress("0x0000000000000000000000000000000000000001")
)

func main() {
	log := obs.Logger().Named("smoke")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error("smoke failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	log.Info("smoke ok")
}

func run(ctx context.Context, log *zap.Logger) error {
	tw, err := town.Deploy(ctx, chain.New(chain.WithSink(obs.MetricsSink{})), town.Config{
		Admin:          admin,
		AdapterManager: manager,
		LendingReserve: big.NewInt(10_000),
		Funding:        []town.Funding{{Owner: user, Gold: big.NewInt(1000), Gem: big.NewInt(1000)}},
	})
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	svc := town.NewService(tw)

	entry, err := svc.Adapter(ctx, strategy.TypeBank)
	if err != nil {
		return fmt.Errorf("bank adapter: %w", err)
	}
	log.Info("bank registered", zap.String("adapter", entry.Adapter.Hex()))

	if _, _, err := svc.CreateTownHall(ctx, user, 5, 5); err != nil {
		return fmt.Errorf("town hall: %w", err)
	}
	wallet, err := svc.Wallet(ctx, user, 0)
	if err != nil {
		return err
	}
	if wallet.Address == chain.ZeroAddress || !wallet.Deployed {
		return fmt.Errorf("wallet not deployed: %+v", wallet)
	}
	log.Info("wallet deployed", zap.String("wallet", wallet.Address.Hex()))

	const amount = 400
	params, err := strategy.EncodeBankParams(strategy.BankParams{
		Tile:   strategy.Tile{X: 6, Y: 5},
		Asset:  town.GoldAddress,
		Amount: big.NewInt(amount),
	})
	if err != nil {
		return err
	}
	batch, err := svc.PreviewPlace(ctx, user, strategy.TypeBank, params)
	if err != nil {
		return fmt.Errorf("prepare place: %w", err)
	}
	if batch.Len() != 3 {
		return fmt.Errorf("expected approve, supply, record; got %d calls", batch.Len())
	}

	before, err := svc.TokenBalance(ctx, town.GoldAddress, town.LendingAddress)
	if err != nil {
		return err
	}
	out, err := svc.Place(ctx, user, strategy.TypeBank, params)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	after, err := svc.TokenBalance(ctx, town.GoldAddress, town.LendingAddress)
	if err != nil {
		return err
	}
	if supplied := new(big.Int).Sub(after, before); supplied.Int64() != amount {
		return fmt.Errorf("lending pool received %s, want %d", supplied, amount)
	}

	buildings, err := svc.Buildings(ctx, user)
	if err != nil {
		return err
	}
	banks := 0
	for _, b := range buildings {
		if b.BuildingType == strategy.TypeBank && b.Active && b.Amount.Int64() == amount {
			banks++
		}
	}
	if banks != 1 {
		return fmt.Errorf("expected one active bank of %d, found %d in %d buildings", amount, banks, len(buildings))
	}
	if out.Building == nil {
		return fmt.Errorf("place returned no building")
	}
	log.Info("bank placed", zap.Uint64("building_id", out.Building.ID), zap.String("tx_id", out.Receipt.TxID))
	return nil
}
