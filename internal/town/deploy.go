// Package town wires the contracts of one town onto a chain and runs user
// actions as prepare-then-execute transactions.
package town

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"defitown.org/internal/access"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/factory"
	"defitown.org/internal/obs"
	"defitown.org/internal/protocols/amm"
	"defitown.org/internal/protocols/lending"
	"defitown.org/internal/protocols/lottery"
	"defitown.org/internal/protocols/token"
	"defitown.org/internal/registry"
	"defitown.org/internal/strategy"
)

// System addresses are fixed so every deployment of a town agrees on them.
var (
	RegistryAddress   = chain.SystemAddress("registry")
	FactoryAddress    = chain.SystemAddress("factory")
	CoreAddress       = chain.SystemAddress("core")
	EntryPointAddress = chain.SystemAddress("entrypoint")
	GoldAddress       = chain.SystemAddress("token.gld")
	GemAddress        = chain.SystemAddress("token.gem")
	LendingAddress    = chain.SystemAddress("protocol.lending")
	AMMAddress        = chain.SystemAddress("protocol.amm")
	LotteryAddress    = chain.SystemAddress("protocol.lottery")
)

// AdapterAddress is where the built-in adapter for buildingType lives.
func AdapterAddress(buildingType string) chain.Address {
	return chain.SystemAddress("adapter." + buildingType)
}

var DefaultTicketPrice = big.NewInt(10)

var ErrInvalidConfig = errors.New("invalid town config")

// Funding is a genesis grant paid to a user's primary wallet address before
// the wallet exists.
type Funding struct {
	Owner chain.Address
	Gold  *big.Int
	Gem   *big.Int
}

type Config struct {
	Admin          chain.Address
	AdapterManager chain.Address
	Operator       chain.Address
	Treasury       chain.Address
	EntryPoint     chain.Address
	TicketPrice    *big.Int
	LendingReserve *big.Int
	Funding        []Funding
}

func (c *Config) withDefaults() error {
	if c.Admin == chain.ZeroAddress {
		return fmt.Errorf("%w: admin is required", ErrInvalidConfig)
	}
	if c.Operator == chain.ZeroAddress {
		c.Operator = c.Admin
	}
	if c.Treasury == chain.ZeroAddress {
		c.Treasury = c.Admin
	}
	if c.EntryPoint == chain.ZeroAddress {
		c.EntryPoint = EntryPointAddress
	}
	if c.TicketPrice == nil {
		c.TicketPrice = DefaultTicketPrice
	}
	return nil
}

// Town is a deployed set of contracts. Its typed handles may only be read
// inside a chain transaction or view.
type Town struct {
	Chain    *chain.Chain
	Config   Config
	Registry *registry.Registry
	Factory  *factory.Factory
	Core     *core.Core
	Gold     *token.Token
	Gem      *token.Token
	Lending  *lending.Pool
	AMM      *amm.Pool
	Lottery  *lottery.Lottery
}

// Deploy installs a town on c in one transaction sent by cfg.Admin.
func Deploy(ctx context.Context, c *chain.Chain, cfg Config) (*Town, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	t := &Town{Chain: c, Config: cfg}
	rec, err := c.Transact(ctx, cfg.Admin, func(env *chain.Env) error {
		if err := t.deployContracts(env); err != nil {
			return err
		}
		if err := t.deployAdapters(env); err != nil {
			return err
		}
		return t.genesis(env)
	})
	if err != nil {
		return nil, fmt.Errorf("deploy town: %w", err)
	}
	obs.Logger().Info("town deployed",
		zap.String("tx_id", rec.TxID),
		zap.String("admin", cfg.Admin.Hex()),
		zap.Int("events", len(rec.Events)),
	)
	return t, nil
}

func (t *Town) deployContracts(env *chain.Env) error {
	cfg := t.Config
	var err error
	if t.Registry, err = registry.Deploy(env, RegistryAddress, cfg.Admin); err != nil {
		return err
	}
	if t.Factory, err = factory.Deploy(env, FactoryAddress, cfg.EntryPoint, cfg.Admin); err != nil {
		return err
	}
	if t.Core, err = core.Deploy(env, CoreAddress, FactoryAddress); err != nil {
		return err
	}
	if err := factory.NewClient(FactoryAddress).GrantRole(env, access.DeployerRole, CoreAddress); err != nil {
		return err
	}
	if t.Gold, err = token.Deploy(env, GoldAddress, "Gold", "GLD", cfg.Admin); err != nil {
		return err
	}
	if t.Gem, err = token.Deploy(env, GemAddress, "Gem", "GEM", cfg.Admin); err != nil {
		return err
	}
	if t.Lending, err = lending.Deploy(env, LendingAddress, cfg.Operator); err != nil {
		return err
	}
	if t.AMM, err = amm.Deploy(env, AMMAddress, GoldAddress, GemAddress); err != nil {
		return err
	}
	t.Lottery, err = lottery.Deploy(env, LotteryAddress, GemAddress, cfg.TicketPrice, cfg.Operator)
	return err
}

func (t *Town) deployAdapters(env *chain.Env) error {
	cfg := t.Config
	if _, err := strategy.DeployBank(env, AdapterAddress(strategy.TypeBank), CoreAddress, LendingAddress, cfg.Treasury); err != nil {
		return err
	}
	if _, err := strategy.DeployShop(env, AdapterAddress(strategy.TypeShop), CoreAddress, AMMAddress, cfg.Treasury); err != nil {
		return err
	}
	if _, err := strategy.DeployLottery(env, AdapterAddress(strategy.TypeLottery), CoreAddress, LotteryAddress, cfg.Treasury); err != nil {
		return err
	}
	reg := registry.NewClient(RegistryAddress)
	for _, bt := range []string{strategy.TypeBank, strategy.TypeShop, strategy.TypeLottery} {
		if err := reg.RegisterAdapter(env, bt, AdapterAddress(bt)); err != nil {
			return fmt.Errorf("register %s: %w", bt, err)
		}
	}
	if cfg.AdapterManager != chain.ZeroAddress {
		return reg.GrantRole(env, access.AdapterManagerRole, cfg.AdapterManager)
	}
	return nil
}

// genesis mints grants to counterfactual wallet addresses, so a user's first
// town hall finds the funds already waiting.
func (t *Town) genesis(env *chain.Env) error {
	gold, gem := token.NewClient(GoldAddress), token.NewClient(GemAddress)
	if r := t.Config.LendingReserve; r != nil && r.Sign() > 0 {
		if err := gold.Mint(env, LendingAddress, r); err != nil {
			return err
		}
		if err := gem.Mint(env, LendingAddress, r); err != nil {
			return err
		}
	}
	for _, f := range t.Config.Funding {
		if f.Owner == chain.ZeroAddress {
			return fmt.Errorf("%w: funding without owner", ErrInvalidConfig)
		}
		wallet := t.Factory.GetAddress(f.Owner, 0)
		if f.Gold != nil && f.Gold.Sign() > 0 {
			if err := gold.Mint(env, wallet, f.Gold); err != nil {
				return err
			}
		}
		if f.Gem != nil && f.Gem.Sign() > 0 {
			if err := gem.Mint(env, wallet, f.Gem); err != nil {
				return err
			}
		}
	}
	return nil
}
