package town

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/factory"
	"defitown.org/internal/obs"
	"defitown.org/internal/protocols/lending"
	"defitown.org/internal/protocols/lottery"
	"defitown.org/internal/registry"
)

var ErrNoWallet = errors.New("user has no wallet; found a town hall first")

// Action names a building lifecycle step.
type Action string

const (
	ActionPlace    Action = "place"
	ActionHarvest  Action = "harvest"
	ActionDemolish Action = "demolish"
)

// Outcome reports one executed building action.
type Outcome struct {
	Batch    chain.CallBatch `json:"batch"`
	Results  [][]byte        `json:"results,omitempty"`
	Receipt  chain.Receipt   `json:"receipt"`
	Building *core.Building  `json:"building,omitempty"`
	Executed bool            `json:"executed"`
}

// Service runs user actions against a deployed town.
type Service struct {
	town *Town
	log  *zap.Logger
}

func NewService(t *Town) *Service {
	return &Service{town: t, log: obs.Logger().Named("town")}
}

func (s *Service) Town() *Town { return s.town }

// CreateTownHall founds user's town, provisioning their wallet on the way.
func (s *Service) CreateTownHall(ctx context.Context, user chain.Address, x, y int64) (core.Building, chain.Receipt, error) {
	var b core.Building
	rec, err := s.town.Chain.Transact(ctx, user, func(env *chain.Env) error {
		id, err := core.NewClient(CoreAddress).CreateTownHall(env, x, y)
		if err != nil {
			return err
		}
		b, err = s.town.Core.Buildings(id)
		return err
	})
	if err != nil {
		return core.Building{}, chain.Receipt{}, err
	}
	s.log.Info("town hall founded", zap.String("user", user.Hex()), zap.Uint64("building_id", b.ID), zap.String("wallet", b.Account.Hex()))
	return b, rec, nil
}

// prepareFunc asks the registry for a batch from inside a transaction.
type prepareFunc func(env *chain.Env, wallet chain.Address) (chain.CallBatch, error)

// run prepares and executes a batch for user in one transaction. An empty
// batch commits nothing.
func (s *Service) run(ctx context.Context, user chain.Address, bt string, action Action, prepare prepareFunc, after func(env *chain.Env, out *Outcome) error) (Outcome, error) {
	var out Outcome
	rec, err := s.town.Chain.Transact(ctx, user, func(env *chain.Env) error {
		wallet := s.town.Factory.GetWalletByOwner(user)
		if wallet == chain.ZeroAddress {
			return ErrNoWallet
		}
		batch, err := prepare(env, wallet)
		obs.PrepareTotal.WithLabelValues(bt, string(action), obs.Result(err)).Inc()
		if err != nil {
			return fmt.Errorf("prepare %s %s: %w", action, bt, err)
		}
		out.Batch = batch
		if batch.Len() == 0 {
			return nil
		}
		out.Results, err = account.NewClient(wallet).ExecuteBatch(env, batch)
		if err != nil {
			obs.BatchesExecuted.WithLabelValues("error").Inc()
			return err
		}
		out.Executed = true
		if after != nil {
			return after(env, &out)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("building action failed",
			zap.String("user", user.Hex()),
			zap.String("building_type", bt),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return Outcome{}, err
	}
	out.Receipt = rec
	s.log.Info("building action",
		zap.String("user", user.Hex()),
		zap.String("building_type", bt),
		zap.String("action", string(action)),
		zap.Int("calls", out.Batch.Len()),
		zap.String("tx_id", rec.TxID),
	)
	return out, nil
}

// Place opens a buildingType position for user and records the building.
func (s *Service) Place(ctx context.Context, user chain.Address, buildingType string, params []byte) (Outcome, error) {
	prepare := func(env *chain.Env, wallet chain.Address) (chain.CallBatch, error) {
		return registry.NewClient(RegistryAddress).PreparePlace(env, buildingType, user, wallet, params)
	}
	after := func(env *chain.Env, out *Outcome) error {
		id, ok, err := core.RecordedBuilding(CoreAddress, out.Batch, out.Results)
		if err != nil || !ok {
			return err
		}
		b, err := s.town.Core.Buildings(id)
		if err != nil {
			return err
		}
		out.Building = &b
		return nil
	}
	return s.run(ctx, user, buildingType, ActionPlace, prepare, after)
}

func (s *Service) Harvest(ctx context.Context, user chain.Address, id uint64, params []byte) (Outcome, error) {
	return s.lifecycle(ctx, user, id, params, ActionHarvest)
}

func (s *Service) Demolish(ctx context.Context, user chain.Address, id uint64, params []byte) (Outcome, error) {
	return s.lifecycle(ctx, user, id, params, ActionDemolish)
}

func (s *Service) lifecycle(ctx context.Context, user chain.Address, id uint64, params []byte, action Action) (Outcome, error) {
	bt, err := s.buildingType(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	prepare := func(env *chain.Env, wallet chain.Address) (chain.CallBatch, error) {
		return s.prepareLifecycle(env, action, bt, user, wallet, id, params)
	}
	after := func(env *chain.Env, out *Outcome) error {
		b, err := s.town.Core.Buildings(id)
		if err != nil {
			return err
		}
		out.Building = &b
		return nil
	}
	return s.run(ctx, user, bt, action, prepare, after)
}

func (s *Service) prepareLifecycle(env *chain.Env, action Action, bt string, user, wallet chain.Address, id uint64, params []byte) (chain.CallBatch, error) {
	reg := registry.NewClient(RegistryAddress)
	if action == ActionHarvest {
		return reg.PrepareHarvest(env, bt, user, wallet, id, params)
	}
	return reg.PrepareDemolish(env, bt, user, wallet, id, params)
}

func (s *Service) buildingType(ctx context.Context, id uint64) (string, error) {
	var bt string
	err := s.view(ctx, func(env *chain.Env) error {
		b, err := s.town.Core.Buildings(id)
		bt = b.BuildingType
		return err
	})
	return bt, err
}

// PreviewPlace returns the batch Place would run without running it.
func (s *Service) PreviewPlace(ctx context.Context, user chain.Address, buildingType string, params []byte) (chain.CallBatch, error) {
	var batch chain.CallBatch
	err := s.town.Chain.View(ctx, user, func(env *chain.Env) error {
		wallet, err := s.previewWallet(user)
		if err != nil {
			return err
		}
		batch, err = registry.NewClient(RegistryAddress).PreparePlace(env, buildingType, user, wallet, params)
		return err
	})
	return batch, err
}

func (s *Service) PreviewHarvest(ctx context.Context, user chain.Address, id uint64, params []byte) (chain.CallBatch, error) {
	return s.previewLifecycle(ctx, user, id, params, ActionHarvest)
}

func (s *Service) PreviewDemolish(ctx context.Context, user chain.Address, id uint64, params []byte) (chain.CallBatch, error) {
	return s.previewLifecycle(ctx, user, id, params, ActionDemolish)
}

func (s *Service) previewLifecycle(ctx context.Context, user chain.Address, id uint64, params []byte, action Action) (chain.CallBatch, error) {
	var batch chain.CallBatch
	err := s.town.Chain.View(ctx, user, func(env *chain.Env) error {
		b, err := s.town.Core.Buildings(id)
		if err != nil {
			return err
		}
		wallet, err := s.previewWallet(user)
		if err != nil {
			return err
		}
		batch, err = s.prepareLifecycle(env, action, b.BuildingType, user, wallet, id, params)
		return err
	})
	return batch, err
}

// previewWallet falls back to the counterfactual address so a user can
// preview a placement before founding their town.
func (s *Service) previewWallet(user chain.Address) (chain.Address, error) {
	if w := s.town.Factory.GetWalletByOwner(user); w != chain.ZeroAddress {
		return w, nil
	}
	if user == chain.ZeroAddress {
		return chain.Address{}, ErrNoWallet
	}
	return s.town.Factory.GetAddress(user, 0), nil
}

func (s *Service) view(ctx context.Context, fn func(env *chain.Env) error) error {
	return s.town.Chain.View(ctx, chain.ZeroAddress, fn)
}

// Registry administration. caller must hold the relevant role.

func (s *Service) RegisterAdapter(ctx context.Context, caller chain.Address, buildingType string, adapterAddr chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return registry.NewClient(RegistryAddress).RegisterAdapter(env, buildingType, adapterAddr)
	})
	return err
}

func (s *Service) UpgradeAdapter(ctx context.Context, caller chain.Address, buildingType string, adapterAddr chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return registry.NewClient(RegistryAddress).UpgradeAdapter(env, buildingType, adapterAddr)
	})
	return err
}

func (s *Service) RemoveAdapter(ctx context.Context, caller chain.Address, buildingType string) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return registry.NewClient(RegistryAddress).RemoveAdapter(env, buildingType)
	})
	return err
}

func (s *Service) Pause(ctx context.Context, caller chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return registry.NewClient(RegistryAddress).Pause(env)
	})
	return err
}

func (s *Service) Unpause(ctx context.Context, caller chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return registry.NewClient(RegistryAddress).Unpause(env)
	})
	return err
}

// GrantRole and RevokeRole act on the AccessControl of contract, which is
// the registry or the factory.
func (s *Service) GrantRole(ctx context.Context, caller, contract chain.Address, role access.Role, member chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return access.NewClient(contract).GrantRole(env, role, member)
	})
	return err
}

func (s *Service) RevokeRole(ctx context.Context, caller, contract chain.Address, role access.Role, member chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		return access.NewClient(contract).RevokeRole(env, role, member)
	})
	return err
}

func (s *Service) HasRole(ctx context.Context, contract chain.Address, role access.Role, member chain.Address) (bool, error) {
	var ok bool
	err := s.view(ctx, func(env *chain.Env) error {
		var err error
		ok, err = access.NewClient(contract).HasRole(env, role, member)
		return err
	})
	return ok, err
}

// RegistryState is a consistent snapshot of the registry.
type RegistryState struct {
	Paused  bool             `json:"paused"`
	Entries []registry.Entry `json:"adapters"`
}

func (s *Service) Registry(ctx context.Context) (RegistryState, error) {
	var st RegistryState
	err := s.view(ctx, func(*chain.Env) error {
		st = RegistryState{Paused: s.town.Registry.Paused(), Entries: s.town.Registry.Entries()}
		return nil
	})
	return st, err
}

func (s *Service) Adapter(ctx context.Context, buildingType string) (registry.Entry, error) {
	var e registry.Entry
	err := s.view(ctx, func(*chain.Env) error {
		var ok bool
		if e, ok = s.town.Registry.GetEntry(buildingType); !ok {
			return fmt.Errorf("%w: %q", registry.ErrNotRegistered, buildingType)
		}
		return nil
	})
	return e, err
}

// Factory access.

func (s *Service) CreateWallet(ctx context.Context, caller, owner chain.Address, salt uint64) (chain.Address, error) {
	var addr chain.Address
	_, err := s.town.Chain.Transact(ctx, caller, func(env *chain.Env) error {
		var err error
		addr, err = factory.NewClient(FactoryAddress).CreateWallet(env, owner, salt)
		return err
	})
	return addr, err
}

func (s *Service) Wallet(ctx context.Context, owner chain.Address, salt uint64) (factory.AccountRecord, error) {
	var rec factory.AccountRecord
	err := s.view(ctx, func(*chain.Env) error {
		rec = s.town.Factory.AccountRecord(owner, salt)
		return nil
	})
	return rec, err
}

type FactoryStats struct {
	TotalWallets uint64        `json:"total_wallets"`
	EntryPoint   chain.Address `json:"entry_point"`
	Address      chain.Address `json:"address"`
}

func (s *Service) FactoryStats(ctx context.Context) (FactoryStats, error) {
	var st FactoryStats
	err := s.view(ctx, func(*chain.Env) error {
		st = FactoryStats{
			TotalWallets: s.town.Factory.GetTotalWallets(),
			EntryPoint:   s.town.Factory.EntryPoint(),
			Address:      s.town.Factory.Address(),
		}
		return nil
	})
	return st, err
}

// Buildings lists every building owner has founded, active or not.
func (s *Service) Buildings(ctx context.Context, owner chain.Address) ([]core.Building, error) {
	var out []core.Building
	err := s.view(ctx, func(*chain.Env) error {
		out = s.town.Core.GetUserBuildings(owner)
		return nil
	})
	return out, err
}

func (s *Service) Building(ctx context.Context, id uint64) (core.Building, error) {
	var b core.Building
	err := s.view(ctx, func(*chain.Env) error {
		var err error
		b, err = s.town.Core.Buildings(id)
		return err
	})
	return b, err
}

// Operator actions drive the simulated protocols.

func (s *Service) AccrueInterest(ctx context.Context, operator, depositor, asset chain.Address, interest *big.Int) error {
	_, err := s.town.Chain.Transact(ctx, operator, func(env *chain.Env) error {
		return lending.NewClient(LendingAddress).Accrue(env, depositor, asset, interest)
	})
	return err
}

func (s *Service) DrawLottery(ctx context.Context, operator, winner chain.Address) error {
	_, err := s.town.Chain.Transact(ctx, operator, func(env *chain.Env) error {
		return lottery.NewClient(LotteryAddress).Draw(env, winner)
	})
	return err
}

// TokenBalance reads holder's balance of the town token at tokenAddr.
func (s *Service) TokenBalance(ctx context.Context, tokenAddr, holder chain.Address) (*big.Int, error) {
	var bal *big.Int
	err := s.view(ctx, func(*chain.Env) error {
		switch tokenAddr {
		case GoldAddress:
			bal = s.town.Gold.BalanceOf(holder)
		case GemAddress:
			bal = s.town.Gem.BalanceOf(holder)
		default:
			return fmt.Errorf("%w: %s", chain.ErrNoCode, tokenAddr)
		}
		return nil
	})
	return bal, err
}
