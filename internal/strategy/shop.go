package strategy

import (
	"fmt"

	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/protocols/amm"
	"defitown.org/internal/protocols/token"
)

// Shop provides liquidity to the AMM pool. The building records the pool as
// its asset and the minted shares as its amount.
type Shop struct {
	base
	pool chain.Address
}

func NewShop(coreAddr, pool, treasury chain.Address) *Shop {
	return &Shop{base: base{buildingType: TypeShop, treasury: treasury, core: coreAddr}, pool: pool}
}

func DeployShop(env *chain.Env, addr, coreAddr, pool, treasury chain.Address) (*Shop, error) {
	s := NewShop(coreAddr, pool, treasury)
	if err := deploy(env, addr, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shop) PreparePlace(env *chain.Env, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	var p ShopParams
	if err := decodeParams(params, &p); err != nil {
		return chain.CallBatch{}, err
	}
	if !positive(p.AmountA) || !positive(p.AmountB) {
		return chain.CallBatch{}, fmt.Errorf("%w: shop needs two positive amounts", adapter.ErrInvalidParams)
	}
	pool := amm.NewClient(s.pool)
	tokA, tokB, err := pool.Tokens(env)
	if err != nil {
		return chain.CallBatch{}, err
	}
	shares, err := pool.QuoteShares(env, p.AmountA, p.AmountB)
	if err != nil {
		return chain.CallBatch{}, err
	}
	if shares.Sign() == 0 {
		return chain.CallBatch{}, fmt.Errorf("%w: deposit mints no shares", adapter.ErrInvalidParams)
	}
	var bt batch
	bt.add(token.ApproveCall(tokA, s.pool, p.AmountA))
	bt.add(token.ApproveCall(tokB, s.pool, p.AmountB))
	bt.add(amm.AddLiquidityCall(s.pool, p.AmountA, p.AmountB, account))
	bt.add(core.RecordBuildingCall(s.core, s.buildingType, s.pool, shares, p.X, p.Y))
	return bt.done()
}

func (s *Shop) PrepareHarvest(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	if _, err := s.building(env, user, account, id); err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	due, err := s.feesDue(env, account)
	if err != nil {
		return chain.CallBatch{}, err
	}
	if due {
		bt.add(amm.CollectFeesCall(s.pool, account))
	}
	return bt.done()
}

func (s *Shop) PrepareDemolish(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	bld, err := s.building(env, user, account, id)
	if err != nil {
		return chain.CallBatch{}, err
	}
	due, err := s.feesDue(env, account)
	if err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	bt.add(amm.RemoveLiquidityCall(s.pool, bld.Amount, account))
	if due {
		bt.add(amm.CollectFeesCall(s.pool, account))
	}
	bt.add(core.DeactivateCall(s.core, id))
	return bt.done()
}

func (s *Shop) feesDue(env *chain.Env, account chain.Address) (bool, error) {
	a, b, err := amm.NewClient(s.pool).PendingFees(env, account)
	if err != nil {
		return false, err
	}
	return a.Sign() > 0 || b.Sign() > 0, nil
}
