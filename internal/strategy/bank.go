package strategy

import (
	"fmt"

	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/protocols/lending"
	"defitown.org/internal/protocols/token"
)

// Bank deposits into the lending pool. The building amount is the supplied
// principal; harvesting claims accrued interest.
type Bank struct {
	base
	pool chain.Address
}

func NewBank(coreAddr, pool, treasury chain.Address) *Bank {
	return &Bank{base: base{buildingType: TypeBank, treasury: treasury, core: coreAddr}, pool: pool}
}

func DeployBank(env *chain.Env, addr, coreAddr, pool, treasury chain.Address) (*Bank, error) {
	b := NewBank(coreAddr, pool, treasury)
	if err := deploy(env, addr, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bank) PreparePlace(env *chain.Env, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	var p BankParams
	if err := decodeParams(params, &p); err != nil {
		return chain.CallBatch{}, err
	}
	if p.Asset == chain.ZeroAddress || !positive(p.Amount) {
		return chain.CallBatch{}, fmt.Errorf("%w: bank needs an asset and a positive amount", adapter.ErrInvalidParams)
	}
	var bt batch
	bt.add(token.ApproveCall(p.Asset, b.pool, p.Amount))
	bt.add(lending.SupplyCall(b.pool, p.Asset, p.Amount, account))
	bt.add(core.RecordBuildingCall(b.core, b.buildingType, p.Asset, p.Amount, p.X, p.Y))
	return bt.done()
}

func (b *Bank) PrepareHarvest(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	bld, err := b.building(env, user, account, id)
	if err != nil {
		return chain.CallBatch{}, err
	}
	interest, err := lending.NewClient(b.pool).InterestOf(env, bld.Asset, account)
	if err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	if interest.Sign() > 0 {
		bt.add(lending.ClaimInterestCall(b.pool, bld.Asset, account))
	}
	return bt.done()
}

// PrepareDemolish withdraws this building's principal, collecting any
// interest first, and deactivates it.
func (b *Bank) PrepareDemolish(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	bld, err := b.building(env, user, account, id)
	if err != nil {
		return chain.CallBatch{}, err
	}
	interest, err := lending.NewClient(b.pool).InterestOf(env, bld.Asset, account)
	if err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	if interest.Sign() > 0 {
		bt.add(lending.ClaimInterestCall(b.pool, bld.Asset, account))
	}
	bt.add(lending.WithdrawCall(b.pool, bld.Asset, bld.Amount, account))
	bt.add(core.DeactivateCall(b.core, id))
	return bt.done()
}
