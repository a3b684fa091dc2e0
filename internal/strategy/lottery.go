package strategy

import (
	"fmt"
	"math/big"

	"defitown.org/internal/adapter"
	"defitown.org/internal/chain"
	"defitown.org/internal/core"
	"defitown.org/internal/protocols/lottery"
	"defitown.org/internal/protocols/token"
)

// Lottery buys tickets. The building amount is the ticket count and its
// asset the token the tickets were paid in.
type Lottery struct {
	base
	lottery chain.Address
}

func NewLottery(coreAddr, lotteryAddr, treasury chain.Address) *Lottery {
	return &Lottery{base: base{buildingType: TypeLottery, treasury: treasury, core: coreAddr}, lottery: lotteryAddr}
}

func DeployLottery(env *chain.Env, addr, coreAddr, lotteryAddr, treasury chain.Address) (*Lottery, error) {
	l := NewLottery(coreAddr, lotteryAddr, treasury)
	if err := deploy(env, addr, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lottery) PreparePlace(env *chain.Env, user, account chain.Address, params []byte) (chain.CallBatch, error) {
	var p LotteryParams
	if err := decodeParams(params, &p); err != nil {
		return chain.CallBatch{}, err
	}
	if p.Tickets == 0 {
		return chain.CallBatch{}, fmt.Errorf("%w: lottery needs at least one ticket", adapter.ErrInvalidParams)
	}
	cl := lottery.NewClient(l.lottery)
	tok, err := cl.Token(env)
	if err != nil {
		return chain.CallBatch{}, err
	}
	price, err := cl.TicketPrice(env)
	if err != nil {
		return chain.CallBatch{}, err
	}
	count := new(big.Int).SetUint64(p.Tickets)
	var bt batch
	bt.add(token.ApproveCall(tok, l.lottery, new(big.Int).Mul(price, count)))
	bt.add(lottery.BuyTicketsCall(l.lottery, p.Tickets, account))
	bt.add(core.RecordBuildingCall(l.core, l.buildingType, tok, count, p.X, p.Y))
	return bt.done()
}

// PrepareHarvest claims a prize when there is one and is otherwise empty.
func (l *Lottery) PrepareHarvest(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	if _, err := l.building(env, user, account, id); err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	if err := l.claimIfWon(env, account, &bt); err != nil {
		return chain.CallBatch{}, err
	}
	return bt.done()
}

func (l *Lottery) PrepareDemolish(env *chain.Env, user, account chain.Address, id uint64, _ []byte) (chain.CallBatch, error) {
	if _, err := l.building(env, user, account, id); err != nil {
		return chain.CallBatch{}, err
	}
	var bt batch
	if err := l.claimIfWon(env, account, &bt); err != nil {
		return chain.CallBatch{}, err
	}
	bt.add(core.DeactivateCall(l.core, id))
	return bt.done()
}

func (l *Lottery) claimIfWon(env *chain.Env, account chain.Address, bt *batch) error {
	prize, err := lottery.NewClient(l.lottery).PrizeOf(env, account)
	if err != nil {
		return err
	}
	if prize.Sign() > 0 {
		bt.add(lottery.ClaimCall(l.lottery, account))
	}
	return nil
}
