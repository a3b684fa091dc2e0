// Package lottery sells tickets for a token-denominated pot. The operator
// names each round's winner; winnings wait in the contract until claimed.
package lottery

import (
	"errors"
	"fmt"
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/chain"
	"defitown.org/internal/protocols/token"
)

var CodeHash = chain.CodeHashOf("lottery")

var (
	ErrInvalidCount = errors.New("ticket count must be positive")
	ErrInvalidPrice = errors.New("ticket price must be positive")
	ErrNoTickets    = errors.New("winner holds no tickets this round")
	ErrEmptyPot     = errors.New("pot is empty")
	ErrNoPrize      = errors.New("no prize to claim")
)

type ticketKey struct {
	round   uint64
	account chain.Address
}

type Lottery struct {
	self     chain.Address
	token    chain.Address
	price    *big.Int
	operator chain.Address
	round    chain.Value[uint64]
	tickets  chain.Map[ticketKey, uint64]
	sold     chain.Value[uint64]
	pot      chain.Value[*big.Int]
	prizes   chain.Map[chain.Address, *big.Int]
	router   *abi.Router
}

func Deploy(env *chain.Env, addr, tokenAddr chain.Address, price *big.Int, operator chain.Address) (*Lottery, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	var l *Lottery
	err := env.Create(addr, CodeHash, func(*chain.Env) (chain.Contract, error) {
		l = &Lottery{self: addr, token: tokenAddr, price: new(big.Int).Set(price), operator: operator}
		l.router = l.routes()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lottery) Call(env *chain.Env, data []byte) ([]byte, error) { return l.router.Dispatch(env, data) }

func (l *Lottery) Address() chain.Address { return l.self }
func (l *Lottery) Token() chain.Address   { return l.token }
func (l *Lottery) Round() uint64          { return l.round.Get() }

func (l *Lottery) TicketPrice() *big.Int { return new(big.Int).Set(l.price) }

func (l *Lottery) Pot() *big.Int {
	if v := l.pot.Get(); v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// TicketsOf counts account's tickets in the open round.
func (l *Lottery) TicketsOf(account chain.Address) uint64 {
	n, _ := l.tickets.Get(ticketKey{l.round.Get(), account})
	return n
}

func (l *Lottery) PrizeOf(account chain.Address) *big.Int {
	if v, _ := l.prizes.Get(account); v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Cost is the token amount count tickets sell for.
func (l *Lottery) Cost(count uint64) *big.Int {
	return new(big.Int).Mul(l.price, new(big.Int).SetUint64(count))
}

// BuyTickets charges the caller and credits the tickets to to.
func (l *Lottery) BuyTickets(env *chain.Env, count uint64, to chain.Address) error {
	if count == 0 {
		return ErrInvalidCount
	}
	cost := l.Cost(count)
	if err := token.NewClient(l.token).TransferFrom(env, env.Caller(), l.self, cost); err != nil {
		return err
	}
	key := ticketKey{l.round.Get(), to}
	held, _ := l.tickets.Get(key)
	if err := l.tickets.Set(env, key, held+count); err != nil {
		return err
	}
	if err := l.sold.Set(env, l.sold.Get()+count); err != nil {
		return err
	}
	if err := l.pot.Set(env, cost.Add(cost, l.Pot())); err != nil {
		return err
	}
	return env.Emit("TicketsBought", map[string]any{"buyer": to.Hex(), "count": count, "round": key.round})
}

// Draw awards the pot to winner and opens the next round.
func (l *Lottery) Draw(env *chain.Env, winner chain.Address) error {
	if env.Caller() != l.operator {
		return fmt.Errorf("%w: only the operator may draw", access.ErrUnauthorized)
	}
	pot := l.Pot()
	if pot.Sign() == 0 {
		return ErrEmptyPot
	}
	if l.TicketsOf(winner) == 0 {
		return fmt.Errorf("%w: %s", ErrNoTickets, winner)
	}
	round := l.round.Get()
	if err := l.prizes.Set(env, winner, new(big.Int).Add(l.PrizeOf(winner), pot)); err != nil {
		return err
	}
	if err := l.pot.Set(env, new(big.Int)); err != nil {
		return err
	}
	if err := l.sold.Set(env, 0); err != nil {
		return err
	}
	if err := l.round.Set(env, round+1); err != nil {
		return err
	}
	return env.Emit("Drawn", map[string]any{"round": round, "winner": winner.Hex(), "prize": pot.String()})
}

// Claim pays the caller's prize to to.
func (l *Lottery) Claim(env *chain.Env, to chain.Address) (*big.Int, error) {
	owner := env.Caller()
	prize := l.PrizeOf(owner)
	if prize.Sign() == 0 {
		return nil, ErrNoPrize
	}
	if err := l.prizes.Set(env, owner, new(big.Int)); err != nil {
		return nil, err
	}
	if err := token.NewClient(l.token).Transfer(env, to, prize); err != nil {
		return nil, err
	}
	return prize, env.Emit("PrizeClaimed", map[string]any{"winner": owner.Hex(), "to": to.Hex(), "amount": prize.String()})
}
