package lottery

import (
	"math/big"

	"defitown.org/internal/abi"
	"defitown.org/internal/chain"
)

const (
	SigBuyTickets  = "buyTickets(uint256,address)"
	SigDraw        = "draw(address)"
	SigClaim       = "claim(address)"
	SigTicketsOf   = "ticketsOf(address)"
	SigPrizeOf     = "prizeOf(address)"
	SigTicketPrice = "ticketPrice()"
	SigToken       = "token()"
	SigPot         = "pot()"
)

func (l *Lottery) routes() *abi.Router {
	r := abi.NewRouter()
	r.Handle(SigBuyTickets, func(env *chain.Env, b []byte) ([]byte, error) {
		var (
			count uint64
			to    chain.Address
		)
		if err := abi.Unpack(b, &count, &to); err != nil {
			return nil, err
		}
		return nil, l.BuyTickets(env, count, to)
	})
	r.Handle(SigDraw, func(env *chain.Env, b []byte) ([]byte, error) {
		var winner chain.Address
		if err := abi.Unpack(b, &winner); err != nil {
			return nil, err
		}
		return nil, l.Draw(env, winner)
	})
	r.Handle(SigClaim, func(env *chain.Env, b []byte) ([]byte, error) {
		var to chain.Address
		if err := abi.Unpack(b, &to); err != nil {
			return nil, err
		}
		prize, err := l.Claim(env, to)
		if err != nil {
			return nil, err
		}
		return abi.EncodeReturn(prize)
	})
	r.Handle(SigTicketsOf, func(env *chain.Env, b []byte) ([]byte, error) {
		var account chain.Address
		if err := abi.Unpack(b, &account); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(l.TicketsOf(account))
	})
	r.Handle(SigPrizeOf, func(env *chain.Env, b []byte) ([]byte, error) {
		var account chain.Address
		if err := abi.Unpack(b, &account); err != nil {
			return nil, err
		}
		return abi.EncodeReturn(l.PrizeOf(account))
	})
	r.Handle(SigTicketPrice, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(l.TicketPrice())
	})
	r.Handle(SigToken, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(l.token)
	})
	r.Handle(SigPot, func(env *chain.Env, _ []byte) ([]byte, error) {
		return abi.EncodeReturn(l.Pot())
	})
	return r
}

type Client struct {
	abi.Bound
}

func NewClient(addr chain.Address) Client { return Client{abi.Bound{Address: addr}} }

func (c Client) Draw(env *chain.Env, winner chain.Address) error {
	_, err := c.Send(env, nil, SigDraw, winner)
	return err
}

func (c Client) TicketsOf(env *chain.Env, account chain.Address) (uint64, error) {
	return abi.Returns[uint64](c.Read(env, SigTicketsOf, account))
}

func (c Client) PrizeOf(env *chain.Env, account chain.Address) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigPrizeOf, account))
}

func (c Client) TicketPrice(env *chain.Env) (*big.Int, error) {
	return abi.Returns[*big.Int](c.Read(env, SigTicketPrice))
}

func (c Client) Token(env *chain.Env) (chain.Address, error) {
	return abi.Returns[chain.Address](c.Read(env, SigToken))
}

func BuyTicketsCall(lottery chain.Address, count uint64, to chain.Address) (chain.Call, error) {
	return abi.CallTo(lottery, nil, SigBuyTickets, count, to)
}

func ClaimCall(lottery, to chain.Address) (chain.Call, error) {
	return abi.CallTo(lottery, nil, SigClaim, to)
}
