package abi

import (
	"fmt"
	"math/big"

	"defitown.org/internal/chain"
)

// Handler serves one method. payload is the argument array without selector.
type Handler func(env *chain.Env, payload []byte) ([]byte, error)

type route struct {
	signature string
	payable   bool
	h         Handler
}

// Router dispatches calldata to handlers by selector.
type Router struct {
	routes  map[Selector]route
	receive Handler
}

func NewRouter() *Router {
	return &Router{routes: make(map[Selector]route)}
}

func (r *Router) Handle(signature string, h Handler) {
	r.add(signature, false, h)
}

// HandlePayable registers a method that accepts native value.
func (r *Router) HandlePayable(signature string, h Handler) {
	r.add(signature, true, h)
}

// Receive serves calls with empty calldata.
func (r *Router) Receive(h Handler) {
	r.receive = h
}

func (r *Router) add(signature string, payable bool, h Handler) {
	sel := SelectorOf(signature)
	if prev, ok := r.routes[sel]; ok {
		panic(fmt.Sprintf("abi: selector %s of %q collides with %q", sel, signature, prev.signature))
	}
	r.routes[sel] = route{signature: signature, payable: payable, h: h}
}

func (r *Router) Signatures() []string {
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.signature)
	}
	return out
}

func (r *Router) Dispatch(env *chain.Env, data []byte) ([]byte, error) {
	if len(data) == 0 && r.receive != nil {
		return r.receive(env, nil)
	}
	if len(data) < 4 {
		return nil, ErrShortCalldata
	}
	var sel Selector
	copy(sel[:], data[:4])
	rt, ok := r.routes[sel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, sel)
	}
	if !rt.payable && env.Value().Sign() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNonPayable, rt.signature)
	}
	return rt.h(env, data[4:])
}

// Bound is a typed handle on a deployed contract.
type Bound struct {
	Address chain.Address
}

// Send calls a mutating method from the current frame.
func (b Bound) Send(env *chain.Env, value *big.Int, signature string, args ...any) ([]byte, error) {
	data, err := Pack(signature, args...)
	if err != nil {
		return nil, err
	}
	return env.Call(b.Address, value, data)
}

// Read performs a static call.
func (b Bound) Read(env *chain.Env, signature string, args ...any) ([]byte, error) {
	data, err := Pack(signature, args...)
	if err != nil {
		return nil, err
	}
	return env.StaticCall(b.Address, data)
}

// CallTo builds a batch entry without executing it.
func CallTo(target chain.Address, value *big.Int, signature string, args ...any) (chain.Call, error) {
	data, err := Pack(signature, args...)
	if err != nil {
		return chain.Call{}, err
	}
	return chain.Call{Target: target, Value: value, Data: data}, nil
}
