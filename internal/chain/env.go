package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Contract is code deployed at an address. Call receives the frame it runs
// in; Self() is the contract's own address and Caller() the immediate sender.
type Contract interface {
	Call(env *Env, data []byte) ([]byte, error)
}

// ContractFunc adapts a function to Contract.
type ContractFunc func(env *Env, data []byte) ([]byte, error)

func (f ContractFunc) Call(env *Env, data []byte) ([]byte, error) { return f(env, data) }

// Env is a call frame inside a transaction.
type Env struct {
	chain  *Chain
	ctx    context.Context
	origin Address
	caller Address
	self   Address
	value  *big.Int
	static bool
	depth  int
	txID   string
	now    time.Time
}

func (e *Env) Context() context.Context { return e.ctx }
func (e *Env) Origin() Address          { return e.origin }
func (e *Env) Caller() Address          { return e.caller }
func (e *Env) Self() Address            { return e.self }
func (e *Env) Static() bool             { return e.static }
func (e *Env) Depth() int               { return e.depth }
func (e *Env) TxID() string             { return e.txID }
func (e *Env) Time() time.Time          { return e.now }

// Value is the native amount sent with this frame.
func (e *Env) Value() *big.Int { return new(big.Int).Set(e.value) }

func (e *Env) writable() error {
	if e.static {
		return ErrWriteProtection
	}
	return nil
}

// Record appends a custom undo step to the transaction journal.
func (e *Env) Record(undo func()) error {
	if err := e.writable(); err != nil {
		return err
	}
	e.chain.journal.append(undo)
	return nil
}

func (e *Env) Balance(addr Address) *big.Int {
	return e.chain.balance(addr)
}

func (e *Env) HasCode(addr Address) bool {
	_, ok := e.chain.code[addr]
	return ok
}

func (e *Env) CodeHash(addr Address) (Hash, bool) {
	c, ok := e.chain.code[addr]
	return c.hash, ok
}

// Transfer moves native value from the current contract to another address.
func (e *Env) Transfer(to Address, amount *big.Int) error {
	if err := e.writable(); err != nil {
		return err
	}
	return e.chain.transfer(e.self, to, amount)
}

// Emit records an event attributed to the current contract. Events are
// published only when the enclosing transaction commits.
func (e *Env) Emit(name string, fields map[string]any) error {
	if err := e.writable(); err != nil {
		return err
	}
	c := e.chain
	n := len(c.pending)
	c.journal.append(func() { c.pending = c.pending[:n] })
	c.pending = append(c.pending, Event{Name: name, Address: e.self, Fields: fields})
	return nil
}

// Call invokes target with value and calldata. A failing callee has every
// effect since the call started reverted before the error is returned.
func (e *Env) Call(target Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	if e.static && value.Sign() > 0 {
		return nil, ErrWriteProtection
	}
	return e.call(target, value, data, e.static)
}

// StaticCall invokes target read-only: any attempted mutation below it fails
// with ErrWriteProtection.
func (e *Env) StaticCall(target Address, data []byte) ([]byte, error) {
	return e.call(target, new(big.Int), data, true)
}

func (e *Env) call(target Address, value *big.Int, data []byte, static bool) ([]byte, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	c := e.chain
	if e.depth >= c.maxDepth {
		return nil, ErrDepth
	}
	snap := c.journal.snapshot()
	if value.Sign() > 0 {
		if err := c.transfer(e.self, target, value); err != nil {
			return nil, err
		}
	}
	code, ok := c.code[target]
	if !ok {
		if len(data) == 0 {
			return nil, nil
		}
		c.journal.revertTo(snap)
		return nil, fmt.Errorf("%w: %s", ErrNoCode, target)
	}
	child := e.frame(target, value, static)
	out, err := code.contract.Call(child, data)
	if err != nil {
		c.journal.revertTo(snap)
		return nil, err
	}
	return out, nil
}

// Create runs ctor in a new frame at addr and installs the contract it
// returns. A failing constructor leaves nothing behind.
func (e *Env) Create(addr Address, codeHash Hash, ctor func(env *Env) (Contract, error)) error {
	if err := e.writable(); err != nil {
		return err
	}
	c := e.chain
	if _, ok := c.code[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	if e.depth >= c.maxDepth {
		return ErrDepth
	}
	snap := c.journal.snapshot()
	contract, err := ctor(e.frame(addr, new(big.Int), false))
	if err != nil {
		c.journal.revertTo(snap)
		return err
	}
	c.code[addr] = deployed{hash: codeHash, contract: contract}
	c.journal.append(func() { delete(c.code, addr) })
	return nil
}

func (e *Env) frame(self Address, value *big.Int, static bool) *Env {
	return &Env{
		chain:  e.chain,
		ctx:    e.ctx,
		origin: e.origin,
		caller: e.self,
		self:   self,
		value:  new(big.Int).Set(value),
		static: static,
		depth:  e.depth + 1,
		txID:   e.txID,
		now:    e.now,
	}
}
