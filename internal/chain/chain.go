package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"defitown.org/internal/ids"
)

const defaultMaxDepth = 64

// Event is a log entry emitted by a contract during a committed transaction.
type Event struct {
	Name    string         `json:"name"`
	Address Address        `json:"address"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID   string    `json:"tx_id"`
	From   Address   `json:"from"`
	Events []Event   `json:"events"`
	At     time.Time `json:"at"`
}

// Sink receives receipts of committed transactions, in commit order.
type Sink interface {
	Publish(ctx context.Context, r Receipt) error
}

type deployed struct {
	hash     Hash
	contract Contract
}

// Chain is the shared ledger all contracts live on. Transactions are
// serialized by a single mutex and are all-or-nothing.
type Chain struct {
	mu       sync.Mutex
	balances map[Address]*big.Int
	code     map[Address]deployed
	journal  journal
	pending  []Event

	pubMu       sync.Mutex
	sinks       []Sink
	onSinkError func(Sink, error)

	clock    func() time.Time
	newTxID  func(time.Time) string
	maxDepth int
}

type Option func(*Chain)

func WithClock(clock func() time.Time) Option {
	return func(c *Chain) { c.clock = clock }
}

func WithSink(s Sink) Option {
	return func(c *Chain) { c.sinks = append(c.sinks, s) }
}

// WithTxIDs replaces the transaction id generator. It receives the block time
// of the transaction.
func WithTxIDs(gen func(time.Time) string) Option {
	return func(c *Chain) { c.newTxID = gen }
}

// OnSinkError installs a callback for sink failures. Committed state is never
// rolled back because a sink failed.
func OnSinkError(fn func(Sink, error)) Option {
	return func(c *Chain) { c.onSinkError = fn }
}

func WithMaxDepth(n int) Option {
	return func(c *Chain) { c.maxDepth = n }
}

func New(opts ...Option) *Chain {
	c := &Chain{
		balances: make(map[Address]*big.Int),
		code:     make(map[Address]deployed),
		clock:    func() time.Time { return time.Now().UTC() },
		newTxID:  ids.At,
		maxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddSink registers a sink after construction.
func (c *Chain) AddSink(s Sink) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.sinks = append(c.sinks, s)
}

// Transact runs fn as one transaction sent by from. If fn returns an error
// or panics, every state change and event it produced is discarded.
func (c *Chain) Transact(ctx context.Context, from Address, fn func(env *Env) error) (Receipt, error) {
	rec, err := c.commit(ctx, from, fn)
	if err != nil {
		return Receipt{}, err
	}
	defer c.pubMu.Unlock()
	c.publish(ctx, rec)
	return rec, nil
}

// commit returns holding pubMu on success; it is taken before the state lock
// is released so sinks observe commit order.
func (c *Chain) commit(ctx context.Context, from Address, fn func(env *Env) error) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.run(ctx, from, false, fn)
	if err != nil {
		return Receipt{}, err
	}
	c.pubMu.Lock()
	return rec, nil
}

// View runs fn in a static frame; it can read anything and change nothing.
func (c *Chain) View(ctx context.Context, from Address, fn func(env *Env) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.run(ctx, from, true, fn)
	return err
}

// SendTransaction delivers raw calldata from an external principal.
func (c *Chain) SendTransaction(ctx context.Context, from Address, call Call) ([]byte, Receipt, error) {
	var out []byte
	rec, err := c.Transact(ctx, from, func(env *Env) error {
		var err error
		out, err = env.Call(call.Target, call.Value, call.Data)
		return err
	})
	return out, rec, err
}

// CallView performs a read-only call against target.
func (c *Chain) CallView(ctx context.Context, from, target Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.View(ctx, from, func(env *Env) error {
		var err error
		out, err = env.StaticCall(target, data)
		return err
	})
	return out, err
}

func (c *Chain) run(ctx context.Context, from Address, static bool, fn func(env *Env) error) (rec Receipt, err error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	c.journal.reset()
	c.pending = nil
	now := c.clock()
	env := &Env{
		chain:  c,
		ctx:    ctx,
		origin: from,
		caller: from,
		self:   from,
		value:  new(big.Int),
		static: static,
		txID:   c.newTxID(now),
		now:    now,
	}
	defer func() {
		if p := recover(); p != nil {
			c.journal.revertTo(0)
			c.pending = nil
			panic(p)
		}
	}()
	if err := fn(env); err != nil {
		c.journal.revertTo(0)
		c.pending = nil
		return Receipt{}, err
	}
	if static {
		c.journal.revertTo(0)
		c.pending = nil
		return Receipt{}, nil
	}
	rec = Receipt{TxID: env.txID, From: from, Events: c.pending, At: env.now}
	c.journal.reset()
	c.pending = nil
	return rec, nil
}

func (c *Chain) publish(ctx context.Context, rec Receipt) {
	if len(rec.Events) == 0 {
		return
	}
	for _, s := range c.sinks {
		if err := s.Publish(ctx, rec); err != nil && c.onSinkError != nil {
			c.onSinkError(s, err)
		}
	}
}

// Mint credits native value outside any transaction; used for genesis funding.
func (c *Chain) Mint(addr Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeValue
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Add(c.balance(addr), amount)
	return nil
}

func (c *Chain) BalanceOf(addr Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance(addr)
}

func (c *Chain) Exists(addr Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.code[addr]
	return ok
}

func (c *Chain) CodeHashAt(addr Address) (Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.code[addr]
	return d.hash, ok
}

func (c *Chain) ContractAt(addr Address) (Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.code[addr]
	return d.contract, ok
}

func (c *Chain) balance(addr Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (c *Chain) transfer(from, to Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal := c.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, fromBal, amount)
	}
	prevFrom, hadFrom := c.balances[from]
	prevTo, hadTo := c.balances[to]
	c.journal.append(func() {
		restoreBalance(c.balances, from, prevFrom, hadFrom)
		restoreBalance(c.balances, to, prevTo, hadTo)
	})
	c.balances[from] = new(big.Int).Sub(fromBal, amount)
	c.balances[to] = new(big.Int).Add(c.balance(to), amount)
	return nil
}

func restoreBalance(m map[Address]*big.Int, addr Address, prev *big.Int, had bool) {
	if had {
		m[addr] = prev
	} else {
		delete(m, addr)
	}
}
