// Package account implements the per-user execution account: it runs an
// ordered batch of calls atomically on behalf of its owner.
package account

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/chain"
)

// CodeHash is the account "bytecode" identity used for counterfactual addressing.
var CodeHash = chain.CodeHashOf("execution-account")

var (
	ErrExecutionFailed   = errors.New("execution failed")
	ErrSelfCallForbidden = errors.New("batch may not call the account itself")
	ErrInvalidOwner      = errors.New("invalid owner")
)

// ExecutionError reports the call that aborted a batch.
type ExecutionError struct {
	Index  int
	Target chain.Address
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at call %d (%s): %v", e.Index, e.Target, e.Err)
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecutionFailed, e.Err} }

type Account struct {
	self       chain.Address
	entryPoint chain.Address
	factory    chain.Address
	owner      chain.Value[chain.Address]
	executors  chain.Map[chain.Address, struct{}]
	nonce      chain.Value[uint64]
	router     *abi.Router
}

// Deploy installs an account at addr. The factory is whoever deploys it.
func Deploy(env *chain.Env, addr, owner, entryPoint chain.Address) (*Account, error) {
	if owner == chain.ZeroAddress {
		return nil, ErrInvalidOwner
	}
	var a *Account
	err := env.Create(addr, CodeHash, func(ctor *chain.Env) (chain.Contract, error) {
		a = &Account{self: addr, entryPoint: entryPoint, factory: ctor.Caller()}
		if err := a.owner.Set(ctor, owner); err != nil {
			return nil, err
		}
		a.router = a.routes()
		return a, ctor.Emit("AccountInitialized", map[string]any{
			"owner":       owner.Hex(),
			"entry_point": entryPoint.Hex(),
			"factory":     ctor.Caller().Hex(),
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) Call(env *chain.Env, data []byte) ([]byte, error) {
	return a.router.Dispatch(env, data)
}

func (a *Account) Address() chain.Address    { return a.self }
func (a *Account) Owner() chain.Address      { return a.owner.Get() }
func (a *Account) EntryPoint() chain.Address { return a.entryPoint }
func (a *Account) Factory() chain.Address    { return a.factory }
func (a *Account) Nonce() uint64             { return a.nonce.Get() }

func (a *Account) IsExecutor(addr chain.Address) bool { return a.executors.Has(addr) }

func (a *Account) Executors() []chain.Address {
	out := make([]chain.Address, 0, a.executors.Len())
	a.executors.Range(func(addr chain.Address, _ struct{}) bool {
		out = append(out, addr)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

// authorize admits the owner, the entry point, registered executors and any
// holder of the factory's DEPLOYER_ROLE, checked live on every call.
func (a *Account) authorize(env *chain.Env) error {
	caller := env.Caller()
	switch {
	case caller == a.owner.Get(), caller == a.entryPoint && a.entryPoint != chain.ZeroAddress, a.executors.Has(caller):
		return nil
	}
	if env.HasCode(a.factory) {
		ok, err := access.NewClient(a.factory).HasRole(env, access.DeployerRole, caller)
		if err != nil {
			return fmt.Errorf("query factory roles: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not execute on account %s", access.ErrUnauthorized, caller, a.self)
}

// onlyOwnerOrSelf guards administration. The account reaches itself only
// through a batch the owner submitted, see checkTargets.
func (a *Account) onlyOwnerOrSelf(env *chain.Env) error {
	if c := env.Caller(); c == a.owner.Get() || c == a.self {
		return nil
	}
	return fmt.Errorf("%w: only the owner may administer account %s", access.ErrUnauthorized, a.self)
}

func (a *Account) checkTargets(env *chain.Env, targets []chain.Address) error {
	if env.Caller() == a.owner.Get() {
		return nil
	}
	for i, t := range targets {
		if t == a.self {
			return &ExecutionError{Index: i, Target: t, Err: ErrSelfCallForbidden}
		}
	}
	return nil
}

// ExecuteBatch runs every call in order; the first failure aborts the batch
// and, because the error propagates, reverts all earlier calls with it.
func (a *Account) ExecuteBatch(env *chain.Env, targets []chain.Address, values []*big.Int, datas [][]byte) ([][]byte, error) {
	if err := a.authorize(env); err != nil {
		return nil, err
	}
	batch := chain.CallBatch{Targets: targets, Values: values, Datas: datas}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := a.checkTargets(env, targets); err != nil {
		return nil, err
	}
	results := make([][]byte, 0, batch.Len())
	for i, c := range batch.Calls() {
		out, err := env.Call(c.Target, c.Value, c.Data)
		if err != nil {
			return nil, &ExecutionError{Index: i, Target: c.Target, Err: err}
		}
		results = append(results, out)
	}
	n := a.nonce.Get() + 1
	if err := a.nonce.Set(env, n); err != nil {
		return nil, err
	}
	if err := env.Emit("BatchExecuted", map[string]any{
		"caller": env.Caller().Hex(),
		"calls":  batch.Len(),
		"nonce":  n,
	}); err != nil {
		return nil, err
	}
	return results, nil
}

// Execute is ExecuteBatch for a single call.
func (a *Account) Execute(env *chain.Env, target chain.Address, value *big.Int, data []byte) ([]byte, error) {
	out, err := a.ExecuteBatch(env, []chain.Address{target}, []*big.Int{value}, [][]byte{data})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (a *Account) AddExecutor(env *chain.Env, executor chain.Address) error {
	if err := a.onlyOwnerOrSelf(env); err != nil {
		return err
	}
	if executor == chain.ZeroAddress || a.executors.Has(executor) {
		return nil
	}
	if err := a.executors.Set(env, executor, struct{}{}); err != nil {
		return err
	}
	return env.Emit("ExecutorAdded", map[string]any{"executor": executor.Hex()})
}

func (a *Account) RemoveExecutor(env *chain.Env, executor chain.Address) error {
	if err := a.onlyOwnerOrSelf(env); err != nil {
		return err
	}
	if !a.executors.Has(executor) {
		return nil
	}
	if err := a.executors.Delete(env, executor); err != nil {
		return err
	}
	return env.Emit("ExecutorRemoved", map[string]any{"executor": executor.Hex()})
}

func (a *Account) TransferOwnership(env *chain.Env, newOwner chain.Address) error {
	if err := a.onlyOwnerOrSelf(env); err != nil {
		return err
	}
	if newOwner == chain.ZeroAddress {
		return ErrInvalidOwner
	}
	prev := a.owner.Get()
	if err := a.owner.Set(env, newOwner); err != nil {
		return err
	}
	return env.Emit("OwnershipTransferred", map[string]any{
		"previous_owner": prev.Hex(),
		"new_owner":      newOwner.Hex(),
	})
}
