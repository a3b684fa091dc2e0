// Package factory provisions execution accounts at counterfactual addresses.
package factory

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"defitown.org/internal/abi"
	"defitown.org/internal/access"
	"defitown.org/internal/account"
	"defitown.org/internal/chain"
)

var CodeHash = chain.CodeHashOf("account-factory")

var (
	ErrInvalidEntryPoint = errors.New("invalid entry point")
	ErrInvalidOwner      = account.ErrInvalidOwner
)

const addressMemoSize = 4096

// AccountRecord describes one (owner, salt) pair, deployed or not.
type AccountRecord struct {
	Owner    chain.Address `json:"owner" cbor:"owner"`
	Salt     uint64        `json:"salt" cbor:"salt"`
	Address  chain.Address `json:"address" cbor:"address"`
	Deployed bool          `json:"deployed" cbor:"deployed"`
}

type memoKey struct {
	owner chain.Address
	salt  uint64
}

type Factory struct {
	*access.Control
	self       chain.Address
	entryPoint chain.Address
	wallets    chain.Map[chain.Address, AccountRecord]
	primary    chain.Map[chain.Address, chain.Address]
	total      chain.Value[uint64]
	memo       *lru.ARCCache
	router     *abi.Router
}

// Deploy installs a factory at addr. owner receives DEFAULT_ADMIN, ADMIN_ROLE
// and DEPLOYER_ROLE; ADMIN_ROLE administers DEPLOYER_ROLE.
func Deploy(env *chain.Env, addr, entryPoint, owner chain.Address) (*Factory, error) {
	if entryPoint == chain.ZeroAddress {
		return nil, ErrInvalidEntryPoint
	}
	if owner == chain.ZeroAddress {
		return nil, ErrInvalidOwner
	}
	memo, err := lru.NewARC(addressMemoSize)
	if err != nil {
		return nil, err
	}
	var f *Factory
	err = env.Create(addr, CodeHash, func(ctor *chain.Env) (chain.Contract, error) {
		ac, err := access.New(ctor, owner, access.AdminRole, access.DeployerRole)
		if err != nil {
			return nil, err
		}
		if err := ac.SetRoleAdmin(ctor, access.DeployerRole, access.AdminRole); err != nil {
			return nil, err
		}
		f = &Factory{Control: ac, self: addr, entryPoint: entryPoint, memo: memo}
		f.router = f.routes()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) Call(env *chain.Env, data []byte) ([]byte, error) {
	return f.router.Dispatch(env, data)
}

func (f *Factory) Address() chain.Address    { return f.self }
func (f *Factory) EntryPoint() chain.Address { return f.entryPoint }

// GetAddress is a pure function of (factory, owner, salt, account code) and
// never depends on whether the account exists.
func (f *Factory) GetAddress(owner chain.Address, salt uint64) chain.Address {
	key := memoKey{owner, salt}
	if v, ok := f.memo.Get(key); ok {
		return v.(chain.Address)
	}
	addr := chain.CreateAddress2(f.self, AccountSalt(owner, salt), account.CodeHash)
	f.memo.Add(key, addr)
	return addr
}

// AccountSalt binds the CREATE2 salt to the owner so owners never collide.
func AccountSalt(owner chain.Address, salt uint64) chain.Hash {
	s := chain.Uint64ToHash(salt)
	return chain.Keccak256(owner[:], s[:])
}

// CreateWallet deploys the (owner, salt) account if it does not exist yet and
// returns its address either way. Only a fresh deployment changes state.
func (f *Factory) CreateWallet(env *chain.Env, owner chain.Address, salt uint64) (chain.Address, error) {
	if err := f.CheckRole(env, access.DeployerRole); err != nil {
		return chain.Address{}, err
	}
	if owner == chain.ZeroAddress {
		return chain.Address{}, ErrInvalidOwner
	}
	addr := f.GetAddress(owner, salt)
	if f.wallets.Has(addr) {
		return addr, nil
	}
	if _, err := account.Deploy(env, addr, owner, f.entryPoint); err != nil {
		return chain.Address{}, fmt.Errorf("deploy account for %s: %w", owner, err)
	}
	rec := AccountRecord{Owner: owner, Salt: salt, Address: addr, Deployed: true}
	if err := f.wallets.Set(env, addr, rec); err != nil {
		return chain.Address{}, err
	}
	if salt == 0 {
		if err := f.primary.Set(env, owner, addr); err != nil {
			return chain.Address{}, err
		}
	}
	if err := f.total.Set(env, f.total.Get()+1); err != nil {
		return chain.Address{}, err
	}
	if err := env.Emit("WalletCreated", map[string]any{
		"owner":  owner.Hex(),
		"salt":   salt,
		"wallet": addr.Hex(),
	}); err != nil {
		return chain.Address{}, err
	}
	return addr, nil
}

func (f *Factory) CreateOrGetWallet(env *chain.Env, owner chain.Address) (chain.Address, error) {
	return f.CreateWallet(env, owner, 0)
}

// CreateWalletsBatch is all-or-nothing: an error leaves the transaction to revert.
func (f *Factory) CreateWalletsBatch(env *chain.Env, owners []chain.Address, salts []uint64) ([]chain.Address, error) {
	if len(owners) != len(salts) {
		return nil, fmt.Errorf("%w: %d owners, %d salts", chain.ErrLengthMismatch, len(owners), len(salts))
	}
	out := make([]chain.Address, len(owners))
	for i := range owners {
		addr, err := f.CreateWallet(env, owners[i], salts[i])
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		out[i] = addr
	}
	return out, nil
}

func (f *Factory) GetAddressesBatch(owners []chain.Address, salts []uint64) ([]chain.Address, error) {
	if len(owners) != len(salts) {
		return nil, fmt.Errorf("%w: %d owners, %d salts", chain.ErrLengthMismatch, len(owners), len(salts))
	}
	out := make([]chain.Address, len(owners))
	for i := range owners {
		out[i] = f.GetAddress(owners[i], salts[i])
	}
	return out, nil
}

func (f *Factory) IsWalletDeployed(owner chain.Address, salt uint64) bool {
	return f.wallets.Has(f.GetAddress(owner, salt))
}

// GetWalletByOwner returns the salt-0 account, or the zero address.
func (f *Factory) GetWalletByOwner(owner chain.Address) chain.Address {
	addr, _ := f.primary.Get(owner)
	return addr
}

func (f *Factory) IsFactoryWallet(addr chain.Address) bool {
	return f.wallets.Has(addr)
}

// IsWallet is an alias of IsFactoryWallet.
func (f *Factory) IsWallet(addr chain.Address) bool { return f.IsFactoryWallet(addr) }

func (f *Factory) GetWalletOwner(addr chain.Address) (chain.Address, bool) {
	rec, ok := f.wallets.Get(addr)
	return rec.Owner, ok
}

func (f *Factory) GetTotalWallets() uint64 { return f.total.Get() }

func (f *Factory) AccountRecord(owner chain.Address, salt uint64) AccountRecord {
	addr := f.GetAddress(owner, salt)
	if rec, ok := f.wallets.Get(addr); ok {
		return rec
	}
	return AccountRecord{Owner: owner, Salt: salt, Address: addr}
}
