package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
	"defitown.org/internal/town"
)

// Genesis describes the town deployed at startup. Addresses are hex strings
// so YAML never reads them as integers.
type Genesis struct {
	Admin          string      `yaml:"admin"`
	AdapterManager string      `yaml:"adapter_manager,omitempty"`
	Operator       string      `yaml:"operator,omitempty"`
	Treasury       string      `yaml:"treasury,omitempty"`
	TicketPrice    uint64      `yaml:"ticket_price,omitempty"`
	LendingReserve uint64      `yaml:"lending_reserve,omitempty"`
	Users          []UserGrant `yaml:"users,omitempty"`
}

// UserGrant funds one user. PasswordHash is an optional bcrypt hash that lets
// the user log in for an API token.
type UserGrant struct {
	Owner        string `yaml:"owner"`
	Gold         uint64 `yaml:"gold"`
	Gem          uint64 `yaml:"gem"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// DevAdmin administers the town when no genesis file is configured.
const DevAdmin = "0x000000000000000000000000000000000000a11c"

func defaultGenesis() Genesis {
	return Genesis{Admin: DevAdmin, LendingReserve: 1_000_000}
}

// LoadGenesis reads path, or returns the development genesis when path is
// empty.
func LoadGenesis(path string) (Genesis, error) {
	g := defaultGenesis()
	if strings.TrimSpace(path) == "" {
		return g, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}
	return ParseGenesis(b)
}

func ParseGenesis(b []byte) (Genesis, error) {
	g := defaultGenesis()
	if err := yaml.Unmarshal(b, &g); err != nil {
		return Genesis{}, fmt.Errorf("genesis: %w", err)
	}
	if _, err := g.TownConfig(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

// TownConfig converts g, collecting every malformed entry.
func (g Genesis) TownConfig() (town.Config, error) {
	var (
		result *multierror.Error
		cfg    town.Config
	)
	addr := func(field, s string, required bool) chain.Address {
		if s == "" {
			if required {
				result = multierror.Append(result, fmt.Errorf("%w: genesis %s is required", ErrInvalid, field))
			}
			return chain.Address{}
		}
		a, err := chain.ParseAddress(s)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: genesis %s: %w", ErrInvalid, field, err))
		}
		return a
	}
	cfg.Admin = addr("admin", g.Admin, true)
	cfg.AdapterManager = addr("adapter_manager", g.AdapterManager, false)
	cfg.Operator = addr("operator", g.Operator, false)
	cfg.Treasury = addr("treasury", g.Treasury, false)
	if g.TicketPrice > 0 {
		cfg.TicketPrice = new(big.Int).SetUint64(g.TicketPrice)
	}
	cfg.LendingReserve = new(big.Int).SetUint64(g.LendingReserve)

	seen := make(map[chain.Address]bool, len(g.Users))
	for i, u := range g.Users {
		owner := addr(fmt.Sprintf("users[%d].owner", i), u.Owner, true)
		if owner == chain.ZeroAddress {
			continue
		}
		if seen[owner] {
			result = multierror.Append(result, fmt.Errorf("%w: genesis user %s listed twice", ErrInvalid, owner))
			continue
		}
		seen[owner] = true
		cfg.Funding = append(cfg.Funding, town.Funding{
			Owner: owner,
			Gold:  new(big.Int).SetUint64(u.Gold),
			Gem:   new(big.Int).SetUint64(u.Gem),
		})
	}
	if err := result.ErrorOrNil(); err != nil {
		return town.Config{}, err
	}
	return cfg, nil
}

// Credentials installs the password hashes of g's users.
func (g Genesis) Credentials() (*auth.Credentials, error) {
	creds := auth.NewCredentials()
	var result *multierror.Error
	for i, u := range g.Users {
		if u.PasswordHash == "" {
			continue
		}
		owner, err := chain.ParseAddress(u.Owner)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: genesis users[%d].owner: %w", ErrInvalid, i, err))
			continue
		}
		if err := creds.SetHash(owner, u.PasswordHash); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: genesis users[%d].password_hash: %w", ErrInvalid, i, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return creds, nil
}
