package config

import (
	"errors"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"defitown.org/internal/auth"
	"defitown.org/internal/chain"
)

func parseMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: envPrefix, Environment: vars})
}

func TestDefaults(t *testing.T) {
	cfg, err := parseMap(map[string]string{})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Equal(t, time.Hour, cfg.TokenTTL)
	require.Equal(t, 20.0, cfg.RateLimitRPS)
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	require.Empty(t, cfg.CORSOrigins)
	require.True(t, cfg.PGMigrate)
}

func TestOverrides(t *testing.T) {
	cfg, err := parseMap(map[string]string{
		"TOWN_HTTP_ADDR":    "127.0.0.1:9000",
		"TOWN_SQLITE_PATH":  "/tmp/town.db",
		"TOWN_CORS_ORIGINS": "https://a.example,https://b.example",
		"TOWN_TOKEN_TTL":    "15m",
		"TOWN_PG_MIGRATE":   "false",
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	require.Equal(t, "/tmp/town.db", cfg.SQLitePath)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, 15*time.Minute, cfg.TokenTTL)
	require.False(t, cfg.PGMigrate)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	_, err := parseMap(map[string]string{
		"TOWN_PG_DSN":         "postgres://x",
		"TOWN_SQLITE_PATH":    "/tmp/town.db",
		"TOWN_AUTH_SECRET":    "short",
		"TOWN_MAX_BODY_BYTES": "0",
	})
	require.ErrorIs(t, err, ErrInvalid)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 3)
}

func TestBadDuration(t *testing.T) {
	_, err := parseMap(map[string]string{"TOWN_TOKEN_TTL": "soon"})
	require.Error(t, err)
}

const genesisYAML = `
admin: "0x00000000000000000000000000000000000000ad"
adapter_manager: "0x00000000000000000000000000000000000000a1"
ticket_price: 5
lending_reserve: 500
users:
  - owner: "0x0000000000000000000000000000000000000001"
    gold: 1000
    gem: 250
`

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(genesisYAML))
	require.NoError(t, err)
	cfg, err := g.TownConfig()
	require.NoError(t, err)
	require.Equal(t, chain.HexToAddress("0x00000000000000000000000000000000000000ad"), cfg.Admin)
	require.Equal(t, chain.HexToAddress("0x00000000000000000000000000000000000000a1"), cfg.AdapterManager)
	require.Equal(t, chain.ZeroAddress, cfg.Operator)
	require.Equal(t, int64(5), cfg.TicketPrice.Int64())
	require.Equal(t, int64(500), cfg.LendingReserve.Int64())
	require.Len(t, cfg.Funding, 1)
	require.Equal(t, int64(1000), cfg.Funding[0].Gold.Int64())
	require.Equal(t, int64(250), cfg.Funding[0].Gem.Int64())
}

func TestGenesisValidation(t *testing.T) {
	_, err := ParseGenesis([]byte(`
admin: "nope"
users:
  - owner: "0x0000000000000000000000000000000000000001"
  - owner: "0x0000000000000000000000000000000000000001"
  - gold: 5
`))
	require.ErrorIs(t, err, ErrInvalid)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 3)
	require.ErrorIs(t, merr.Errors[0], chain.ErrInvalidAddress)
}

func TestDefaultGenesis(t *testing.T) {
	g, err := LoadGenesis("")
	require.NoError(t, err)
	cfg, err := g.TownConfig()
	require.NoError(t, err)
	require.Equal(t, chain.HexToAddress(DevAdmin), cfg.Admin)
	require.Empty(t, cfg.Funding)
}

func TestGenesisCredentials(t *testing.T) {
	hash, err := auth.HashPassword("letmein")
	require.NoError(t, err)
	g, err := ParseGenesis([]byte(`
admin: "0x00000000000000000000000000000000000000ad"
users:
  - owner: "0x0000000000000000000000000000000000000001"
    gold: 10
    password_hash: "` + hash + `"
  - owner: "0x0000000000000000000000000000000000000002"
`))
	require.NoError(t, err)
	creds, err := g.Credentials()
	require.NoError(t, err)
	require.Equal(t, 1, creds.Len())
	require.NoError(t, creds.Check(chain.HexToAddress("0x0000000000000000000000000000000000000001"), "letmein"))

	g.Users[1].PasswordHash = "not-bcrypt"
	_, err = g.Credentials()
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
