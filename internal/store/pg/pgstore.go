// Package pg persists committed chain events in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"defitown.org/internal/chain"
	"defitown.org/internal/obs"
	"defitown.org/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations is the schema of the event store, for internal/migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const pgUndefinedTable = "42P01"

type Store struct {
	db *sql.DB
}

var (
	_ chain.Sink   = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Publish writes every event of r in one transaction. Replaying a receipt is
// a no-op.
func (s *Store) Publish(ctx context.Context, r chain.Receipt) error {
	events := store.Flatten(r)
	if len(events) == 0 {
		return nil
	}
	err := s.insert(ctx, events)
	obs.EventsPersisted.WithLabelValues("pg", obs.Result(err)).Add(float64(len(events)))
	return err
}

func (s *Store) insert(ctx context.Context, events []store.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		fields, err := store.EncodeFields(ev.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into chain_events(tx_id, log_index, sender, contract, name, fields, committed_at)
			values ($1,$2,$3,$4,$5,$6,$7)
			on conflict (tx_id, log_index) do nothing
		`, ev.TxID, ev.LogIndex, ev.From.Hex(), ev.Contract.Hex(), ev.Name, fields, ev.At); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

// Events returns the page of events after q.After in commit order.
func (s *Store) Events(ctx context.Context, q store.Query) ([]store.Event, error) {
	q = q.Normalized()
	where := []string{"sequence > $1"}
	args := []any{q.After}
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if q.Contract != chain.ZeroAddress {
		add("contract", q.Contract.Hex())
	}
	if q.Name != "" {
		add("name", q.Name)
	}
	if q.TxID != "" {
		add("tx_id", q.TxID)
	}
	args = append(args, q.Limit)
	query := fmt.Sprintf(`
		select sequence, tx_id, log_index, sender, contract, name, fields, committed_at
		from chain_events
		where %s
		order by sequence asc
		limit $%d
	`, strings.Join(where, " and "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]store.Event, error) {
	var res []store.Event
	for rows.Next() {
		var (
			ev             store.Event
			from, contract string
			fields         []byte
		)
		if err := rows.Scan(&ev.Sequence, &ev.TxID, &ev.LogIndex, &from, &contract, &ev.Name, &fields, &ev.At); err != nil {
			return nil, err
		}
		var err error
		if ev.From, err = chain.ParseAddress(from); err != nil {
			return nil, err
		}
		if ev.Contract, err = chain.ParseAddress(contract); err != nil {
			return nil, err
		}
		if ev.Fields, err = store.DecodeFields(fields); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", store.ErrSchemaMissing, pgErr.Message)
	}
	return err
}
