// Package sqlite persists committed chain events in a local SQLite file. It
// is the event store used when no PostgreSQL DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"defitown.org/internal/chain"
	"defitown.org/internal/obs"
	"defitown.org/internal/store"
)

type Store struct {
	db *sql.DB
}

var (
	_ chain.Sink   = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

// Open creates path if needed and prepares the schema. ":memory:" gives a
// private in-memory store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS chain_events (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_id TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			sender TEXT NOT NULL,
			contract TEXT NOT NULL,
			name TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '{}',
			committed_at TEXT NOT NULL,
			UNIQUE (tx_id, log_index)
		);`,
		`CREATE INDEX IF NOT EXISTS chain_events_contract_idx ON chain_events (contract, sequence);`,
		`CREATE INDEX IF NOT EXISTS chain_events_name_idx ON chain_events (name, sequence);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Publish(ctx context.Context, r chain.Receipt) error {
	events := store.Flatten(r)
	if len(events) == 0 {
		return nil
	}
	err := s.insert(ctx, events)
	obs.EventsPersisted.WithLabelValues("sqlite", obs.Result(err)).Add(float64(len(events)))
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
			INSERT OR IGNORE INTO chain_events(tx_id, log_index, sender, contract, name, fields, committed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ev.TxID, ev.LogIndex, ev.From.Hex(), ev.Contract.Hex(), ev.Name, string(fields), ev.At.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Events(ctx context.Context, q store.Query) ([]store.Event, error) {
	q = q.Normalized()
	where := []string{"sequence > ?"}
	args := []any{int64(q.After)}
	if q.Contract != chain.ZeroAddress {
		where = append(where, "contract = ?")
		args = append(args, q.Contract.Hex())
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.TxID != "" {
		where = append(where, "tx_id = ?")
		args = append(args, q.TxID)
	}
	args = append(args, q.Limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, tx_id, log_index, sender, contract, name, fields, committed_at
		FROM chain_events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY sequence ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []store.Event
	for rows.Next() {
		var (
			ev                     store.Event
			from, contract, fields string
			committed              string
		)
		if err := rows.Scan(&ev.Sequence, &ev.TxID, &ev.LogIndex, &from, &contract, &ev.Name, &fields, &committed); err != nil {
			return nil, err
		}
		if ev.From, err = chain.ParseAddress(from); err != nil {
			return nil, err
		}
		if ev.Contract, err = chain.ParseAddress(contract); err != nil {
			return nil, err
		}
		if ev.Fields, err = store.DecodeFields([]byte(fields)); err != nil {
			return nil, err
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, committed); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
