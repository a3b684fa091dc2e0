// Package migrate applies versioned SQL scripts to a PostgreSQL database. The
// scripts come from an fs.FS so a store can embed the schema it owns.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	ErrNoMigrations = errors.New("no migrations applied")
	ErrMissingDown  = errors.New("missing down migration")
)

// Entry is one migration as seen by Status.
type Entry struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager executes migrations and seeds. Each script runs in its own
// transaction together with the bookkeeping row that marks it applied.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. seeds may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order and returns the ones it ran.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.migrations, upSuffix, m.migrationsTable, "migration")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.seeds, ".sql", m.seedsTable, "seed")
}

// Down reverts the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNoMigrations
	}
	last := applied[len(applied)-1].Name
	scripts, err := scriptsIn(m.migrations, downSuffix)
	if err != nil {
		return "", err
	}
	want := strings.TrimSuffix(last, upSuffix) + downSuffix
	i := sort.Search(len(scripts), func(i int) bool { return scripts[i].name >= want })
	if i == len(scripts) || scripts[i].name != want {
		return "", fmt.Errorf("%w for %s", ErrMissingDown, last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.run(ctx, m.migrations, scripts[i].path, forget, last); err != nil {
		return "", fmt.Errorf("revert migration %s: %w", last, err)
	}
	return last, nil
}

// Status lists every known migration, applied ones first in the order they
// ran, then pending ones by name.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	entries, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	scripts, err := scriptsIn(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name] = true
	}
	for _, s := range scripts {
		if !seen[s.name] {
			entries = append(entries, Entry{Name: s.name})
		}
	}
	return entries, nil
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix, table, kind string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(done))
	for _, e := range done {
		skip[e.Name] = true
	}
	scripts, err := scriptsIn(fsys, suffix)
	if err != nil {
		return nil, err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table)
	var ran []string
	for _, s := range scripts {
		if skip[s.name] {
			continue
		}
		if err := m.run(ctx, fsys, s.path, record, s.name, m.now()); err != nil {
			return ran, fmt.Errorf("apply %s %s: %w", kind, s.name, err)
		}
		ran = append(ran, s.name)
	}
	return ran, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// run executes the script at name and then the bookkeeping statement, both in
// one transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name, bookkeeping string, args ...any) error {
	script, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(script)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{Applied: true}
		if err := rows.Scan(&e.Name, &e.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type script struct {
	name string
	path string
}

// scriptsIn returns the files under fsys ending in suffix, sorted by base name.
// A nil or missing file system has no scripts.
func scriptsIn(fsys fs.FS, suffix string) ([]script, error) {
	if fsys == nil {
		return nil, nil
	}
	var out []script
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			out = append(out, script{name: path.Base(p), path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// splitStatements cuts a script at semicolons outside single-quoted literals
// and drops "--" line comments and blank statements.
func splitStatements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case r == '\'':
			quoted = !quoted
			cur.WriteRune(r)
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case !quoted && r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
