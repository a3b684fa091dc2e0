package migrate

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var appliedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func migrations() fstest.MapFS {
	return fstest.MapFS{
		"0001_events.up.sql":   {Data: []byte("create table a(id int);\n-- index for lookups\ncreate index a_id on a(id);")},
		"0001_events.down.sql": {Data: []byte("drop table a;")},
		"0002_more.up.sql":     {Data: []byte("alter table a add column note text default 'x;y';")},
	}
}

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	m := NewManager(db, migrations(), nil)
	m.now = func() time.Time { return appliedAt }
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	return m, mock
}

func appliedRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "applied_at"})
	for _, n := range names {
		rows.AddRow(n, appliedAt)
	}
	return rows
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows("0001_events.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("alter table a add column note text default 'x;y'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_more.up.sql", appliedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ran, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"0002_more.up.sql"}) {
		t.Fatalf("unexpected applied list: %v", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackScriptAndRecordTogether(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows())
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index a_id").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	ran, err := m.Up(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(ran) != 0 {
		t.Fatalf("nothing should be reported applied, got %v", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRevertsLast(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows("0001_events.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_events.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_events.up.sql" {
		t.Fatalf("unexpected reverted name %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownErrors(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows())
	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNoMigrations) {
		t.Fatalf("expected ErrNoMigrations, got %v", err)
	}

	m, mock = newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows("0002_more.up.sql"))
	if _, err := m.Down(context.Background()); !errors.Is(err, ErrMissingDown) {
		t.Fatalf("expected ErrMissingDown, got %v", err)
	}
}

func TestStatusListsPending(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(appliedRows("0001_events.up.sql"))

	got, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := []Entry{
		{Name: "0001_events.up.sql", Applied: true, AppliedAt: appliedAt},
		{Name: "0002_more.up.sql"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSeedWithoutSeedsIsNoop(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("select name, applied_at from schema_seeds").WillReturnRows(appliedRows())
	ran, err := m.Seed(context.Background())
	if err != nil || len(ran) != 0 {
		t.Fatalf("expected no seeds, got %v (%v)", ran, err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("create table a(x text default ';');\n-- note; not a statement\ninsert into a values ('b;c');\n;")
	want := []string{"create table a(x text default ';')", "insert into a values ('b;c')"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
