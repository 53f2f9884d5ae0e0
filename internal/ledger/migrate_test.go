package ledger

import (
	"database/sql"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_idempotent?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	core, logs := observer.New(zap.InfoLevel)
	applied, err := Migrate(db, DBSQLite, zap.New(core))
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0001_init" || applied[1] != "0002_memory" {
		t.Fatalf("unexpected applied versions: %v", applied)
	}
	if got := logs.FilterMessage("migration applied").Len(); got != 2 {
		t.Fatalf("expected 2 applied log lines, got %d", got)
	}

	applied, err = Migrate(db, DBSQLite, nil)
	if err != nil {
		t.Fatalf("migrate second: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied on second run, got %v", applied)
	}

	for _, table := range []string{"applications", "policies", "decision_memory", "explanations"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 migrations recorded, got %d", count)
	}
}

func TestMigrateRejectsBadInput(t *testing.T) {
	if _, err := Migrate(nil, DBSQLite, nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if _, err := Migrate(&sql.DB{}, DBDriver("nope"), nil); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadMigrationsOrdered(t *testing.T) {
	for _, driver := range []DBDriver{DBSQLite, DBPostgres} {
		d, err := dialectFor(driver)
		if err != nil {
			t.Fatalf("dialect %s: %v", driver, err)
		}
		ms, err := loadMigrations(d.dir)
		if err != nil {
			t.Fatalf("load %s: %v", driver, err)
		}
		if len(ms) != 2 || ms[0].version >= ms[1].version {
			t.Fatalf("%s: unexpected migrations %v", driver, ms)
		}
		if ms[0].sql == "" {
			t.Fatalf("%s: empty migration body", driver)
		}
	}
}
