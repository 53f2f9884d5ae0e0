package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// dialect holds what differs between drivers when tracking schema versions.
type dialect struct {
	dir       string
	table     string
	timeType  string
	insertSQL string
	stamp     func(time.Time) any
}

var dialects = map[DBDriver]dialect{
	DBSQLite: {
		dir:       "migrations/sqlite",
		table:     "schema_migrations",
		timeType:  "TEXT",
		insertSQL: "INSERT INTO %s(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING",
		stamp:     func(t time.Time) any { return t.Format(time.RFC3339) },
	},
	DBPostgres: {
		dir:       "migrations/postgres",
		table:     "xai_schema_migrations",
		timeType:  "TIMESTAMPTZ",
		insertSQL: "INSERT INTO %s(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING",
		stamp:     func(t time.Time) any { return t },
	},
}

type migration struct {
	version string
	sql     string
}

func dialectFor(driver DBDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

// Migrate applies pending embedded migrations in version order and returns
// the versions it applied. Each migration runs in its own transaction
// together with its version row, so a failed file leaves no trace.
func Migrate(db *sql.DB, driver DBDriver, log *zap.Logger) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	if log == nil {
		log = zap.NewNop()
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  version TEXT PRIMARY KEY,\n  applied_at %s NOT NULL\n)", d.table, d.timeType)); err != nil {
		return nil, fmt.Errorf("create %s: %w", d.table, err)
	}

	migrations, err := loadMigrations(d.dir)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	now := time.Now().UTC()
	for _, m := range migrations {
		ok, err := d.apply(db, m, now)
		if err != nil {
			return applied, err
		}
		if !ok {
			log.Debug("migration already applied", zap.String("driver", string(driver)), zap.String("version", m.version))
			continue
		}
		log.Info("migration applied", zap.String("driver", string(driver)), zap.String("version", m.version))
		applied = append(applied, m.version)
	}
	return applied, nil
}

// apply claims the version row first; a zero-row insert means another run
// already owns it.
func (d dialect) apply(db *sql.DB, m migration, now time.Time) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	res, err := tx.Exec(fmt.Sprintf(d.insertSQL, d.table), m.version, d.stamp(now))
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("record migration %s: %w", m.version, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if _, err := tx.Exec(m.sql); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("apply migration %s: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func loadMigrations(dir string) ([]migration, error) {
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		// embed paths always use forward slashes.
		contents, err := migrationsFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: strings.TrimSuffix(e.Name(), ".sql"), sql: string(contents)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
