package persistence

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/migrations"
)

// OpenSQLite opens the embedded store with foreign keys on and applies its
// schema. A path of ":memory:" opens a private in-memory database.
func OpenSQLite(cfg config.SQLiteConfig, logger *zap.Logger) (*sql.DB, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across statements.
	db.SetMaxOpenConns(1)

	if err := MigrateSQLite(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite store ready", zap.String("path", cfg.Path))
	return db, nil
}

// MigrateSQLite applies every sqlite/NNNN_*.sql file newer than the recorded
// schema version, in one transaction.
func MigrateSQLite(db *sql.DB, fsys fs.FS) error {
	files, err := fs.ReadDir(fsys, "sqlite")
	if err != nil {
		return fmt.Errorf("read sqlite migrations: %w", err)
	}
	type migration struct {
		version int
		name    string
	}
	var pending []migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		pending = append(pending, migration{version: v, name: f.Name()})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, "sqlite/"+m.name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.version
	}
	return tx.Commit()
}
