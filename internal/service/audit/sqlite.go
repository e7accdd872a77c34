package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create audit log",
		SQL: `
			CREATE TABLE audit_log (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp     TEXT NOT NULL,
				user_id       TEXT NOT NULL,
				message       TEXT NOT NULL,
				output_length INTEGER NOT NULL
			);

			CREATE INDEX idx_audit_user ON audit_log (user_id, id);
		`,
	},
}

// SQLiteSink appends audit records to an SQLite table. Rows are only ever inserted.
type SQLiteSink struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string, log *logging.Logger) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases alive and writes ordered
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db, log: log.Sub("audit-sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.log.Info().Str("path", path).Msg("audit database opened")
	return s, nil
}

// Write inserts rec.
func (s *SQLiteSink) Write(rec chat.AuditRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (timestamp, user_id, message, output_length) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.UserID, rec.Message, rec.OutputLength,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// count returns the number of stored records for identity, or all records
// when identity is empty.
func (s *SQLiteSink) count(identity string) (int, error) {
	var (
		count int
		err   error
	)
	if identity == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE user_id = ?`, identity).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting audit records: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	s.log.Info().Msg("closing audit database")
	return s.db.Close()
}

func (s *SQLiteSink) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		s.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
