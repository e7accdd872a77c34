package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

func testSQLite(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteMigrationsApplied(t *testing.T) {
	s := testSQLite(t)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)

	require.NoError(t, s.migrate())
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSQLiteWrite(t *testing.T) {
	s := testSQLite(t)

	require.NoError(t, s.Write(chat.AuditRecord{Timestamp: ts, UserID: "alice", Message: "hi", OutputLength: 5}))
	require.NoError(t, s.Write(chat.AuditRecord{Timestamp: ts, UserID: "bob", Message: "yo", OutputLength: 2}))

	total, err := s.count("")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	alice, err := s.count("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice)

	var stamp string
	var length int
	require.NoError(t, s.db.QueryRow(`SELECT timestamp, output_length FROM audit_log WHERE user_id = 'alice'`).Scan(&stamp, &length))
	assert.Equal(t, "2024-10-01T17:30:00.0000005Z", stamp)
	assert.Equal(t, 5, length)
}

func TestLoggerFansOutToSQLiteAndJSONL(t *testing.T) {
	dir := t.TempDir()
	jsonl, err := OpenJSONL(filepath.Join(dir, "chat_log.jsonl"))
	require.NoError(t, err)
	db, err := OpenSQLite(filepath.Join(dir, "audit.db"), logging.Nop())
	require.NoError(t, err)

	l := NewLogger(logging.Nop(), 8, jsonl, db)
	l.Record("alice", "hi", 3, ts)

	// Close drains the queue before closing sinks, so reopen to verify.
	require.NoError(t, l.Close())
	reopened, err := OpenSQLite(filepath.Join(dir, "audit.db"), logging.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.count("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, readLines(t, filepath.Join(dir, "chat_log.jsonl")), 1)
}
