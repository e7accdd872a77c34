package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/model/user"
	"github.com/nyu-mlab/gemini-proxy/internal/service/audit"
	chatService "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/service/ratelimit"
)

type echoGateway struct{}

func (echoGateway) Send(_ context.Context, conv chat.Conversation, message, _ string, _ chat.GenerationConfig) (string, chat.Conversation, error) {
	reply := "Hello! You said: " + message
	return reply, conv.Append(message, reply), nil
}

func (g echoGateway) Stream(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig, onDelta func(string)) (string, chat.Conversation, error) {
	reply, next, err := g.Send(ctx, conv, message, modelName, cfg)
	onDelta(reply)
	return reply, next, err
}

type fixture struct {
	router   http.Handler
	auditLog *audit.Logger
	logPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	usersPath := filepath.Join(dir, "valid_users.txt")
	require.NoError(t, os.WriteFile(usersPath, []byte("alice\n  bob  \n"), 0o600))

	logPath := filepath.Join(dir, "chat_log.jsonl")
	sink, err := audit.OpenJSONL(logPath)
	require.NoError(t, err)
	auditLog := audit.NewLogger(logging.Nop(), 16, sink)
	t.Cleanup(func() { _ = auditLog.Close() })

	svc, err := chatService.NewService(chatService.Deps{
		Registry:     user.NewFileRegistry(usersPath, logging.Nop()),
		Limiter:      ratelimit.New(2, time.Second),
		Gateway:      echoGateway{},
		Auditor:      auditLog,
		DefaultModel: "gemini-1.5-flash-002",
	})
	require.NoError(t, err)

	return &fixture{
		router:   NewRouter(svc, logging.Nop(), nil),
		auditLog: auditLog,
		logPath:  logPath,
	}
}

func (f *fixture) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestAliceConversationLifecycle(t *testing.T) {
	f := newFixture(t)

	status, out := f.post(t, "/start_chat", map[string]any{"user_id": "alice"})
	require.Equal(t, http.StatusOK, status)
	chatID, _ := out["chat_id"].(string)
	require.NotEmpty(t, chatID)

	status, out = f.post(t, "/send_message", map[string]any{"chat_id": chatID, "message": "hi"})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out["response"])

	status, out = f.post(t, "/end_chat", map[string]any{"chat_id": chatID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Chat ended successfully", out["message"])

	status, out = f.post(t, "/send_message", map[string]any{"chat_id": chatID, "message": "again"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Chat session not found", out["error"])

	// flush the audit queue before reading the file
	require.NoError(t, f.auditLog.Close())

	file, err := os.Open(f.logPath)
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "alice", lines[0]["user_id"])
	assert.Equal(t, "hi", lines[0]["message"])
	assert.EqualValues(t, len([]rune("Hello! You said: hi")), lines[0]["output_length"])
	_, err = time.Parse(time.RFC3339Nano, lines[0]["timestamp"].(string))
	assert.NoError(t, err)
}

func TestUnknownIdentityGets403(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"mallory", "", "   ", "alice2"} {
		status, out := f.post(t, "/start_chat", map[string]any{"user_id": id})
		assert.Equal(t, http.StatusForbidden, status, "identity %q", id)
		assert.Equal(t, "Invalid or missing user_id", out["error"])
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok","sessions":0,"tracked_identities":0}`, rec.Body.String())
}

func TestTrimmedAllowListEntry(t *testing.T) {
	f := newFixture(t)
	status, _ := f.post(t, "/start_chat", map[string]any{"user_id": "bob"})
	assert.Equal(t, http.StatusOK, status)
}

func TestThirdSendWithinWindowIsRejected(t *testing.T) {
	f := newFixture(t)
	_, out := f.post(t, "/start_chat", map[string]any{"user_id": "alice"})
	chatID := out["chat_id"].(string)

	var codes []int
	for i := 0; i < 3; i++ {
		status, _ := f.post(t, "/send_message", map[string]any{"chat_id": chatID, "message": "ping"})
		codes = append(codes, status)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok","sessions":1,"tracked_identities":1}`, rec.Body.String())
}

func TestMalformedBodyIs400(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/start_chat", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
