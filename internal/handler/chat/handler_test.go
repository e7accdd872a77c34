package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/model/user"
	chatservice "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/service/ratelimit"
)

type stubGateway struct {
	err error
}

func (g *stubGateway) Send(_ context.Context, conv chat.Conversation, message, _ string, _ chat.GenerationConfig) (string, chat.Conversation, error) {
	if g.err != nil {
		return "", conv, g.err
	}
	reply := "reply to " + message
	return reply, conv.Append(message, reply), nil
}

func (g *stubGateway) Stream(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig, onDelta func(string)) (string, chat.Conversation, error) {
	reply, next, err := g.Send(ctx, conv, message, modelName, cfg)
	if err == nil {
		onDelta(reply)
	}
	return reply, next, err
}

func setupRouter(t *testing.T, gw *stubGateway) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc, err := chatservice.NewService(chatservice.Deps{
		Registry:     user.NewMemoryRegistry("alice"),
		Limiter:      ratelimit.New(2, time.Second),
		Gateway:      gw,
		DefaultModel: "gemini-1.5-flash-002",
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(chatSvc, logging.Nop()).RegisterRoutes(r)
	NewWebSocketHandler(chatSvc, logging.Nop(), nil).RegisterRoutes(r)
	return r, chatSvc
}

func doJSON(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), "body: %s", resp.Body.String())
	return resp, out
}

func startChat(t *testing.T, h http.Handler) string {
	t.Helper()
	resp, out := doJSON(t, h, "/start_chat", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	chatID, _ := out["chat_id"].(string)
	require.NotEmpty(t, chatID)
	return chatID
}

func TestStartChat(t *testing.T) {
	r, svc := setupRouter(t, &stubGateway{})

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"valid identity", `{"user_id":"alice"}`, http.StatusOK, ""},
		{"custom config", `{"user_id":"alice","model_name":"gemini-pro","generation_config":{"temperature":0.3}}`, http.StatusOK, ""},
		{"unknown identity", `{"user_id":"mallory"}`, http.StatusForbidden, "Invalid or missing user_id"},
		{"missing identity", `{}`, http.StatusForbidden, "Invalid or missing user_id"},
		{"numeric identity", `{"user_id":42}`, http.StatusForbidden, "Invalid or missing user_id"},
		{"null identity", `{"user_id":null}`, http.StatusForbidden, "Invalid or missing user_id"},
		{"bad config", `{"user_id":"alice","generation_config":{"top_p":0}}`, http.StatusBadRequest, ""},
		{"malformed body", `{"user_id":`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := doJSON(t, r, "/start_chat", tt.body)
			assert.Equal(t, tt.status, resp.Code)
			if tt.status == http.StatusOK {
				assert.NotEmpty(t, out["chat_id"])
				return
			}
			assert.NotEmpty(t, out["error"])
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, out["error"])
			}
		})
	}
	assert.Equal(t, 2, svc.SessionCount())
}

func TestSendMessage(t *testing.T) {
	r, _ := setupRouter(t, &stubGateway{})
	chatID := startChat(t, r)

	resp, out := doJSON(t, r, "/send_message", `{"chat_id":"`+chatID+`","message":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "reply to hi", out["response"])

	resp, out = doJSON(t, r, "/send_message", `{"chat_id":"`+chatID+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "chat_id and message are required", out["error"])

	resp, out = doJSON(t, r, "/send_message", `{"chat_id":"nope","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Chat session not found", out["error"])
}

func TestSendMessageRateLimited(t *testing.T) {
	r, _ := setupRouter(t, &stubGateway{})
	chatID := startChat(t, r)
	body := `{"chat_id":"` + chatID + `","message":"hi"}`

	codes := make([]int, 0, 3)
	var last map[string]any
	for i := 0; i < 3; i++ {
		resp, out := doJSON(t, r, "/send_message", body)
		codes = append(codes, resp.Code)
		last = out
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "At most 2 send_message calls may be invoked every second", last["error"])
}

func TestSendMessageUpstreamFailure(t *testing.T) {
	r, _ := setupRouter(t, &stubGateway{err: errors.New("model unavailable")})
	chatID := startChat(t, r)

	resp, out := doJSON(t, r, "/send_message", `{"chat_id":"`+chatID+`","message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "model unavailable", out["error"])
}

func TestEndChat(t *testing.T) {
	r, _ := setupRouter(t, &stubGateway{})
	chatID := startChat(t, r)

	resp, out := doJSON(t, r, "/end_chat", `{"chat_id":"`+chatID+`"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Chat ended successfully", out["message"])

	resp, out = doJSON(t, r, "/end_chat", `{"chat_id":"`+chatID+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Chat session not found", out["error"])

	resp, out = doJSON(t, r, "/end_chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "chat_id is required", out["error"])
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{&chatservice.ValidationError{Message: "chat_id is required"}, http.StatusBadRequest, "chat_id is required"},
		{chatservice.ErrUnauthorized, http.StatusForbidden, "Invalid or missing user_id"},
		{chatservice.ErrSessionNotFound, http.StatusNotFound, "Chat session not found"},
		{&chatservice.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests, "slow down"},
		{&chatservice.UpstreamError{Err: errors.New("quota")}, http.StatusInternalServerError, "quota"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		status, msg := ErrorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.msg, msg)
	}
}
