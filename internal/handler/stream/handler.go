package stream

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	handlerchat "github.com/nyu-mlab/gemini-proxy/internal/handler/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	chatService "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/pkg/utils"
)

// Handler streams model replies via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
	log     *logging.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, log *logging.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log.Sub("stream"),
	}
}

// RegisterRoutes mounts GET /stream/{chatID}?message=...
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{chatID}", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string `json:"event"`
	ChatID   string `json:"chat_id,omitempty"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// sseWriter defers the SSE headers until the first event so that failures
// before any output can still be answered with a plain JSON status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	chatID  string
	started bool
}

func (s *sseWriter) send(resp StreamResponse) {
	if !s.started {
		utils.SetupSSEHeaders(s.w)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
		utils.SendSSEChunk(s.w, s.flusher, StreamResponse{Event: "start", ChatID: s.chatID})
	}
	resp.ChatID = s.chatID
	utils.SendSSEChunk(s.w, s.flusher, resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	message := r.URL.Query().Get("message")
	sse := &sseWriter{w: w, flusher: flusher, chatID: chatID}

	reply, err := h.chatSvc.SendMessageStream(r.Context(), chatID, message, func(delta string) {
		if delta == "" {
			return
		}
		sse.send(StreamResponse{Event: "delta", Content: delta})
	})
	if err != nil {
		status, msg := handlerchat.ErrorStatus(err)
		if !sse.started {
			utils.RespondError(w, status, msg)
			return
		}
		h.log.Warn().Err(err).Str("chat_id", chatID).Msg("stream aborted")
		sse.send(StreamResponse{Event: "error", Status: status, Error: msg})
		return
	}

	sse.send(StreamResponse{Event: "end", Content: reply, Finished: true})
	h.log.Debug().Str("chat_id", chatID).Int("length", len(reply)).Msg("stream completed")
}
