package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	chatService "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/pkg/utils"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 64 * 1024
)

// WebSocketHandler 在单个连接上复用 send_message 语义
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。checkOrigin 为空时只接受同源连接。
func NewWebSocketHandler(chatSvc *chatService.Service, log *logging.Logger, checkOrigin func(*http.Request) bool) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		log:     log.Sub("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{chatID}", h.handleWebSocket)
}

type inboundMessage struct {
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// wsConn 串行化写操作；gorilla 连接只允许一个并发写者
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := h.chatSvc.GetSession(r.Context(), chatID); err != nil {
		status, message := ErrorStatus(err)
		utils.RespondError(w, status, message)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("chat_id", chatID).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Debug().Str("chat_id", chatID).Msg("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go h.pingLoop(ctx, conn)

	c := &wsConn{conn: conn}
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("chat_id", chatID).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		reply, err := h.chatSvc.SendMessage(ctx, chatID, msg.Message)
		if err != nil {
			status, message := ErrorStatus(err)
			if werr := c.writeJSON(outgoingMessage{Type: "error", Status: status, Error: message}); werr != nil {
				return
			}
			if errors.Is(err, chatService.ErrSessionNotFound) {
				h.closeWith(c, websocket.CloseNormalClosure, message)
				return
			}
			continue
		}

		if err := c.writeJSON(outgoingMessage{Type: "response", Response: reply}); err != nil {
			h.log.Debug().Err(err).Str("chat_id", chatID).Msg("write failed")
			return
		}
	}
}

func (h *WebSocketHandler) closeWith(c *wsConn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
