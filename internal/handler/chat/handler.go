package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
	chatService "github.com/nyu-mlab/gemini-proxy/internal/service/chat"
	"github.com/nyu-mlab/gemini-proxy/pkg/utils"
)

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	log     *logging.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, log *logging.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log.Sub("handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start_chat", h.handleStartChat)
	r.Post("/send_message", h.handleSendMessage)
	r.Post("/end_chat", h.handleEndChat)
}

type startChatRequest struct {
	UserID           json.RawMessage             `json:"user_id"`
	ModelName        string                      `json:"model_name"`
	GenerationConfig *chat.GenerationConfigInput `json:"generation_config"`
}

// identity 非字符串的 user_id 视为缺失，交由白名单拒绝 (403)
func (p startChatRequest) identity() string {
	var id string
	if err := json.Unmarshal(p.UserID, &id); err != nil {
		return ""
	}
	return id
}

type sendMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type endChatRequest struct {
	ChatID string `json:"chat_id"`
}

// handleStartChat 创建会话，返回 chat_id
func (h *Handler) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var payload startChatRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.StartChat(r.Context(), chatService.StartChatRequest{
		UserID:           payload.identity(),
		ModelName:        payload.ModelName,
		GenerationConfig: payload.GenerationConfig,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"chat_id": session.ID})
}

// handleSendMessage 发送一轮消息并返回模型回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload sendMessageRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "chat_id and message are required")
		return
	}

	reply, err := h.chatSvc.SendMessage(r.Context(), payload.ChatID, payload.Message)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// handleEndChat 结束会话
func (h *Handler) handleEndChat(w http.ResponseWriter, r *http.Request) {
	var payload endChatRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	if err := h.chatSvc.EndChat(r.Context(), payload.ChatID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Chat ended successfully"})
}

// respondServiceError 将服务层错误映射为HTTP状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status, message := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	utils.RespondError(w, status, message)
}

// ErrorStatus 返回错误对应的HTTP状态码与对外消息
func ErrorStatus(err error) (int, string) {
	var upstream *chatService.UpstreamError
	switch {
	case errors.Is(err, chatService.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chatService.ErrUnauthorized):
		return http.StatusForbidden, chatService.ErrUnauthorized.Error()
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, chatService.ErrSessionNotFound.Error()
	case errors.Is(err, chatService.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.As(err, &upstream):
		return http.StatusInternalServerError, upstream.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
