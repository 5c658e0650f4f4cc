package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/gemini-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/credential"
	"github.com/zhouzirui/gemini-chat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
	r.Put("/sessions/{sessionID}/key", h.handleBootstrap)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSubmit)
}

type sessionView struct {
	chat.Session
	Pending       bool `json:"pending"`
	HasCredential bool `json:"hasCredential"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionView{Session: session})
}

// handleGetSession 查询会话状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	controller, err := h.chatSvc.Controller(r.Context(), sessionID)
	if err != nil {
		respondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionView{
		Session:       session,
		Pending:       controller.Pending(),
		HasCredential: controller.HasCredential(),
	})
}

// handleCloseSession 结束会话并丢弃记录
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBootstrap 设置 API key
func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey string `json:"apiKey"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	controller, err := h.chatSvc.Controller(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	if err := controller.Bootstrap(payload.APIKey); err != nil {
		respondFailure(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回会话记录
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSubmit 发送用户消息；wait=true 时等待回复
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
		Wait    bool   `json:"wait"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	controller, err := h.chatSvc.Controller(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	done, err := controller.Submit(r.Context(), payload.Content)
	if err != nil {
		respondFailure(w, err)
		return
	}

	if !payload.Wait {
		utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}

	select {
	case outcome := <-done:
		if outcome.Err != nil {
			respondFailure(w, outcome.Err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{"reply": outcome.Reply})
	case <-r.Context().Done():
		// The exchange keeps running; the client can pick the reply up from the transcript.
	}
}

// StatusFor maps a conversation error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, credential.ErrInvalidCredential):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ai.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, ai.ErrTransport), errors.Is(err, ai.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondErrorKind(w, StatusFor(err), chatService.ErrorKind(err), chatService.ErrorMessage(err))
}
