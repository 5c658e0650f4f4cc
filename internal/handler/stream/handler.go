package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/gemini-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gemini-chat/backend/pkg/utils"
)

// DefaultHeartbeat is the keep-alive interval of an idle event stream.
const DefaultHeartbeat = 15 * time.Second

// Handler pushes conversation events to the browser via Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: DefaultHeartbeat}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.HandleStreamRequest(r.Context(), w, sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("event stream ended with error")
	}
}

// HandleStreamRequest streams a snapshot followed by every event of the
// session until the client disconnects or the session is closed.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	if _, err := h.chatSvc.GetSession(ctx, sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return err
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	sub, err := h.chatSvc.Subscribe(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return err
	}
	defer sub.Cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	pending := sub.Snapshot.Pending
	if err := utils.SendSSEEvent(w, flusher, string(chat.EventSnapshot), chat.Event{
		Type:       chat.EventSnapshot,
		SessionID:  sessionID,
		Transcript: sub.Snapshot.Transcript,
		Pending:    &pending,
	}); err != nil {
		return err
	}

	log.Debug().Str("session", sessionID).Msg("event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("session", sessionID).Msg("event stream closed by client")
			return nil
		case ev, open := <-sub.Events:
			if !open {
				return nil
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return err
			}
		}
	}
}
