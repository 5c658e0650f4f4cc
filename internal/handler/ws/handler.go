package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/gemini-chat/backend/internal/service/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Frame types sent to the client in addition to chat.EventType values.
const (
	FrameRejected = "rejected"
	FrameError    = "error"
)

// Handler WebSocket 会话处理器
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New 创建 WebSocket 处理器
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BootstrapMessage 设置 API key
type BootstrapMessage struct {
	APIKey string `json:"apiKey"`
}

// SubmitMessage 发送用户消息
type SubmitMessage struct {
	Content string `json:"content"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	controller, err := h.chatSvc.Controller(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	sub, err := h.chatSvc.Subscribe(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("session", sessionID).Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pending := sub.Snapshot.Pending
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(outgoingMessage{
		Type:      string(chat.EventSnapshot),
		SessionID: sessionID,
		Data: chat.Event{
			Type:       chat.EventSnapshot,
			SessionID:  sessionID,
			Transcript: sub.Snapshot.Transcript,
			Pending:    &pending,
		},
		Timestamp: time.Now().Unix(),
	}); err != nil {
		log.Debug().Err(err).Str("session", sessionID).Msg("websocket snapshot failed")
		return
	}

	direct := make(chan outgoingMessage, 8)
	go func() {
		defer cancel()
		h.writeLoop(ctx, conn, sessionID, sub.Events, direct)
		// Unblock the reader once the writer is gone.
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session", sessionID).Msg("websocket read ended")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if reply, ok := h.handleMessage(ctx, controller, &msg); ok {
			reply.SessionID = sessionID
			reply.Timestamp = time.Now().Unix()
			select {
			case direct <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleMessage applies one inbound command. Failures reported through the
// session's listener arrive on the event stream; only failures that produce no
// event are answered directly.
func (h *Handler) handleMessage(ctx context.Context, controller *chatservice.Controller, msg *inboundMessage) (outgoingMessage, bool) {
	switch msg.Type {
	case "bootstrap":
		var payload BootstrapMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return errorFrame("invalid bootstrap payload"), true
		}
		_ = controller.Bootstrap(payload.APIKey)
		return outgoingMessage{}, false
	case "submit":
		var payload SubmitMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return errorFrame("invalid submit payload"), true
		}
		if _, err := controller.Submit(ctx, payload.Content); errors.Is(err, chatservice.ErrEmptyMessage) {
			return outgoingMessage{
				Type: FrameRejected,
				Data: chatservice.ErrorPayloadOf(err),
			}, true
		}
		return outgoingMessage{}, false
	default:
		return errorFrame("unsupported message type: " + msg.Type), true
	}
}

func errorFrame(message string) outgoingMessage {
	return outgoingMessage{
		Type: FrameError,
		Data: map[string]string{"message": message},
	}
}

// writeLoop owns every write on conn: session events, direct replies and pings.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sessionID string, events <-chan chat.Event, direct <-chan outgoingMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg outgoingMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Str("session", sessionID).Msg("websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-direct:
			if !write(msg) {
				return
			}
		case ev, open := <-events:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if !write(outgoingMessage{
				Type:      string(ev.Type),
				SessionID: sessionID,
				Data:      ev,
				Timestamp: time.Now().Unix(),
			}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
