package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/gemini-chat/backend/internal/service/chat"
)

type staticExchanger struct{}

func (staticExchanger) Exchange(context.Context, ai.CredentialSource, []chat.Message) (string, error) {
	return "ok", nil
}

func TestRouterServesAPI(t *testing.T) {
	var logs bytes.Buffer
	router := NewRouter(chatService.NewService(staticExchanger{}), zerolog.New(&logs))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
	if !strings.Contains(logs.String(), `"path":"/api/sessions"`) {
		t.Fatalf("expected access log line, got %q", logs.String())
	}
}

func TestRouterHealth(t *testing.T) {
	router := NewRouter(chatService.NewService(staticExchanger{}), zerolog.Nop())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestRouterUnknownSessionEvents(t *testing.T) {
	router := NewRouter(chatService.NewService(staticExchanger{}), zerolog.Nop())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/events", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
