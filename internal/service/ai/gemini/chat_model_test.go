package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
)

type capturedRequest struct {
	method string
	path   string
	key    string
	ctype  string
	body   generateRequest
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.key = r.URL.Query().Get("key")
		captured.ctype = r.Header.Get("Content-Type")
		raw, err := io.ReadAll(r.Body)
		if err == nil {
			_ = json.Unmarshal(raw, &captured.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestModel(t *testing.T, baseURL string) *ChatModel {
	t.Helper()
	m, err := NewChatModel(context.Background(), &Config{APIKey: "abc123", BaseURL: baseURL})
	require.NoError(t, err)
	return m
}

func TestNewChatModelRequiresKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), &Config{APIKey: "  "})
	require.Error(t, err)

	_, err = NewChatModel(context.Background(), nil)
	require.Error(t, err)
}

func TestNewChatModelDefaults(t *testing.T) {
	m, err := NewChatModel(context.Background(), &Config{APIKey: "k", Timeout: DefaultTimeout})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL+"/models/gemini-pro:generateContent", m.endpoint)
	assert.Equal(t, DefaultTimeout, m.client.Timeout)
}

func TestGenerateBuildsWireRequest(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi there!"}]}}]}`)
	m := newTestModel(t, srv.URL)

	reply, err := m.Generate(context.Background(), []*schema.Message{
		{Role: schema.Assistant, Content: "welcome"},
		{Role: schema.System, Content: "be brief"},
		{Role: schema.User, Content: "Hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply.Content)
	assert.Equal(t, schema.Assistant, reply.Role)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/models/gemini-pro:generateContent", captured.path)
	assert.Equal(t, "abc123", captured.key)
	assert.Equal(t, "application/json", captured.ctype)

	require.Len(t, captured.body.Contents, 3)
	assert.Equal(t, "assistant", captured.body.Contents[0].Role)
	assert.Equal(t, "system", captured.body.Contents[1].Role)
	assert.Equal(t, "user", captured.body.Contents[2].Role)
	assert.Equal(t, []part{{Text: "Hello"}}, captured.body.Contents[2].Parts)

	assert.Equal(t, generationConfig{
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
	}, captured.body.GenerationConfig)
}

func TestGenerateUsesFirstCandidateFirstPart(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"candidates":[
		{"content":{"parts":[{"text":"first"},{"text":"second"}]}},
		{"content":{"parts":[{"text":"other"}]}}
	]}`)
	m := newTestModel(t, srv.URL)

	reply, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "first", reply.Content)
}

func TestGenerateProviderErrorMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadRequest,
		`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	m := newTestModel(t, srv.URL)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, ai.ErrTransport)

	var xe *ai.ExchangeError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, http.StatusBadRequest, xe.StatusCode)
	assert.Equal(t, "API key not valid. Please pass a valid API key.", xe.Message)
}

func TestGenerateUnparseableErrorBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `<html>oops</html>`)
	m := newTestModel(t, srv.URL)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var xe *ai.ExchangeError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, ai.KindTransport, xe.Kind)
	assert.Equal(t, ai.DefaultTransportMessage, xe.Message)
	assert.Equal(t, http.StatusInternalServerError, xe.StatusCode)
}

func TestGenerateMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"no candidates":     `{"candidates":[]}`,
		"missing field":     `{}`,
		"no content":        `{"candidates":[{}]}`,
		"no parts":          `{"candidates":[{"content":{"parts":[]}}]}`,
		"part without text": `{"candidates":[{"content":{"parts":[{"inlineData":{}}]}}]}`,
		"not json":          `definitely not json`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := newTestServer(t, http.StatusOK, body)
			m := newTestModel(t, srv.URL)

			_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
			require.ErrorIs(t, err, ai.ErrMalformedResponse)
			assert.NotErrorIs(t, err, ai.ErrTransport)
		})
	}
}

func TestGenerateOversizedBody(t *testing.T) {
	body := `{"candidates":[{"content":{"parts":[{"text":"this reply is longer than the limit"}]}}]}`
	srv, _ := newTestServer(t, http.StatusOK, body)
	m := newTestModel(t, srv.URL)
	m.maxBody = int64(len(body)) - 1

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, ai.ErrTransport)
	assert.NotErrorIs(t, err, ai.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "exceeds")

	m.maxBody = int64(len(body))
	reply, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "this reply is longer than the limit", reply.Content)
}

func TestGenerateNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	m := newTestModel(t, baseURL)
	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, ai.ErrTransport)
	assert.NotContains(t, err.Error(), "abc123")
}

func TestGenerateMakesSingleCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	m := newTestModel(t, srv.URL)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestStreamReturnsSingleChunk(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"chunk"}]}}]}`)
	m := newTestModel(t, srv.URL)

	stream, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "chunk", msg.Content)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
