package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-pro"
	DefaultTimeout = 60 * time.Second
)

// Generation parameters sent with every request.
const (
	Temperature     = 0.7
	TopK            = 40
	TopP            = 0.95
	MaxOutputTokens = 1024
)

const maxResponseBytes = 4 << 20

// Config describes how to reach the generateContent endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds the whole HTTP exchange. Zero disables it.
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// ChatModel calls generateContent with a fixed generation config. It performs
// exactly one HTTP request per Generate call.
type ChatModel struct {
	apiKey   string
	endpoint string
	client   *http.Client
	maxBody  int64
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel validates cfg and returns a ready model.
func NewChatModel(_ context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gemini config is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &ChatModel{
		apiKey:   apiKey,
		endpoint: fmt.Sprintf("%s/models/%s:generateContent", baseURL, url.PathEscape(modelName)),
		client:   client,
		maxBody:  maxResponseBytes,
	}, nil
}

// Generate sends input as the conversation contents and returns the first
// candidate's first text part. Options are ignored; the generation config is fixed.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	body, err := json.Marshal(buildRequest(input))
	if err != nil {
		return nil, fmt.Errorf("failed to encode gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.requestURL(), bytes.NewReader(body))
	if err != nil {
		return nil, ai.NewTransportError(0, fmt.Sprintf("failed to build request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, ai.NewTransportError(0, stripKey(err.Error(), m.apiKey), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBody+1))
	if err != nil {
		return nil, ai.NewTransportError(resp.StatusCode, fmt.Sprintf("failed to read response: %v", err), err)
	}
	if int64(len(payload)) > m.maxBody {
		return nil, ai.NewTransportError(resp.StatusCode, fmt.Sprintf("response body exceeds %d bytes", m.maxBody), nil)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Int("messages", len(input)).
		Dur("elapsed", time.Since(start)).
		Msg("gemini generateContent")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ai.NewTransportError(resp.StatusCode, providerMessage(payload), nil)
	}

	text, err := extractText(payload)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream yields the Generate result as a single chunk; token streaming is not supported.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) requestURL() string {
	query := url.Values{}
	query.Set("key", m.apiKey)
	return m.endpoint + "?" + query.Encode()
}

func buildRequest(input []*schema.Message) generateRequest {
	contents := make([]content, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		contents = append(contents, content{
			Role:  string(msg.Role),
			Parts: []part{{Text: msg.Content}},
		})
	}

	return generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     Temperature,
			TopK:            TopK,
			TopP:            TopP,
			MaxOutputTokens: MaxOutputTokens,
		},
	}
}

func extractText(payload []byte) (string, error) {
	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", ai.NewMalformedResponseError("body is not valid JSON", err)
	}
	if len(decoded.Candidates) == 0 {
		return "", ai.NewMalformedResponseError("no candidates", nil)
	}
	first := decoded.Candidates[0]
	if first.Content == nil || len(first.Content.Parts) == 0 {
		return "", ai.NewMalformedResponseError("candidate has no content parts", nil)
	}
	if first.Content.Parts[0].Text == nil {
		return "", ai.NewMalformedResponseError("first part has no text", nil)
	}
	return *first.Content.Parts[0].Text, nil
}

func providerMessage(payload []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded.Error == nil {
		return ""
	}
	return strings.TrimSpace(decoded.Error.Message)
}

// stripKey keeps the API key out of url.Error messages, which embed the request URL.
func stripKey(message, apiKey string) string {
	if apiKey == "" {
		return message
	}
	message = strings.ReplaceAll(message, url.QueryEscape(apiKey), "REDACTED")
	return strings.ReplaceAll(message, apiKey, "REDACTED")
}
