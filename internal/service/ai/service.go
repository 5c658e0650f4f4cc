package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
)

// CredentialSource yields the API key used for an exchange.
type CredentialSource interface {
	Get() string
}

// ModelFactory builds a chat model bound to one API key.
type ModelFactory func(ctx context.Context, apiKey string) (model.BaseChatModel, error)

// Service performs transcript exchanges against the remote generative-language service.
type Service struct {
	newModel ModelFactory
}

// NewService creates a new exchange service backed by the given model factory.
func NewService(factory ModelFactory) *Service {
	return &Service{newModel: factory}
}

// Exchange sends the whole transcript and returns the reply text. Every failure
// is an *ExchangeError except ErrEmptyTranscript.
func (s *Service) Exchange(ctx context.Context, creds CredentialSource, transcript []chat.Message) (string, error) {
	var apiKey string
	if creds != nil {
		apiKey = strings.TrimSpace(creds.Get())
	}
	if apiKey == "" {
		return "", NewMissingCredentialError()
	}
	if len(transcript) == 0 {
		return "", ErrEmptyTranscript
	}

	chatModel, err := s.newModel(ctx, apiKey)
	if err != nil {
		return "", NewTransportError(0, fmt.Sprintf("failed to create chat model: %v", err), err)
	}

	response, err := chatModel.Generate(ctx, BuildMessages(transcript))
	if err != nil {
		var xe *ExchangeError
		if errors.As(err, &xe) {
			log.Warn().Str("kind", string(xe.Kind)).Int("status", xe.StatusCode).Msg("exchange failed")
			return "", err
		}
		log.Warn().Err(err).Msg("exchange failed")
		return "", NewTransportError(0, err.Error(), err)
	}
	if response == nil {
		return "", NewMalformedResponseError("empty reply", nil)
	}

	log.Debug().
		Int("history", len(transcript)).
		Int("length", len(response.Content)).
		Msg("exchange completed")
	return response.Content, nil
}

// BuildMessages maps transcript entries to model messages in order. Roles pass
// through unchanged.
func BuildMessages(transcript []chat.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		messages = append(messages, &schema.Message{
			Role:    schema.RoleType(msg.Role),
			Content: msg.Content,
		})
	}
	return messages
}
