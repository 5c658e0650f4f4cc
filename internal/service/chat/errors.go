package chat

import (
	"errors"

	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/credential"
)

var (
	ErrBusy            = errors.New("a reply is still pending")
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrSessionNotFound = errors.New("session not found")
)

// Error kinds reported to presentation collaborators.
const (
	KindBusy              = "busy"
	KindEmptyMessage      = "empty_message"
	KindInvalidCredential = "invalid_credential"
	KindUnknown           = "unknown"
)

// ErrorKind names the failure class of err for clients.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrEmptyMessage):
		return KindEmptyMessage
	case errors.Is(err, credential.ErrInvalidCredential):
		return KindInvalidCredential
	}
	if kind := ai.KindOf(err); kind != "" {
		return string(kind)
	}
	return KindUnknown
}

// ErrorMessage returns the user-facing text for err.
func ErrorMessage(err error) string {
	var xe *ai.ExchangeError
	if errors.As(err, &xe) {
		return xe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
