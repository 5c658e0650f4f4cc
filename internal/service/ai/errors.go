package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an exchange failed.
type ErrorKind string

const (
	KindMissingCredential ErrorKind = "missing_credential"
	KindTransport         ErrorKind = "transport"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// DefaultTransportMessage is used when a failed response carries no readable error.
const DefaultTransportMessage = "Failed to get response from Gemini"

const (
	missingCredentialMessage = "no API key provided, please enter a Gemini API key"
	malformedResponseMessage = "invalid response format from Gemini API"
)

// Sentinels for errors.Is; any *ExchangeError of the same kind matches. Errors
// returned to callers are fresh values built from the constant texts, never
// these pointers.
var (
	ErrMissingCredential = &ExchangeError{Kind: KindMissingCredential, Message: missingCredentialMessage}
	ErrTransport         = &ExchangeError{Kind: KindTransport, Message: DefaultTransportMessage}
	ErrMalformedResponse = &ExchangeError{Kind: KindMalformedResponse, Message: malformedResponseMessage}
)

// ErrEmptyTranscript is returned when Exchange is called without any message.
var ErrEmptyTranscript = errors.New("transcript must contain at least one message")

// ExchangeError is the failure of one round trip to the remote service.
type ExchangeError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

// NewMissingCredentialError reports an exchange attempted without an API key.
func NewMissingCredentialError() *ExchangeError {
	return &ExchangeError{Kind: KindMissingCredential, Message: missingCredentialMessage}
}

// NewTransportError builds a transport failure. status is 0 when no response was received.
func NewTransportError(status int, message string, err error) *ExchangeError {
	if message == "" {
		message = DefaultTransportMessage
	}
	return &ExchangeError{Kind: KindTransport, Message: message, StatusCode: status, Err: err}
}

// NewMalformedResponseError builds a failure for a 2xx body without the expected shape.
func NewMalformedResponseError(detail string, err error) *ExchangeError {
	message := malformedResponseMessage
	if detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}
	return &ExchangeError{Kind: KindMalformedResponse, Message: message, Err: err}
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Is matches any ExchangeError of the same kind.
func (e *ExchangeError) Is(target error) bool {
	t, ok := target.(*ExchangeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or "" if err is not an exchange failure.
func KindOf(err error) ErrorKind {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}
