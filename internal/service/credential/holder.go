package credential

import (
	"errors"
	"strings"
	"sync"
)

// ErrInvalidCredential is returned when the supplied key is blank.
var ErrInvalidCredential = errors.New("please enter a valid API key")

// Holder keeps the API key for one conversation. It is owned by the
// conversation controller and handed to the exchange client on each call.
type Holder struct {
	mu  sync.RWMutex
	key string
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Set stores the trimmed key, overwriting any previous value.
func (h *Holder) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidCredential
	}

	h.mu.Lock()
	h.key = key
	h.mu.Unlock()
	return nil
}

// Get returns the last stored key or "" if none was set.
func (h *Holder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}
