package chat

import (
	"sync"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
)

// Store is an append-only transcript container. It performs no validation.
type Store interface {
	Append(message chat.Message)
	All() []chat.Message
	Len() int
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []chat.Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make([]chat.Message, 0, 16)}
}

// Append adds message to the end of the transcript.
func (s *MemoryStore) Append(message chat.Message) {
	s.mu.Lock()
	s.items = append(s.items, message)
	s.mu.Unlock()
}

// All returns a copy of the transcript in insertion order.
func (s *MemoryStore) All() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.items))
	copy(copied, s.items)
	return copied
}

// Len reports the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
