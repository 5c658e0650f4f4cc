package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
)

type sessionEntry struct {
	session    chat.Session
	controller *Controller
	events     *Broadcaster
}

// Service keeps the live conversations of this process. Each session owns its
// own controller, credential and transcript; nothing outlives CloseSession.
type Service struct {
	mu          sync.RWMutex
	exchanger   Exchanger
	welcome     string
	eventBuffer int
	sessions    map[string]*sessionEntry
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithSessionWelcome sets the welcome text used by every new session.
func WithSessionWelcome(text string) ServiceOption {
	return func(s *Service) {
		s.welcome = text
	}
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(size int) ServiceOption {
	return func(s *Service) {
		s.eventBuffer = size
	}
}

// NewService bootstraps the in-memory chat service.
func NewService(exchanger Exchanger, opts ...ServiceOption) *Service {
	s := &Service{
		exchanger:   exchanger,
		eventBuffer: DefaultEventBuffer,
		sessions:    make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession provisions an anonymous conversation.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	events := NewBroadcaster(session.ID, s.eventBuffer)
	controller := NewController(s.exchanger,
		WithListener(events),
		WithWelcomeMessage(s.welcome),
		WithLabel(session.ID),
	)

	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{session: session, controller: controller, events: events}
	s.mu.Unlock()

	log.Info().Str("session", session.ID).Msg("session created")
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return entry.session, nil
}

// Controller returns the conversation controller of a session.
func (s *Service) Controller(_ context.Context, sessionID string) (*Controller, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.controller, nil
}

// Subscription is a session's state at attach time and every event after it.
type Subscription struct {
	Snapshot Snapshot
	Events   <-chan chat.Event
	Cancel   func()
}

// Subscribe attaches a new event receiver to a session. The snapshot and the
// event stream meet without gap or overlap: Events carries exactly the
// notifications emitted after Snapshot was taken.
func (s *Service) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return Subscription{}, err
	}

	var sub Subscription
	entry.controller.Sync(func(snap Snapshot) {
		sub.Snapshot = snap
		sub.Events, sub.Cancel = entry.events.Subscribe()
	})
	return sub, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	entry, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.controller.Transcript(), nil
}

// CloseSession ends a session and discards its transcript. An exchange still
// in flight completes against the detached controller.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	entry.events.Close()
	log.Info().Str("session", sessionID).Msg("session closed")
	return nil
}

func (s *Service) lookup(sessionID string) (*sessionEntry, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}
