package chat

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
)

// DefaultEventBuffer is the per-subscriber channel capacity.
const DefaultEventBuffer = 32

// Broadcaster turns controller notifications into chat.Event values and fans
// them out to subscribers. A subscriber whose buffer is full misses events
// rather than stalling the conversation.
type Broadcaster struct {
	mu        sync.Mutex
	sessionID string
	buffer    int
	nextID    int
	subs      map[int]chan chat.Event
	closed    bool
}

var _ Listener = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster for one session.
func NewBroadcaster(sessionID string, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Broadcaster{
		sessionID: sessionID,
		buffer:    buffer,
		subs:      make(map[int]chan chat.Event),
	}
}

// Subscribe registers a new receiver. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan chat.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan chat.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broadcaster) OnTranscriptChanged(transcript []chat.Message) {
	b.publish(chat.Event{Type: chat.EventTranscript, Transcript: transcript})
}

func (b *Broadcaster) OnPendingChanged(pending bool) {
	b.publish(chat.Event{Type: chat.EventPending, Pending: &pending})
}

func (b *Broadcaster) OnError(err error) {
	b.publish(chat.Event{Type: chat.EventError, Error: ErrorPayloadOf(err)})
}

func (b *Broadcaster) publish(event chat.Event) {
	event.SessionID = b.sessionID

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			log.Warn().
				Str("session", b.sessionID).
				Int("subscriber", id).
				Str("event", string(event.Type)).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// ErrorPayloadOf converts err into its wire representation.
func ErrorPayloadOf(err error) *chat.ErrorPayload {
	if err == nil {
		return nil
	}
	return &chat.ErrorPayload{Kind: ErrorKind(err), Message: ErrorMessage(err)}
}
