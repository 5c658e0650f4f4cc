package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/credential"
)

// DefaultWelcomeMessage is appended by Bootstrap to an empty transcript.
const DefaultWelcomeMessage = "Hello! I'm your Flutter-Gemini chatbot assistant. How can I help you today?"

// Exchanger sends a transcript to the remote service and returns the reply text.
type Exchanger interface {
	Exchange(ctx context.Context, creds ai.CredentialSource, transcript []chat.Message) (string, error)
}

// State is the controller's turn-taking state.
type State int32

const (
	StateIdle State = iota
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	default:
		return "unknown"
	}
}

// Outcome is the result of one exchange started by Submit.
type Outcome struct {
	Reply chat.Message
	Err   error
}

// Snapshot is the transcript and pending flag read at one instant.
type Snapshot struct {
	Transcript []chat.Message
	Pending    bool
}

// Controller orchestrates turn-taking for one conversation. At most one
// exchange is in flight; the transcript only ever grows.
type Controller struct {
	// mu serialises operations. Notifications are queued under mu in the order
	// the state changed and delivered after it is released.
	mu       sync.Mutex
	state    atomic.Int32
	queue    []func()
	draining bool

	store     Store
	creds     *credential.Holder
	exchanger Exchanger
	listener  Listener
	welcome   string
	now       func() time.Time
	newID     func() string
	label     string
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithListener sets the notification sink.
func WithListener(l Listener) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.listener = l
		}
	}
}

// WithStore replaces the default in-memory store.
func WithStore(s Store) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.store = s
		}
	}
}

// WithWelcomeMessage overrides the text Bootstrap appends.
func WithWelcomeMessage(text string) ControllerOption {
	return func(c *Controller) {
		if text = strings.TrimSpace(text); text != "" {
			c.welcome = text
		}
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) ControllerOption {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithLabel tags log lines, typically with the session id.
func WithLabel(label string) ControllerOption {
	return func(c *Controller) {
		c.label = label
	}
}

// NewController creates an idle controller with an empty transcript and no credential.
func NewController(exchanger Exchanger, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:     NewMemoryStore(),
		creds:     credential.NewHolder(),
		exchanger: exchanger,
		listener:  NopListener{},
		welcome:   DefaultWelcomeMessage,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current turn-taking state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Pending reports whether an exchange is in flight.
func (c *Controller) Pending() bool {
	return c.State() == StateAwaitingReply
}

// Transcript returns a snapshot of the conversation.
func (c *Controller) Transcript() []chat.Message {
	return c.store.All()
}

// HasCredential reports whether an API key has been set.
func (c *Controller) HasCredential() bool {
	return c.creds.Get() != ""
}

// Snapshot returns the transcript and pending flag as one consistent view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Sync calls fn with a snapshot at its place in the notification order: every
// notification queued before the snapshot has been delivered when fn runs, and
// none queued after it. Sync waits for fn and must not be called from a
// listener callback.
func (c *Controller) Sync(fn func(Snapshot)) {
	done := make(chan struct{})

	c.mu.Lock()
	snap := c.snapshotLocked()
	c.notify(func() {
		fn(snap)
		close(done)
	})
	c.mu.Unlock()

	c.flush()
	<-done
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Transcript: c.store.All(), Pending: c.Pending()}
}

// Bootstrap stores the API key. On success an empty transcript receives the
// welcome message; a non-empty one is left untouched.
func (c *Controller) Bootstrap(key string) error {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Pending() {
		c.notifyError(ErrBusy)
		return ErrBusy
	}

	if err := c.creds.Set(key); err != nil {
		log.Debug().Str("session", c.label).Msg("rejected blank api key")
		c.notifyError(err)
		return err
	}

	if c.store.Len() > 0 {
		return nil
	}

	c.store.Append(c.newMessage(chat.RoleAssistant, c.welcome))
	c.notifyTranscript(c.store.All())
	log.Info().Str("session", c.label).Msg("conversation bootstrapped")
	return nil
}

// Submit appends the user's message and starts an exchange with the full
// transcript. While a reply is pending every call yields ErrBusy. Blank content
// returns ErrEmptyMessage without any change or notification. The returned
// channel yields exactly one Outcome, after the notifications of the exchange
// have been delivered.
//
// The exchange is detached from ctx cancellation: once started it runs until
// the exchanger returns.
func (c *Controller) Submit(ctx context.Context, content string) (<-chan Outcome, error) {
	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Pending() {
		c.notifyError(ErrBusy)
		return nil, ErrBusy
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if c.creds.Get() == "" {
		err := ai.NewMissingCredentialError()
		c.notifyError(err)
		return nil, err
	}

	c.store.Append(c.newMessage(chat.RoleUser, text))
	transcript := c.store.All()
	c.notifyTranscript(transcript)

	c.state.Store(int32(StateAwaitingReply))
	c.notifyPending(true)

	log.Debug().Str("session", c.label).Int("history", len(transcript)).Msg("exchange started")

	done := make(chan Outcome, 1)
	go c.awaitReply(context.WithoutCancel(ctx), transcript, done)
	return done, nil
}

func (c *Controller) awaitReply(ctx context.Context, transcript []chat.Message, done chan<- Outcome) {
	reply, err := c.exchanger.Exchange(ctx, c.creds, transcript)

	defer c.flush()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("session", c.label).Msg("exchange failed")
		c.notifyError(err)
		c.state.Store(int32(StateIdle))
		c.notifyPending(false)
		c.notify(func() { done <- Outcome{Err: err} })
		return
	}

	msg := c.newMessage(chat.RoleAssistant, reply)
	c.store.Append(msg)
	c.notifyTranscript(c.store.All())

	c.state.Store(int32(StateIdle))
	c.notifyPending(false)

	log.Debug().Str("session", c.label).Int("length", len(reply)).Msg("reply appended")
	c.notify(func() { done <- Outcome{Reply: msg} })
}

func (c *Controller) notifyTranscript(transcript []chat.Message) {
	c.notify(func() { c.listener.OnTranscriptChanged(transcript) })
}

func (c *Controller) notifyPending(pending bool) {
	c.notify(func() { c.listener.OnPendingChanged(pending) })
}

func (c *Controller) notifyError(err error) {
	c.notify(func() { c.listener.OnError(err) })
}

// notify queues fn for delivery. Callers hold mu.
func (c *Controller) notify(fn func()) {
	c.queue = append(c.queue, fn)
}

// flush delivers queued notifications in order without holding mu, so
// listeners may call back into the controller. A call made while another
// goroutine is delivering returns at once and leaves its entries to that
// goroutine.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		next()
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

// newMessage stamps a message no earlier than the last transcript entry.
func (c *Controller) newMessage(role chat.Role, content string) chat.Message {
	ts := c.now()
	if all := c.store.All(); len(all) > 0 {
		if last := all[len(all)-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}
	return chat.Message{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}
