package chat

import "github.com/zhouzirui/gemini-chat/backend/internal/model/chat"

// Listener receives the notifications a Controller emits, one at a time and in
// the order the state changed. Callbacks run without the controller's lock
// held and may call back into it (except Sync); notifications caused by such a
// call are delivered after the current callback returns.
type Listener interface {
	OnTranscriptChanged(transcript []chat.Message)
	OnPendingChanged(pending bool)
	OnError(err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) OnTranscriptChanged([]chat.Message) {}
func (NopListener) OnPendingChanged(bool) {}
func (NopListener) OnError(error) {}

// Listeners fans notifications out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnTranscriptChanged(transcript []chat.Message) {
	for _, l := range ls {
		l.OnTranscriptChanged(transcript)
	}
}

func (ls Listeners) OnPendingChanged(pending bool) {
	for _, l := range ls {
		l.OnPendingChanged(pending)
	}
}

func (ls Listeners) OnError(err error) {
	for _, l := range ls {
		l.OnError(err)
	}
}
