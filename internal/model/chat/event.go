package chat

// EventType names the notifications a conversation pushes to its collaborators.
type EventType string

const (
	EventSnapshot   EventType = "snapshot"
	EventTranscript EventType = "transcript"
	EventPending    EventType = "pending"
	EventError      EventType = "error"
)

// ErrorPayload is the wire form of a failed operation.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event is a single outbound notification. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType     `json:"type"`
	SessionID  string        `json:"sessionId,omitempty"`
	Transcript []Message     `json:"transcript,omitempty"`
	Pending    *bool         `json:"pending,omitempty"`
	Error      *ErrorPayload `json:"error,omitempty"`
}
