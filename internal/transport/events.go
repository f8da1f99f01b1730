package transport

// Role identifies which side of the call produced an utterance.
type Role string

const (
	// RoleAgent is the trainee speaking into the call.
	RoleAgent Role = "agent"
	// RoleCustomer is the simulated persona on the other end.
	RoleCustomer Role = "customer"
)

// Event is the closed set of events delivered by the realtime backend for an
// active call session. Consumers receive them through a single dispatch point
// (Handler.HandleEvent) rather than per-event callbacks.
type Event interface {
	event()
}

// ReadyEvent signals that the bot session is negotiated and ready to speak.
type ReadyEvent struct{}

// TranscriptEvent carries one finalized utterance.
type TranscriptEvent struct {
	Role Role
	Text string
}

// TrackEvent signals that a remote media track is available for playback.
// The URL is opaque to this layer; media handling stays in the backend.
type TrackEvent struct {
	TrackID string
	URL     string
}

// SentimentEvent carries a live customer sentiment score on a 0-100 scale.
type SentimentEvent struct {
	Score int
}

// ErrorEvent carries a backend-reported session error.
type ErrorEvent struct {
	Message string
}

func (ReadyEvent) event()      {}
func (TranscriptEvent) event() {}
func (TrackEvent) event()      {}
func (SentimentEvent) event()  {}
func (ErrorEvent) event()      {}

// Handler receives dispatched session events. Implementations must tolerate
// events arriving after they have torn down their session state.
type Handler interface {
	HandleEvent(Event)
}
