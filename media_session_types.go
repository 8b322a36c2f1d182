package mcs

// SessionStatus is the lifecycle state of a media session. Transitions are
// monotonic along STOPPED -> STARTING -> STARTED -> STOPPING -> STOPPED; the
// only other edge is STARTING -> STOPPED on startup failure.
type SessionStatus string

const (
	SessionStopped  SessionStatus = "STOPPED"
	SessionStarting SessionStatus = "STARTING"
	SessionStarted  SessionStatus = "STARTED"
	SessionStopping SessionStatus = "STOPPING"
)

// Event class names a consumer declares interest in through OnEvent.
const (
	SessionEventMediaState   = "mediaState"
	SessionEventIceCandidate = "onIceCandidate"
)

// MediaSessionOptions define options to create a media session.
type MediaSessionOptions struct {
	// Room is the owning room identifier.
	Room string `json:"room,omitempty"`

	// Kind is the session kind, typically the backend element type
	// ("WebRtcEndpoint", "RtpEndpoint").
	Kind string `json:"kind,omitempty"`

	// AdapterName selects the backend adapter. Default "kurento".
	AdapterName string `json:"adapterName,omitempty"`

	// Options is the backend specific option bag passed to element creation.
	Options H `json:"options,omitempty"`
}

func defaultMediaSessionOptions() MediaSessionOptions {
	return MediaSessionOptions{
		Kind:        "WebRtcEndpoint",
		AdapterName: "kurento",
		Options:     H{},
	}
}

// eventGate is the per event-class buffering state: Buffering (queue events in
// FIFO order) until the one-shot transition to Flowing, after which events
// publish immediately. The transition never reverses. The queue is unbounded;
// that is a documented limitation, not a backpressure mechanism.
type eventGate struct {
	flowing bool
	queue   []Event
}
