package mcs

// EventKind enumerates the closed set of topics traveling on the event bus.
type EventKind string

const (
	EventIceCandidate      EventKind = "ICE_CANDIDATE"
	EventMediaState        EventKind = "MEDIA_STATE"
	EventMediaConnected    EventKind = "MEDIA_CONNECTED"
	EventMediaDisconnected EventKind = "MEDIA_DISCONNECTED"
	EventUserJoined        EventKind = "USER_JOINED"
	EventUserLeft          EventKind = "USER_LEFT"
	EventServerState       EventKind = "SERVER_STATE"
	EventSessionStopped    EventKind = "SESSION_STOPPED"
)

// Event is a tagged payload published on the event bus. Media scoped kinds
// (ICE_CANDIDATE, MEDIA_STATE) carry MediaID; the remaining kinds are keyed by
// ID. Events are transient and not retained beyond delivery, except while
// buffered inside a media session queue.
type Event struct {
	Kind      EventKind     `json:"kind"`
	MediaID   string        `json:"mediaId,omitempty"`
	ID        string        `json:"id,omitempty"`
	RoomID    string        `json:"roomId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Candidate *IceCandidate `json:"candidate,omitempty"`
	State     H             `json:"state,omitempty"`
	Data      H             `json:"data,omitempty"`
}

// RoutingID returns the identifier the router resolves an owner with.
func (ev Event) RoutingID() string {
	switch ev.Kind {
	case EventIceCandidate, EventMediaState:
		return ev.MediaID
	default:
		return ev.ID
	}
}
