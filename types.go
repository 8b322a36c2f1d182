package mcs

// H is a generic JSON-ish object used for option bags and loosely typed
// backend payloads.
type H map[string]interface{}

// MediaType selects which media flows an operation affects.
type MediaType string

const (
	MediaTypeAudio MediaType = "AUDIO"
	MediaTypeVideo MediaType = "VIDEO"
	MediaTypeData  MediaType = "DATA"
	// MediaTypeAll means audio, video and data are all affected.
	MediaTypeAll MediaType = "ALL"
)

// IceCandidate is a connectivity negotiation datum exchanged while a media
// session is being established.
type IceCandidate struct {
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid,omitempty"`
	SdpMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// MediaResult is returned by the controller for publish/subscribe style
// operations: the new media id plus the backend specific negotiation payload
// (typically an SDP answer).
type MediaResult struct {
	MediaID    string `json:"mediaId"`
	Descriptor string `json:"descriptor,omitempty"`
}

// UserInfo describes one user in a room.
type UserInfo struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId,omitempty"`
	UserName string `json:"userName,omitempty"`
	Role     string `json:"role,omitempty"`
}

// MediaInfo describes one media resource owned by a user.
type MediaInfo struct {
	MediaID string `json:"mediaId"`
	UserID  string `json:"userId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
