package mcs

// Acknowledgment names, one per successful command, carrying the command's
// transaction id.
const (
	AckJoined                     = "joined"
	AckPublished                  = "published"
	AckPublishedAndSubscribed     = "publishedAndSubscribed"
	AckUnpublished                = "unpublished"
	AckUnpublishedAndUnsubscribed = "unpublishedAndUnsubscribed"
	AckSubscribed                 = "subscribed"
	AckUnsubscribed               = "unsubscribed"
	AckIceCandidateAdded          = "iceCandidateAdded"
	AckConnected                  = "connected"
	AckDisconnected               = "disconnected"
	AckLeft                       = "left"
	AckUsers                      = "users"
	AckUserMedias                 = "userMedias"
)

// Push notification names, fire and forget, routed through the ownership map.
const (
	NotifyOnIceCandidate    = "onIceCandidate"
	NotifyMediaState        = "mediaState"
	NotifyMediaConnected    = "mediaConnected"
	NotifyMediaDisconnected = "mediaDisconnected"
	NotifyUserJoined        = "userJoined"
	NotifyUserLeft          = "userLeft"
)

// ClientConnection is one signaling peer, identified by a locally assigned
// integer id. The router owns the registration for the connection's lifetime;
// the transport behind it is out of this layer's scope.
type ClientConnection interface {
	// ID returns the locally assigned connection id.
	ID() int64

	// Ack delivers the single correlated acknowledgment for a successful
	// command.
	Ack(name, transactionID string, payload H)

	// Error delivers the normalized error shape in place of a result.
	Error(transactionID string, err *OperationError)

	// Notify delivers a fire and forget push notification.
	Notify(name string, payload H)
}

// Inbound command names accepted by the router.
const (
	CmdJoin                    = "join"
	CmdPublish                 = "publish"
	CmdPublishAndSubscribe     = "publishAndSubscribe"
	CmdUnpublish               = "unpublish"
	CmdUnpublishAndUnsubscribe = "unpublishAndUnsubscribe"
	CmdSubscribe               = "subscribe"
	CmdUnsubscribe             = "unsubscribe"
	CmdAddIceCandidate         = "addIceCandidate"
	CmdConnect                 = "connect"
	CmdDisconnect              = "disconnect"
	CmdGetUsers                = "getUsers"
	CmdGetUserMedias           = "getUserMedias"
	CmdLeave                   = "leave"
	CmdOnEvent                 = "onEvent"
)

// CommandParams is the declared parameter set of inbound commands. Unused
// fields stay zero for any given command.
type CommandParams struct {
	RoomID     string        `json:"roomId,omitempty"`
	UserID     string        `json:"userId,omitempty"`
	MediaID    string        `json:"mediaId,omitempty"`
	SourceID   string        `json:"sourceId,omitempty"`
	SinkID     string        `json:"sinkId,omitempty"`
	SinkIDs    []string      `json:"sinkIds,omitempty"`
	Type       string        `json:"type,omitempty"`
	MediaType  MediaType     `json:"mediaType,omitempty"`
	Params     H             `json:"params,omitempty"`
	Candidate  *IceCandidate `json:"candidate,omitempty"`
	EventName  string        `json:"eventName,omitempty"`
	Identifier string        `json:"identifier,omitempty"`
}

// Command is one inbound client command. TransactionID correlates the command
// with exactly one acknowledgment.
type Command struct {
	Name          string        `json:"name"`
	TransactionID string        `json:"transactionId"`
	Params        CommandParams `json:"params,omitempty"`
}
