package mcs

import "context"

// MediaController orchestrates rooms, users and media sessions. It is an
// external collaborator of the router: this layer defines only the interface
// boundary it consumes, not the bookkeeping behind it.
type MediaController interface {
	Join(ctx context.Context, roomID, kind string, params H) (userID string, err error)
	Leave(ctx context.Context, roomID, userID string) error

	Publish(ctx context.Context, userID, roomID, kind string, params H) (*MediaResult, error)
	PublishAndSubscribe(ctx context.Context, roomID, userID, sourceID, kind string, params H) (*MediaResult, error)
	Subscribe(ctx context.Context, userID, sourceID, kind string, params H) (*MediaResult, error)
	Unpublish(ctx context.Context, mediaID string) error
	Unsubscribe(ctx context.Context, mediaID string) error
	UnpublishAndUnsubscribe(ctx context.Context, mediaID string) error

	Connect(ctx context.Context, sourceID, sinkID string, mediaType MediaType) error
	Disconnect(ctx context.Context, sourceID, sinkID string, mediaType MediaType) error
	AddIceCandidate(ctx context.Context, mediaID string, candidate IceCandidate) error

	// OnEvent forwards a client's declared interest in an event class for the
	// identified media/session, driving the session buffering protocol.
	OnEvent(ctx context.Context, eventName, identifier string) error

	GetUsers(ctx context.Context, roomID string) ([]UserInfo, error)
	GetUserMedias(ctx context.Context, userID string) ([]MediaInfo, error)

	StartRecording(ctx context.Context, userID, sourceID, path string) (recordingID string, err error)
	StopRecording(ctx context.Context, userID, recordingID string) error
}
