package mcs

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Router is the single entry point translating client commands into media
// controller calls, and the single point of event fan-out back to clients.
// Construct exactly one per process at startup and pass it to every
// collaborator that needs it.
//
// Every operation may be invoked from arbitrarily many goroutines; there is no
// ordering guarantee across clients, nor that one client's commands resolve in
// submission order.
type Router struct {
	logger     logr.Logger
	controller MediaController
	bus        *EventBus
	ownership  *ownershipMap

	mu      sync.RWMutex
	clients map[int64]ClientConnection
}

func NewRouter(controller MediaController, bus *EventBus) *Router {
	logger := NewLogger("Router")

	logger.V(1).Info("constructor()")

	r := &Router{
		logger:     logger,
		controller: controller,
		bus:        bus,
		ownership:  newOwnershipMap(),
		clients:    make(map[int64]ClientConnection),
	}

	// subscribe once, at construction, to each routed event kind
	r.bus.Subscribe(EventIceCandidate, r.fanOut(NotifyOnIceCandidate))
	r.bus.Subscribe(EventMediaState, r.fanOut(NotifyMediaState))
	r.bus.Subscribe(EventMediaConnected, r.fanOut(NotifyMediaConnected))
	r.bus.Subscribe(EventMediaDisconnected, r.fanOut(NotifyMediaDisconnected))
	r.bus.Subscribe(EventUserJoined, r.fanOut(NotifyUserJoined))
	r.bus.Subscribe(EventUserLeft, r.fanOut(NotifyUserLeft))

	return r
}

// SetupClient registers a client connection. Inbound commands from its stream
// are fed through HandleCommand; the registration lasts until
// ClientDisconnected.
func (r *Router) SetupClient(client ClientConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.V(1).Info("setupClient()", "client", client.ID())

	r.clients[client.ID()] = client
}

// ClientDisconnected drops the client's registration and every ownership
// entry it holds, so in-flight events for its media ids are silently dropped
// from now on.
func (r *Router) ClientDisconnected(client ClientConnection) {
	r.mu.Lock()
	delete(r.clients, client.ID())
	r.mu.Unlock()

	removed := r.ownership.removeClient(client)

	r.logger.V(1).Info("clientDisconnected()", "client", client.ID(), "mediaIds", removed)
}

// HandleCommand runs one inbound command and, on success, delivers exactly one
// correlated acknowledgment carrying the command's transaction id. On failure
// the client observes the normalized error shape instead. Transports may call
// this concurrently; each command is an independent call. Commands from a
// client that was never set up, or already disconnected, are rejected without
// reaching the controller.
func (r *Router) HandleCommand(ctx context.Context, client ClientConnection, cmd Command) {
	r.mu.RLock()
	_, registered := r.clients[client.ID()]
	r.mu.RUnlock()
	if !registered {
		r.finish(client, cmd, NewInvalidStateError("client %d is not registered", client.ID()), "", nil)
		return
	}

	p := cmd.Params

	switch cmd.Name {
	case CmdJoin:
		userID, err := r.Join(ctx, p.RoomID, p.Type, p.Params)
		r.finish(client, cmd, err, AckJoined, H{"userId": userID})

	case CmdLeave:
		err := r.Leave(ctx, p.RoomID, p.UserID)
		r.finish(client, cmd, err, AckLeft, H{"roomId": p.RoomID, "userId": p.UserID})

	case CmdPublish:
		result, err := r.Publish(ctx, client, p.UserID, p.RoomID, p.Type, p.Params)
		r.finish(client, cmd, err, AckPublished, resultPayload(result))

	case CmdPublishAndSubscribe:
		result, err := r.PublishAndSubscribe(ctx, client, p.RoomID, p.UserID, p.SourceID, p.Type, p.Params)
		r.finish(client, cmd, err, AckPublishedAndSubscribed, resultPayload(result))

	case CmdSubscribe:
		result, err := r.Subscribe(ctx, client, p.UserID, p.SourceID, p.Type, p.Params)
		r.finish(client, cmd, err, AckSubscribed, resultPayload(result))

	case CmdUnpublish:
		err := r.Unpublish(ctx, p.MediaID)
		r.finish(client, cmd, err, AckUnpublished, H{"mediaId": p.MediaID})

	case CmdUnsubscribe:
		err := r.Unsubscribe(ctx, p.MediaID)
		r.finish(client, cmd, err, AckUnsubscribed, H{"mediaId": p.MediaID})

	case CmdUnpublishAndUnsubscribe:
		err := r.UnpublishAndUnsubscribe(ctx, p.MediaID)
		r.finish(client, cmd, err, AckUnpublishedAndUnsubscribed, H{"mediaId": p.MediaID})

	case CmdAddIceCandidate:
		err := r.AddIceCandidate(ctx, p.MediaID, p.Candidate)
		r.finish(client, cmd, err, AckIceCandidateAdded, H{"mediaId": p.MediaID})

	case CmdConnect:
		sinkIDs := p.SinkIDs
		if len(sinkIDs) == 0 && len(p.SinkID) > 0 {
			sinkIDs = []string{p.SinkID}
		}
		err := r.Connect(ctx, p.SourceID, sinkIDs, p.MediaType)
		r.finish(client, cmd, err, AckConnected, H{"sourceId": p.SourceID, "sinkIds": sinkIDs})

	case CmdDisconnect:
		err := r.Disconnect(ctx, p.SourceID, p.SinkID, p.MediaType)
		r.finish(client, cmd, err, AckDisconnected, H{"sourceId": p.SourceID, "sinkId": p.SinkID})

	case CmdGetUsers:
		users, err := r.GetUsers(ctx, p.RoomID)
		r.finish(client, cmd, err, AckUsers, H{"roomId": p.RoomID, "users": users})

	case CmdGetUserMedias:
		medias, err := r.GetUserMedias(ctx, p.UserID)
		r.finish(client, cmd, err, AckUserMedias, H{"userId": p.UserID, "medias": medias})

	case CmdOnEvent:
		// interest declaration: no acknowledgment on success
		if err := r.OnEvent(ctx, p.EventName, p.Identifier); err != nil {
			r.finish(client, cmd, err, "", nil)
		} else {
			commandsTotal.WithLabelValues(cmd.Name, "ok").Inc()
		}

	default:
		err := NormalizeError(cmd.Name, p,
			NewInvalidStateError("unknown command %q", cmd.Name))
		r.finish(client, cmd, err, "", nil)
	}
}

func (r *Router) finish(client ClientConnection, cmd Command, err error, ackName string, payload H) {
	if err != nil {
		commandsTotal.WithLabelValues(cmd.Name, "error").Inc()
		client.Error(cmd.TransactionID, NormalizeError(cmd.Name, cmd.Params, err))
		return
	}
	commandsTotal.WithLabelValues(cmd.Name, "ok").Inc()
	client.Ack(ackName, cmd.TransactionID, payload)
}

func resultPayload(result *MediaResult) H {
	if result == nil {
		return nil
	}
	return H{"mediaId": result.MediaID, "descriptor": result.Descriptor}
}

// Join adds a user to a room.
func (r *Router) Join(ctx context.Context, roomID, kind string, params H) (string, error) {
	userID, err := r.controller.Join(ctx, roomID, kind, params)
	if err != nil {
		return "", NormalizeError(CmdJoin, H{"roomId": roomID, "type": kind}, err)
	}
	return userID, nil
}

func (r *Router) Leave(ctx context.Context, roomID, userID string) error {
	if err := r.controller.Leave(ctx, roomID, userID); err != nil {
		return NormalizeError(CmdLeave, H{"roomId": roomID, "userId": userID}, err)
	}
	return nil
}

// Publish creates a publisher session. The new media id is registered to the
// calling client before the acknowledgment can be sent, eliminating the race
// where a push event for that id arrives with no registered owner.
func (r *Router) Publish(ctx context.Context, client ClientConnection, userID, roomID, kind string, params H) (*MediaResult, error) {
	opParams := H{"userId": userID, "roomId": roomID, "type": kind}

	result, err := r.controller.Publish(ctx, userID, roomID, kind, params)
	if err != nil {
		return nil, NormalizeError(CmdPublish, opParams, err)
	}
	if err := r.ownership.register(result.MediaID, client); err != nil {
		return nil, NormalizeError(CmdPublish, opParams, err)
	}
	return result, nil
}

// PublishAndSubscribe has the same ownership registration contract as Publish.
func (r *Router) PublishAndSubscribe(ctx context.Context, client ClientConnection, roomID, userID, sourceID, kind string, params H) (*MediaResult, error) {
	opParams := H{"roomId": roomID, "userId": userID, "sourceId": sourceID, "type": kind}

	result, err := r.controller.PublishAndSubscribe(ctx, roomID, userID, sourceID, kind, params)
	if err != nil {
		return nil, NormalizeError(CmdPublishAndSubscribe, opParams, err)
	}
	if err := r.ownership.register(result.MediaID, client); err != nil {
		return nil, NormalizeError(CmdPublishAndSubscribe, opParams, err)
	}
	return result, nil
}

// Subscribe has the same ownership registration contract as Publish.
func (r *Router) Subscribe(ctx context.Context, client ClientConnection, userID, sourceID, kind string, params H) (*MediaResult, error) {
	opParams := H{"userId": userID, "sourceId": sourceID, "type": kind}

	result, err := r.controller.Subscribe(ctx, userID, sourceID, kind, params)
	if err != nil {
		return nil, NormalizeError(CmdSubscribe, opParams, err)
	}
	if err := r.ownership.register(result.MediaID, client); err != nil {
		return nil, NormalizeError(CmdSubscribe, opParams, err)
	}
	return result, nil
}

// Unpublish tears the session down and removes its ownership entry, so later
// events for the id are dropped instead of routed stale.
func (r *Router) Unpublish(ctx context.Context, mediaID string) error {
	if err := r.controller.Unpublish(ctx, mediaID); err != nil {
		return NormalizeError(CmdUnpublish, H{"mediaId": mediaID}, err)
	}
	r.ownership.remove(mediaID)
	return nil
}

func (r *Router) Unsubscribe(ctx context.Context, mediaID string) error {
	if err := r.controller.Unsubscribe(ctx, mediaID); err != nil {
		return NormalizeError(CmdUnsubscribe, H{"mediaId": mediaID}, err)
	}
	r.ownership.remove(mediaID)
	return nil
}

func (r *Router) UnpublishAndUnsubscribe(ctx context.Context, mediaID string) error {
	if err := r.controller.UnpublishAndUnsubscribe(ctx, mediaID); err != nil {
		return NormalizeError(CmdUnpublishAndUnsubscribe, H{"mediaId": mediaID}, err)
	}
	r.ownership.remove(mediaID)
	return nil
}

// Connect fans out one controller connect per sink and awaits them all. It
// succeeds only if every per-sink connect succeeds; the first failure is
// reported and sinks already connected stay connected (no rollback).
func (r *Router) Connect(ctx context.Context, sourceID string, sinkIDs []string, mediaType MediaType) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sinkID := range sinkIDs {
		sinkID := sinkID
		g.Go(func() error {
			return r.controller.Connect(ctx, sourceID, sinkID, mediaType)
		})
	}
	if err := g.Wait(); err != nil {
		return NormalizeError(CmdConnect,
			H{"sourceId": sourceID, "sinkIds": sinkIDs, "mediaType": mediaType}, err)
	}
	return nil
}

func (r *Router) Disconnect(ctx context.Context, sourceID, sinkID string, mediaType MediaType) error {
	if err := r.controller.Disconnect(ctx, sourceID, sinkID, mediaType); err != nil {
		return NormalizeError(CmdDisconnect,
			H{"sourceId": sourceID, "sinkId": sinkID, "mediaType": mediaType}, err)
	}
	return nil
}

func (r *Router) AddIceCandidate(ctx context.Context, mediaID string, candidate *IceCandidate) error {
	opParams := H{"mediaId": mediaID}
	if candidate == nil {
		return NormalizeError(CmdAddIceCandidate, opParams,
			NewInvalidStateError("missing ice candidate"))
	}
	if err := r.controller.AddIceCandidate(ctx, mediaID, *candidate); err != nil {
		return NormalizeError(CmdAddIceCandidate, opParams, err)
	}
	return nil
}

// OnEvent forwards a client's declared interest in an event class for the
// identified media/session to the controller, which drives the session
// buffering protocol.
func (r *Router) OnEvent(ctx context.Context, eventName, identifier string) error {
	if err := r.controller.OnEvent(ctx, eventName, identifier); err != nil {
		return NormalizeError(CmdOnEvent, H{"eventName": eventName, "identifier": identifier}, err)
	}
	return nil
}

func (r *Router) GetUsers(ctx context.Context, roomID string) ([]UserInfo, error) {
	users, err := r.controller.GetUsers(ctx, roomID)
	if err != nil {
		return nil, NormalizeError(CmdGetUsers, H{"roomId": roomID}, err)
	}
	return users, nil
}

func (r *Router) GetUserMedias(ctx context.Context, userID string) ([]MediaInfo, error) {
	medias, err := r.controller.GetUserMedias(ctx, userID)
	if err != nil {
		return nil, NormalizeError(CmdGetUserMedias, H{"userId": userID}, err)
	}
	return medias, nil
}

func (r *Router) StartRecording(ctx context.Context, userID, sourceID, path string) (string, error) {
	recordingID, err := r.controller.StartRecording(ctx, userID, sourceID, path)
	if err != nil {
		return "", NormalizeError("startRecording",
			H{"userId": userID, "sourceId": sourceID, "path": path}, err)
	}
	return recordingID, nil
}

func (r *Router) StopRecording(ctx context.Context, userID, recordingID string) error {
	if err := r.controller.StopRecording(ctx, userID, recordingID); err != nil {
		return NormalizeError("stopRecording",
			H{"userId": userID, "recordingId": recordingID}, err)
	}
	return nil
}

// fanOut builds the bus subscriber delivering events of one kind to the owning
// client. An event whose id has no registered owner is dropped silently; that
// is the accepted cost of not crashing on races between teardown and in-flight
// events.
func (r *Router) fanOut(notification string) EventHandler {
	return func(ev Event) {
		owner, ok := r.ownership.lookup(ev.RoutingID())
		if !ok {
			eventsDroppedTotal.WithLabelValues(string(ev.Kind)).Inc()
			r.logger.V(1).Info("dropped unrouted event", "kind", ev.Kind, "id", ev.RoutingID())
			return
		}
		eventsRoutedTotal.WithLabelValues(string(ev.Kind)).Inc()
		owner.Notify(notification, notificationPayload(ev))
	}
}

func notificationPayload(ev Event) H {
	payload := H{}
	for key, value := range ev.Data {
		payload[key] = value
	}
	switch ev.Kind {
	case EventIceCandidate:
		payload["mediaId"] = ev.MediaID
		payload["candidate"] = ev.Candidate
	case EventMediaState:
		payload["mediaId"] = ev.MediaID
		payload["state"] = ev.State
	default:
		payload["id"] = ev.ID
		if len(ev.RoomID) > 0 {
			payload["roomId"] = ev.RoomID
		}
		if len(ev.UserID) > 0 {
			payload["userId"] = ev.UserID
		}
	}
	return payload
}
