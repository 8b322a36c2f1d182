package mcs

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// MediaSession manages one media resource's backend lifecycle and buffers its
// outbound events until a consumer declares interest through OnEvent.
//
// The locker serializes state transitions and event production; bus delivery
// runs on the calling goroutine, so bus subscribers must not call back into
// the same session.
type MediaSession struct {
	locker      sync.Mutex
	logger      logr.Logger
	bus         *EventBus
	id          string
	room        string
	kind        string
	adapterName string
	options     H
	adapter     Adapter

	status        SessionStatus
	elementHandle string
	active        bool

	mediaStateGate eventGate
	iceGate        eventGate
}

// NewMediaSession creates a session in STOPPED state. The adapter is selected
// once, here; an unrecognized adapter name produces a session whose first
// operation fails with an AdapterSelectionError.
func NewMediaSession(bus *EventBus, options MediaSessionOptions) *MediaSession {
	opts := defaultMediaSessionOptions()
	if err := override(&opts, options); err != nil {
		opts = options
	}

	id := uuid.NewString()
	logger := NewLogger("MediaSession").WithValues("id", id, "room", opts.Room)

	logger.V(1).Info("constructor()", "kind", opts.Kind, "adapter", opts.AdapterName)

	return &MediaSession{
		logger:      logger,
		bus:         bus,
		id:          id,
		room:        opts.Room,
		kind:        opts.Kind,
		adapterName: opts.AdapterName,
		options:     opts.Options,
		adapter:     NewAdapter(opts.AdapterName),
		status:      SessionStopped,
	}
}

func (s *MediaSession) ID() string {
	return s.id
}

func (s *MediaSession) Room() string {
	return s.room
}

func (s *MediaSession) Kind() string {
	return s.kind
}

func (s *MediaSession) Status() SessionStatus {
	s.locker.Lock()
	defer s.locker.Unlock()

	return s.status
}

// ElementHandle returns the backend element handle. It is set if and only if
// the session is STARTED or STOPPING.
func (s *MediaSession) ElementHandle() string {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.status == SessionStarted || s.status == SessionStopping {
		return s.elementHandle
	}
	return ""
}

// Start acquires the adapter, creates the backend element, registers the
// session's event listeners and begins state tracking. Valid only from
// STOPPED. On success the returned handle is usable by the controller while
// the session stays STARTING until SessionStarted. On any adapter failure the
// status resets to STOPPED and a SessionStateError propagates; the session is
// never left stuck in STARTING.
func (s *MediaSession) Start() (string, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.logger.V(1).Info("start()")

	if s.status != SessionStopped {
		return "", NewInvalidStateError("cannot start session %s in status %s", s.id, s.status)
	}
	s.status = SessionStarting

	if err := s.adapter.Init(); err != nil {
		return "", s.failed("start", err)
	}

	handle, err := s.adapter.CreateMediaElement(s.room, s.kind, s.options)
	if err != nil {
		return "", s.failed("start", err)
	}

	s.adapter.On(scopedEvent(AdapterEventMediaState, handle), s.handleMediaState)
	s.adapter.On(scopedEvent(AdapterEventIceCandidate, handle), s.handleIceCandidate)
	s.adapter.On(AdapterEventServerOffline, s.serverStateHandler("offline"))
	s.adapter.On(AdapterEventServerOnline, s.serverStateHandler("online"))

	if err := s.adapter.TrackMediaState(handle, s.kind); err != nil {
		return "", s.failed("start", err)
	}

	s.elementHandle = handle
	s.active = true

	sessionsActive.Inc()

	return handle, nil
}

// SessionStarted is invoked by the controller once it considers the session
// ready, flipping the status from STARTING to STARTED.
func (s *MediaSession) SessionStarted() error {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.logger.V(1).Info("sessionStarted()")

	if s.status != SessionStarting {
		return NewInvalidStateError("session %s is %s, expected %s", s.id, s.status, SessionStarting)
	}
	s.status = SessionStarted

	return nil
}

// Stop tears the backend element down. On a non-STARTED session it is a no-op
// returning success without touching the adapter. A teardown failure still
// leaves the session STOPPED; it must not end up un-stoppable.
func (s *MediaSession) Stop() error {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.logger.V(1).Info("stop()", "status", s.status)

	if s.status != SessionStarted {
		return nil
	}
	s.status = SessionStopping

	err := s.adapter.Stop(s.room, s.kind, s.elementHandle)

	s.toStopped()

	s.bus.Publish(Event{
		Kind:    EventSessionStopped,
		MediaID: s.id,
		RoomID:  s.room,
	})

	if err != nil {
		return &SessionStateError{SessionID: s.id, Op: "stop", Err: err}
	}
	return nil
}

// Connect links this session's element into sink. An empty media type means
// ALL: audio, video and data.
func (s *MediaSession) Connect(sinkHandle string, mediaType MediaType) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	if len(mediaType) == 0 {
		mediaType = MediaTypeAll
	}
	if len(s.elementHandle) == 0 {
		return NewInvalidStateError("session %s has no backend element", s.id)
	}
	if err := s.adapter.Connect(s.elementHandle, sinkHandle, mediaType); err != nil {
		return s.failed("connect", err)
	}
	return nil
}

func (s *MediaSession) Disconnect(sinkHandle string, mediaType MediaType) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	if len(mediaType) == 0 {
		mediaType = MediaTypeAll
	}
	if len(s.elementHandle) == 0 {
		return NewInvalidStateError("session %s has no backend element", s.id)
	}
	if err := s.adapter.Disconnect(s.elementHandle, sinkHandle, mediaType); err != nil {
		return s.failed("disconnect", err)
	}
	return nil
}

// AddMediaEventListener delegates a listener registration directly to the
// adapter. eventKey follows the adapter's scoping rules.
func (s *MediaSession) AddMediaEventListener(eventKey string, handler func(H)) {
	s.adapter.On(eventKey, handler)
}

// OnEvent is the one-shot transition of an event class from Buffering to
// Flowing: the whole queue flushes onto the bus in original production order,
// then every later event publishes immediately. Subscription is monotonic and
// a second call for the same class is a no-op.
func (s *MediaSession) OnEvent(eventName string) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.logger.V(1).Info("onEvent()", "eventName", eventName)

	var gate *eventGate
	switch eventName {
	case SessionEventMediaState:
		gate = &s.mediaStateGate
	case SessionEventIceCandidate:
		gate = &s.iceGate
	default:
		return NewInvalidStateError("unknown event class %q", eventName)
	}

	if gate.flowing {
		return nil
	}
	gate.flowing = true

	for _, ev := range gate.queue {
		s.bus.Publish(ev)
	}
	gate.queue = nil

	return nil
}

// failed is the single normalization point for adapter errors: it forces the
// status back to STOPPED before propagating, so a failed operation never
// leaves ambiguous state.
func (s *MediaSession) failed(op string, err error) error {
	s.logger.Error(err, "adapter operation failed", "op", op, "status", s.status)

	s.toStopped()

	return &SessionStateError{SessionID: s.id, Op: op, Err: err}
}

// toStopped resets lifecycle state. Caller holds the locker.
func (s *MediaSession) toStopped() {
	if s.active {
		sessionsActive.Dec()
		s.active = false
	}
	s.status = SessionStopped
	s.elementHandle = ""
}

func (s *MediaSession) handleMediaState(data H) {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.emitOrBuffer(&s.mediaStateGate, Event{
		Kind:    EventMediaState,
		MediaID: s.id,
		State:   data,
	})
}

func (s *MediaSession) handleIceCandidate(data H) {
	var candidate IceCandidate
	if err := clone(data["candidate"], &candidate); err != nil {
		s.logger.Error(err, "malformed ice candidate event")
		return
	}

	s.locker.Lock()
	defer s.locker.Unlock()

	s.emitOrBuffer(&s.iceGate, Event{
		Kind:      EventIceCandidate,
		MediaID:   s.id,
		Candidate: &candidate,
	})
}

func (s *MediaSession) serverStateHandler(state string) func(H) {
	return func(data H) {
		s.bus.Publish(Event{
			Kind:    EventServerState,
			MediaID: s.id,
			Data:    H{"state": state, "info": data},
		})
	}
}

// emitOrBuffer publishes ev immediately once the gate is flowing, otherwise
// appends it to the gate's FIFO queue. Caller holds the locker.
func (s *MediaSession) emitOrBuffer(gate *eventGate, ev Event) {
	if gate.flowing {
		s.bus.Publish(ev)
		return
	}
	gate.queue = append(gate.queue, ev)
}
