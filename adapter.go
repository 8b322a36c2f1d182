package mcs

import (
	"fmt"
	"sync"
)

// Adapter event class names. Per session events are scoped by element handle
// (see scopedEvent); the server state names are global.
const (
	AdapterEventMediaState    = "MediaStateChanged"
	AdapterEventIceCandidate  = "OnIceCandidate"
	AdapterEventServerOffline = "MediaServerOffline"
	AdapterEventServerOnline  = "MediaServerOnline"
)

// Adapter is the capability set a media backend technology must implement.
// One instance serves one media session.
type Adapter interface {
	// Init connects the adapter to its media engine. Called once before any
	// other operation.
	Init() error

	// CreateMediaElement asks the engine to create a backend element for the
	// given room and element kind, returning its opaque handle.
	CreateMediaElement(room, kind string, options H) (string, error)

	// Connect links the element's output of the given media type into sink.
	Connect(elementHandle, sinkHandle string, mediaType MediaType) error

	// Disconnect removes a link previously established with Connect.
	Disconnect(elementHandle, sinkHandle string, mediaType MediaType) error

	// TrackMediaState asks the engine to begin reporting state changes for the
	// element.
	TrackMediaState(elementHandle, kind string) error

	// Stop releases the element and whatever room scoped resources become
	// unused by its removal.
	Stop(room, kind, elementHandle string) error

	// On registers a callback for an event key: an event class name scoped by
	// element handle for per session events, or a bare global name for server
	// online/offline notifications.
	On(eventKey string, callback func(data H))
}

// scopedEvent builds the per element event key used with Adapter.On.
func scopedEvent(name, elementHandle string) string {
	return fmt.Sprintf("%s:%s", name, elementHandle)
}

// AdapterFactory constructs one adapter instance.
type AdapterFactory func() Adapter

var (
	adaptersMu sync.RWMutex
	adapters   = make(map[string]AdapterFactory)
)

// RegisterAdapter makes an adapter implementation selectable by name. Built in
// implementations register themselves from an init function; applications may
// register their own before constructing sessions.
func RegisterAdapter(name string, factory AdapterFactory) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()

	adapters[name] = factory
}

// NewAdapter selects an adapter by name. An unrecognized name yields a
// constructible but permanently failing adapter, so the first operation on a
// session configured with a bad name fails fast with an explicit
// AdapterSelectionError instead of a nil dereference later.
func NewAdapter(name string) Adapter {
	adaptersMu.RLock()
	factory, ok := adapters[name]
	adaptersMu.RUnlock()

	if !ok {
		return &failingAdapter{name: name}
	}
	return factory()
}

type failingAdapter struct {
	name string
}

func (a *failingAdapter) err() error {
	return &AdapterSelectionError{Name: a.name}
}

func (a *failingAdapter) Init() error { return a.err() }

func (a *failingAdapter) CreateMediaElement(room, kind string, options H) (string, error) {
	return "", a.err()
}

func (a *failingAdapter) Connect(elementHandle, sinkHandle string, mediaType MediaType) error {
	return a.err()
}

func (a *failingAdapter) Disconnect(elementHandle, sinkHandle string, mediaType MediaType) error {
	return a.err()
}

func (a *failingAdapter) TrackMediaState(elementHandle, kind string) error { return a.err() }

func (a *failingAdapter) Stop(room, kind, elementHandle string) error { return a.err() }

func (a *failingAdapter) On(eventKey string, callback func(data H)) {}
