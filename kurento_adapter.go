package mcs

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-version"
)

const (
	defaultKurentoURI = "ws://127.0.0.1:8888/kurento"

	// minKurentoVersion is the oldest engine release whose event model this
	// adapter understands.
	minKurentoVersion = "6.7.0"
)

func init() {
	RegisterAdapter("kurento", func() Adapter {
		uri := os.Getenv("KURENTO_WS_URI")
		if len(uri) == 0 {
			uri = defaultKurentoURI
		}
		return NewKurentoAdapter(uri)
	})
}

type pendingSubscription struct {
	eventKey string
	callback func(H)
}

// KurentoAdapter drives a Kurento style media engine over JSON-RPC. Media
// elements live inside one MediaPipeline per room; the pipeline is created
// lazily with the room's first element and released with its last.
type KurentoAdapter struct {
	logger logr.Logger
	uri    string

	mu             sync.Mutex
	channel        *RPCChannel
	pipelines      map[string]string // room -> pipeline handle
	elements       map[string]string // element handle -> room
	pending        []pendingSubscription
	globalHandlers map[string][]func(H)
}

func NewKurentoAdapter(uri string) *KurentoAdapter {
	logger := NewLogger("KurentoAdapter")

	logger.V(1).Info("constructor()", "uri", uri)

	return &KurentoAdapter{
		logger:         logger,
		uri:            uri,
		pipelines:      make(map[string]string),
		elements:       make(map[string]string),
		globalHandlers: make(map[string][]func(H)),
	}
}

// Init dials the engine, verifies its version and starts the RPC channel.
// Calling Init on an adapter whose channel is still alive is a no-op.
func (a *KurentoAdapter) Init() error {
	a.mu.Lock()

	if a.channel != nil && !a.channel.Closed() {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(a.uri, nil)
	if err != nil {
		return fmt.Errorf("dial media engine %s: %w", a.uri, err)
	}

	channel := newRPCChannel(conn)
	channel.Start()

	var info struct {
		Value string `json:"value"`
	}
	rsp := channel.Request("invoke", H{
		"object":    "manager_ServerManager",
		"operation": "getVersion",
	})
	if err := rsp.Unmarshal(&info); err != nil {
		channel.Close()
		return fmt.Errorf("query engine version: %w", err)
	}

	engineVersion, err := version.NewVersion(info.Value)
	if err != nil {
		channel.Close()
		return fmt.Errorf("parse engine version %q: %w", info.Value, err)
	}
	minimum := version.Must(version.NewVersion(minKurentoVersion))
	if engineVersion.LessThan(minimum) {
		channel.Close()
		return fmt.Errorf("engine version %s is older than minimum supported %s",
			engineVersion, minimum)
	}

	channel.OnClose(func() {
		a.emitGlobal(AdapterEventServerOffline, H{"uri": a.uri})
	})

	a.mu.Lock()
	if a.channel != nil && !a.channel.Closed() {
		// lost a race with a concurrent Init
		a.mu.Unlock()
		channel.Close()
		return nil
	}
	for _, sub := range a.pending {
		channel.Subscribe(sub.eventKey, sub.callback)
	}
	a.pending = nil
	a.channel = channel
	a.mu.Unlock()

	a.logger.Info("connected to media engine", "uri", a.uri, "version", engineVersion)
	a.emitGlobal(AdapterEventServerOnline, H{"uri": a.uri, "version": info.Value})

	return nil
}

func (a *KurentoAdapter) CreateMediaElement(room, kind string, options H) (string, error) {
	channel, err := a.aliveChannel()
	if err != nil {
		return "", err
	}

	a.logger.V(1).Info("createMediaElement()", "room", room, "kind", kind)

	pipeline, err := a.pipelineFor(channel, room)
	if err != nil {
		return "", err
	}

	constructorParams := H{"mediaPipeline": pipeline}
	for key, value := range options {
		constructorParams[key] = value
	}

	var created struct {
		Value string `json:"value"`
	}
	rsp := channel.Request("create", H{
		"type":              kind,
		"constructorParams": constructorParams,
	})
	if err := rsp.Unmarshal(&created); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.elements[created.Value] = room
	a.mu.Unlock()

	return created.Value, nil
}

func (a *KurentoAdapter) Connect(elementHandle, sinkHandle string, mediaType MediaType) error {
	channel, err := a.aliveChannel()
	if err != nil {
		return err
	}

	return channel.Request("invoke", H{
		"object":    elementHandle,
		"operation": "connect",
		"operationParams": H{
			"sink":      sinkHandle,
			"mediaType": mediaType,
		},
	}).Err()
}

func (a *KurentoAdapter) Disconnect(elementHandle, sinkHandle string, mediaType MediaType) error {
	channel, err := a.aliveChannel()
	if err != nil {
		return err
	}

	return channel.Request("invoke", H{
		"object":    elementHandle,
		"operation": "disconnect",
		"operationParams": H{
			"sink":      sinkHandle,
			"mediaType": mediaType,
		},
	}).Err()
}

func (a *KurentoAdapter) TrackMediaState(elementHandle, kind string) error {
	channel, err := a.aliveChannel()
	if err != nil {
		return err
	}

	for _, eventType := range []string{AdapterEventMediaState, AdapterEventIceCandidate} {
		rsp := channel.Request("subscribe", H{
			"object": elementHandle,
			"type":   eventType,
		})
		if err := rsp.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (a *KurentoAdapter) Stop(room, kind, elementHandle string) error {
	channel, err := a.aliveChannel()
	if err != nil {
		return err
	}

	a.logger.V(1).Info("stop()", "room", room, "kind", kind, "element", elementHandle)

	if err := channel.Request("release", H{"object": elementHandle}).Err(); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.elements, elementHandle)
	roomEmpty := true
	for _, elementRoom := range a.elements {
		if elementRoom == room {
			roomEmpty = false
			break
		}
	}
	pipeline := a.pipelines[room]
	if roomEmpty {
		delete(a.pipelines, room)
	}
	a.mu.Unlock()

	if roomEmpty && len(pipeline) > 0 {
		return channel.Request("release", H{"object": pipeline}).Err()
	}
	return nil
}

func (a *KurentoAdapter) On(eventKey string, callback func(data H)) {
	switch eventKey {
	case AdapterEventServerOffline, AdapterEventServerOnline:
		a.mu.Lock()
		a.globalHandlers[eventKey] = append(a.globalHandlers[eventKey], callback)
		a.mu.Unlock()
	default:
		a.mu.Lock()
		if a.channel != nil {
			a.channel.Subscribe(eventKey, callback)
		} else {
			a.pending = append(a.pending, pendingSubscription{eventKey, callback})
		}
		a.mu.Unlock()
	}
}

// Close shuts down the engine connection. Element scoped state is dropped;
// sessions observe the shutdown through the server offline event.
func (a *KurentoAdapter) Close() error {
	a.mu.Lock()
	channel := a.channel
	a.mu.Unlock()

	if channel == nil {
		return nil
	}
	return channel.Close()
}

func (a *KurentoAdapter) aliveChannel() (*RPCChannel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil || a.channel.Closed() {
		return nil, NewInvalidStateError("media engine connection is not established")
	}
	return a.channel, nil
}

func (a *KurentoAdapter) pipelineFor(channel *RPCChannel, room string) (string, error) {
	a.mu.Lock()
	pipeline, ok := a.pipelines[room]
	a.mu.Unlock()

	if ok {
		return pipeline, nil
	}

	var created struct {
		Value string `json:"value"`
	}
	rsp := channel.Request("create", H{"type": "MediaPipeline"})
	if err := rsp.Unmarshal(&created); err != nil {
		return "", err
	}

	a.mu.Lock()
	// lost a race with a concurrent creator: keep the first pipeline
	if existing, ok := a.pipelines[room]; ok {
		a.mu.Unlock()
		channel.Request("release", H{"object": created.Value})
		return existing, nil
	}
	a.pipelines[room] = created.Value
	a.mu.Unlock()

	return created.Value, nil
}

func (a *KurentoAdapter) emitGlobal(name string, data H) {
	a.mu.Lock()
	handlers := append([]func(H){}, a.globalHandlers[name]...)
	a.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}
