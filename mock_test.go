package mcs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MockFunc records calls to the function returned by Fn, collecting results
// for a short window so asynchronous callers are observed too.
type MockFunc struct {
	require    *require.Assertions
	notifyChan chan []interface{}
	results    [][]interface{}
	timeout    time.Duration
}

func NewMockFunc(t *testing.T) *MockFunc {
	return &MockFunc{
		require:    require.New(t),
		notifyChan: make(chan []interface{}, 100),
		timeout:    50 * time.Millisecond,
	}
}

func (w *MockFunc) Fn() func(...interface{}) {
	w.Reset()

	return func(args ...interface{}) {
		w.notifyChan <- args
	}
}

func (w *MockFunc) ExpectCalledWith(args ...interface{}) {
	w.wait()

	if len(w.results) == 0 {
		w.require.FailNow("fn is not called")
		return
	}

	last := w.results[len(w.results)-1]

	if len(args) != len(last) {
		w.require.FailNow("fn is called, but the number of arguments is not the same")
		return
	}
	for i, arg := range args {
		w.require.EqualValues(arg, last[i])
	}
}

func (w *MockFunc) CalledTimes() int {
	w.wait()
	return len(w.results)
}

func (w *MockFunc) Reset() {
	w.notifyChan = make(chan []interface{}, 100)
	w.results = nil
}

func (w *MockFunc) wait() {
	if len(w.results) > 0 {
		return
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case result := <-w.notifyChan:
			w.results = append(w.results, result)
		case <-timer.C:
			return
		}
	}
}

// clientMessage is one outbound message recorded by mockClient.
type clientMessage struct {
	name          string
	transactionID string
	payload       H
	operr         *OperationError
}

// mockClient records every acknowledgment, error and push notification it
// receives. The optional hooks run synchronously inside the delivering call,
// which lets tests observe invariants at delivery time.
type mockClient struct {
	id int64
	mu sync.Mutex

	acks          []clientMessage
	errors        []clientMessage
	notifications []clientMessage

	onAck    func(clientMessage)
	onNotify func(clientMessage)
}

var mockClientSeq int64

func newMockClient() *mockClient {
	return &mockClient{id: atomic.AddInt64(&mockClientSeq, 1)}
}

func (c *mockClient) ID() int64 {
	return c.id
}

func (c *mockClient) Ack(name, transactionID string, payload H) {
	msg := clientMessage{name: name, transactionID: transactionID, payload: payload}

	c.mu.Lock()
	hook := c.onAck
	c.acks = append(c.acks, msg)
	c.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
}

func (c *mockClient) Error(transactionID string, operr *OperationError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = append(c.errors, clientMessage{transactionID: transactionID, operr: operr})
}

func (c *mockClient) Notify(name string, payload H) {
	msg := clientMessage{name: name, payload: payload}

	c.mu.Lock()
	hook := c.onNotify
	c.notifications = append(c.notifications, msg)
	c.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
}

func (c *mockClient) ackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acks)
}

func (c *mockClient) lastAck() (clientMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.acks) == 0 {
		return clientMessage{}, false
	}
	return c.acks[len(c.acks)-1], true
}

func (c *mockClient) lastError() (clientMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) == 0 {
		return clientMessage{}, false
	}
	return c.errors[len(c.errors)-1], true
}

func (c *mockClient) notified() []clientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]clientMessage{}, c.notifications...)
}

// mockController returns canned results and counts calls. Function fields
// override individual operations per test.
type mockController struct {
	mu    sync.Mutex
	calls []string

	joinFn      func(roomID, kind string) (string, error)
	publishFn   func(userID, roomID, kind string) (*MediaResult, error)
	subscribeFn func(userID, sourceID, kind string) (*MediaResult, error)
	connectFn   func(sourceID, sinkID string, mediaType MediaType) error
	unpublishFn func(mediaID string) error
	onEventFn   func(eventName, identifier string) error
}

func (m *mockController) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockController) callCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockController) Join(ctx context.Context, roomID, kind string, params H) (string, error) {
	m.record("join")
	if m.joinFn != nil {
		return m.joinFn(roomID, kind)
	}
	return "user-1", nil
}

func (m *mockController) Leave(ctx context.Context, roomID, userID string) error {
	m.record("leave")
	return nil
}

func (m *mockController) Publish(ctx context.Context, userID, roomID, kind string, params H) (*MediaResult, error) {
	m.record("publish")
	if m.publishFn != nil {
		return m.publishFn(userID, roomID, kind)
	}
	return &MediaResult{MediaID: "media-1", Descriptor: "sdp-answer"}, nil
}

func (m *mockController) PublishAndSubscribe(ctx context.Context, roomID, userID, sourceID, kind string, params H) (*MediaResult, error) {
	m.record("publishAndSubscribe")
	return &MediaResult{MediaID: "media-2", Descriptor: "sdp-answer"}, nil
}

func (m *mockController) Subscribe(ctx context.Context, userID, sourceID, kind string, params H) (*MediaResult, error) {
	m.record("subscribe")
	if m.subscribeFn != nil {
		return m.subscribeFn(userID, sourceID, kind)
	}
	return &MediaResult{MediaID: "media-3", Descriptor: "sdp-answer"}, nil
}

func (m *mockController) Unpublish(ctx context.Context, mediaID string) error {
	m.record("unpublish")
	if m.unpublishFn != nil {
		return m.unpublishFn(mediaID)
	}
	return nil
}

func (m *mockController) Unsubscribe(ctx context.Context, mediaID string) error {
	m.record("unsubscribe")
	return nil
}

func (m *mockController) UnpublishAndUnsubscribe(ctx context.Context, mediaID string) error {
	m.record("unpublishAndUnsubscribe")
	return nil
}

func (m *mockController) Connect(ctx context.Context, sourceID, sinkID string, mediaType MediaType) error {
	m.record("connect:" + sinkID)
	if m.connectFn != nil {
		return m.connectFn(sourceID, sinkID, mediaType)
	}
	return nil
}

func (m *mockController) Disconnect(ctx context.Context, sourceID, sinkID string, mediaType MediaType) error {
	m.record("disconnect")
	return nil
}

func (m *mockController) AddIceCandidate(ctx context.Context, mediaID string, candidate IceCandidate) error {
	m.record("addIceCandidate")
	return nil
}

func (m *mockController) OnEvent(ctx context.Context, eventName, identifier string) error {
	m.record("onEvent")
	if m.onEventFn != nil {
		return m.onEventFn(eventName, identifier)
	}
	return nil
}

func (m *mockController) GetUsers(ctx context.Context, roomID string) ([]UserInfo, error) {
	m.record("getUsers")
	return []UserInfo{{UserID: "user-1", RoomID: roomID}}, nil
}

func (m *mockController) GetUserMedias(ctx context.Context, userID string) ([]MediaInfo, error) {
	m.record("getUserMedias")
	return []MediaInfo{{MediaID: "media-1", UserID: userID}}, nil
}

func (m *mockController) StartRecording(ctx context.Context, userID, sourceID, path string) (string, error) {
	m.record("startRecording")
	return "rec-1", nil
}

func (m *mockController) StopRecording(ctx context.Context, userID, recordingID string) error {
	m.record("stopRecording")
	return nil
}

// mockAdapter implements Adapter in memory, recording calls and letting tests
// trigger backend events through emit.
type mockAdapter struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string][]func(H)

	handle     string
	initErr    error
	createErr  error
	trackErr   error
	stopErr    error
	connectErr error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		handle:   "element-1",
		handlers: make(map[string][]func(H)),
	}
}

func (m *mockAdapter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAdapter) callCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockAdapter) Init() error {
	m.record("init")
	return m.initErr
}

func (m *mockAdapter) CreateMediaElement(room, kind string, options H) (string, error) {
	m.record("createMediaElement")
	if m.createErr != nil {
		return "", m.createErr
	}
	return m.handle, nil
}

func (m *mockAdapter) Connect(elementHandle, sinkHandle string, mediaType MediaType) error {
	m.record("connect:" + string(mediaType))
	return m.connectErr
}

func (m *mockAdapter) Disconnect(elementHandle, sinkHandle string, mediaType MediaType) error {
	m.record("disconnect")
	return nil
}

func (m *mockAdapter) TrackMediaState(elementHandle, kind string) error {
	m.record("trackMediaState")
	return m.trackErr
}

func (m *mockAdapter) Stop(room, kind, elementHandle string) error {
	m.record("stop")
	return m.stopErr
}

func (m *mockAdapter) On(eventKey string, callback func(data H)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventKey] = append(m.handlers[eventKey], callback)
}

func (m *mockAdapter) emit(eventKey string, data H) {
	m.mu.Lock()
	handlers := append([]func(H){}, m.handlers[eventKey]...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(data)
	}
}

var testAdapterSeq int64

// newTestSession wires a session to the given adapter through a uniquely named
// factory registration.
func newTestSession(bus *EventBus, adapter Adapter, options MediaSessionOptions) *MediaSession {
	name := fmt.Sprintf("test-adapter-%d", atomic.AddInt64(&testAdapterSeq, 1))
	RegisterAdapter(name, func() Adapter { return adapter })
	options.AdapterName = name
	return NewMediaSession(bus, options)
}
