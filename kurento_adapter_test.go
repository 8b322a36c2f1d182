package mcs

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kurentoEngine answers the adapter's JSON-RPC vocabulary and records every
// request it sees as "method:detail" strings.
type kurentoEngine struct {
	*fakeEngine
	version    string
	requests   []string
	nextHandle int
}

func newKurentoEngine(t *testing.T, engineVersion string) *kurentoEngine {
	e := &kurentoEngine{version: engineVersion}
	e.fakeEngine = newFakeEngine(t, e.serve)
	return e
}

func (e *kurentoEngine) serve(conn *websocket.Conn, req rpcRequest) {
	params, _ := req.Params.(map[string]interface{})

	switch req.Method {
	case "invoke":
		operation, _ := params["operation"].(string)
		e.record("invoke:" + operation)
		if operation == "getVersion" {
			respond(conn, req.Id, H{"value": e.version})
			return
		}
		respond(conn, req.Id, H{})

	case "create":
		kind, _ := params["type"].(string)
		e.record("create:" + kind)
		e.mu.Lock()
		e.nextHandle++
		handle := fmt.Sprintf("handle-%d", e.nextHandle)
		e.mu.Unlock()
		respond(conn, req.Id, H{"value": handle})

	case "subscribe":
		kind, _ := params["type"].(string)
		e.record("subscribe:" + kind)
		respond(conn, req.Id, H{"value": "sub-1"})

	case "release":
		object, _ := params["object"].(string)
		e.record("release:" + object)
		respond(conn, req.Id, H{})

	default:
		respondError(conn, req.Id, 40000, "unknown method "+req.Method)
	}
}

func (e *kurentoEngine) record(request string) {
	e.mu.Lock()
	e.requests = append(e.requests, request)
	e.mu.Unlock()
}

func (e *kurentoEngine) recorded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.requests...)
}

func TestKurentoAdapter_InitChecksEngineVersion(t *testing.T) {
	engine := newKurentoEngine(t, "6.5.0")
	adapter := NewKurentoAdapter(engine.url())

	err := adapter.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older than")
}

func TestKurentoAdapter_InitIsIdempotent(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()

	require.NoError(t, adapter.Init())
	require.NoError(t, adapter.Init())

	// a live channel means the second Init never dials again
	assert.Equal(t, []string{"invoke:getVersion"}, engine.recorded())
}

func TestKurentoAdapter_PipelinePerRoom(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()
	require.NoError(t, adapter.Init())

	first, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)
	second, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// one pipeline for the room, created lazily with the first element
	assert.Equal(t, []string{
		"invoke:getVersion",
		"create:MediaPipeline",
		"create:WebRtcEndpoint",
		"create:WebRtcEndpoint",
	}, engine.recorded())

	_, err = adapter.CreateMediaElement("room-2", "WebRtcEndpoint", nil)
	require.NoError(t, err)
	assert.Contains(t, engine.recorded()[4:], "create:MediaPipeline")
}

func TestKurentoAdapter_StopReleasesPipelineWithLastElement(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()
	require.NoError(t, adapter.Init())

	first, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)
	second, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)

	require.NoError(t, adapter.Stop("room-1", "WebRtcEndpoint", first))
	requests := engine.recorded()
	assert.Equal(t, "release:"+first, requests[len(requests)-1])

	// releasing the last element of the room takes the pipeline with it
	require.NoError(t, adapter.Stop("room-1", "WebRtcEndpoint", second))
	requests = engine.recorded()
	assert.Equal(t, "release:handle-1", requests[len(requests)-1])
	assert.Equal(t, "release:"+second, requests[len(requests)-2])
}

func TestKurentoAdapter_TrackMediaStateSubscribes(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()
	require.NoError(t, adapter.Init())

	element, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)
	require.NoError(t, adapter.TrackMediaState(element, "WebRtcEndpoint"))

	requests := engine.recorded()
	assert.Contains(t, requests, "subscribe:"+AdapterEventMediaState)
	assert.Contains(t, requests, "subscribe:"+AdapterEventIceCandidate)
}

func TestKurentoAdapter_RoutesElementNotifications(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()
	require.NoError(t, adapter.Init())

	element, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	require.NoError(t, err)

	received := make(chan H, 1)
	adapter.On(scopedEvent(AdapterEventMediaState, element), func(data H) {
		received <- data
	})
	require.NoError(t, adapter.TrackMediaState(element, "WebRtcEndpoint"))

	engine.notify(t, element, AdapterEventMediaState, H{"state": "FLOWING"})

	select {
	case data := <-received:
		assert.Equal(t, "FLOWING", data["state"])
	case <-time.After(time.Second):
		t.Fatal("media state notification was not routed")
	}
}

func TestKurentoAdapter_SessionStopDespiteConcurrentNotification(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	base := engine.serve
	engine.handle = func(conn *websocket.Conn, req rpcRequest) {
		// a state notification lands just before the release answer; the
		// session holds its locker while waiting for that answer
		if req.Method == "release" {
			params, _ := req.Params.(map[string]interface{})
			object, _ := params["object"].(string)
			conn.WriteJSON(H{
				"jsonrpc": "2.0",
				"method":  "onEvent",
				"params": H{
					"value": H{"object": object, "type": AdapterEventMediaState, "data": H{"state": "NOT_FLOWING"}},
				},
			})
		}
		base(conn, req)
	}

	adapter := NewKurentoAdapter(engine.url())
	defer adapter.Close()

	name := fmt.Sprintf("test-engine-%d", atomic.AddInt64(&testAdapterSeq, 1))
	RegisterAdapter(name, func() Adapter { return adapter })

	bus := NewEventBus()
	session := NewMediaSession(bus, MediaSessionOptions{Room: "room-1", AdapterName: name})

	_, err := session.Start()
	require.NoError(t, err)
	require.NoError(t, session.SessionStarted())

	require.NoError(t, session.Stop())
	assert.Equal(t, SessionStopped, session.Status())

	// both the element and the now empty room's pipeline were released
	requests := engine.recorded()
	assert.Equal(t, "release:handle-1", requests[len(requests)-1])
}

func TestKurentoAdapter_OfflineEventOnClose(t *testing.T) {
	engine := newKurentoEngine(t, "7.0.0")
	adapter := NewKurentoAdapter(engine.url())

	offline := make(chan H, 1)
	adapter.On(AdapterEventServerOffline, func(data H) {
		offline <- data
	})
	require.NoError(t, adapter.Init())
	require.NoError(t, adapter.Close())

	select {
	case data := <-offline:
		assert.Equal(t, engine.url(), data["uri"])
	case <-time.After(time.Second):
		t.Fatal("server offline event was not emitted")
	}
}

func TestKurentoAdapter_RequestsRequireConnection(t *testing.T) {
	adapter := NewKurentoAdapter("ws://127.0.0.1:1/kurento")

	_, err := adapter.CreateMediaElement("room-1", "WebRtcEndpoint", nil)
	var invErr *InvalidStateError
	assert.ErrorAs(t, err, &invErr)
	assert.ErrorAs(t, adapter.Connect("e1", "e2", MediaTypeAll), &invErr)
	assert.ErrorAs(t, adapter.Stop("room-1", "WebRtcEndpoint", "e1"), &invErr)
}
