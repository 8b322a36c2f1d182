package mcs

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const rpcRequestTimeout = 3000 * time.Millisecond

// rpcRequest is the JSON-RPC request sent to the media engine.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Id      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcMessage is anything read back from the engine: a response when Id is set,
// a notification when Method is set.
type rpcMessage struct {
	Id     int64           `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcErrorBody   `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// rpcNotification is the payload of an "onEvent" notification: the event class
// name plus the handle of the element it concerns.
type rpcNotification struct {
	Value struct {
		Object string `json:"object,omitempty"`
		Type   string `json:"type,omitempty"`
		Data   H      `json:"data,omitempty"`
	} `json:"value"`
}

// rpcResponse carries the result of one Request call.
type rpcResponse struct {
	data json.RawMessage
	err  error
}

func (r rpcResponse) Unmarshal(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(r.data) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(r.data), v)
}

func (r rpcResponse) Data() []byte {
	return []byte(r.data)
}

func (r rpcResponse) Err() error {
	return r.err
}

type rpcSentInfo struct {
	method      string
	requestData []byte
	respCh      chan rpcResponse
}

type queuedNotification struct {
	key  string
	data H
}

// RPCChannel correlates JSON-RPC requests with responses over one websocket
// connection to the media engine, and dispatches engine notifications to
// event-key subscribers. Writes are serialized through a single write loop.
// Notifications are dispatched in arrival order from a dedicated loop, never
// from the read loop: a subscriber may block on a lock held by a goroutine
// that is itself waiting in Request, and responses must keep flowing through
// that.
type RPCChannel struct {
	logger   logr.Logger
	conn     *websocket.Conn
	closed   int32
	nextId   int64
	sents    sync.Map
	sentChan chan rpcSentInfo
	closeCh  chan struct{}

	notifyMu    sync.Mutex
	notifyQueue []queuedNotification
	notifyKick  chan struct{}

	mu        sync.RWMutex
	handlers  map[string][]func(H)
	onceClose sync.Once
	onClose   []func()
}

func newRPCChannel(conn *websocket.Conn) *RPCChannel {
	logger := NewLogger("RPCChannel")

	logger.V(1).Info("constructor()")

	return &RPCChannel{
		logger:     logger,
		conn:       conn,
		sentChan:   make(chan rpcSentInfo),
		closeCh:    make(chan struct{}),
		notifyKick: make(chan struct{}, 1),
		handlers:   make(map[string][]func(H)),
	}
}

func (c *RPCChannel) Start() {
	go c.runWriteLoop()
	go c.runReadLoop()
	go c.runNotifyLoop()
}

func (c *RPCChannel) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.logger.V(1).Info("close()")
		close(c.closeCh)
		err := c.conn.Close()

		c.onceClose.Do(func() {
			c.mu.RLock()
			onClose := c.onClose
			c.mu.RUnlock()
			for _, fn := range onClose {
				fn()
			}
		})
		return err
	}
	return nil
}

func (c *RPCChannel) Closed() bool {
	return atomic.LoadInt32(&c.closed) > 0
}

// OnClose registers fn to run once when the channel shuts down, whether by an
// explicit Close or a broken connection.
func (c *RPCChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onClose = append(c.onClose, fn)
}

// Subscribe registers fn for notifications carrying the given event key
// ("<class>:<elementHandle>" for element scoped events).
func (c *RPCChannel) Subscribe(eventKey string, fn func(H)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[eventKey] = append(c.handlers[eventKey], fn)
}

// Request sends one JSON-RPC request and blocks until the engine answers, the
// request times out, or the channel closes.
func (c *RPCChannel) Request(method string, params interface{}) (rsp rpcResponse) {
	if c.Closed() {
		rsp.err = ErrChannelClosed
		return
	}
	id := atomic.AddInt64(&c.nextId, 1)

	c.logger.V(1).Info("request()", "method", method, "id", id)

	requestData, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Id:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		rsp.err = err
		return
	}

	sent := rpcSentInfo{
		method:      method,
		requestData: requestData,
		respCh:      make(chan rpcResponse),
	}
	c.sents.Store(id, sent)
	defer c.sents.Delete(id)

	timer := time.NewTimer(rpcRequestTimeout)
	defer timer.Stop()

	// send request
	select {
	case c.sentChan <- sent:
	case <-timer.C:
		rsp.err = fmt.Errorf("%w [id:%d, method:%s]", ErrChannelRequestTimeout, id, method)
	case <-c.closeCh:
		rsp.err = fmt.Errorf("%w [id:%d, method:%s]", ErrChannelClosed, id, method)
	}
	if rsp.err != nil {
		return
	}

	// wait response
	select {
	case rsp = <-sent.respCh:
	case <-timer.C:
		rsp.err = fmt.Errorf("%w [id:%d, method:%s]", ErrChannelRequestTimeout, id, method)
	case <-c.closeCh:
		rsp.err = fmt.Errorf("%w [id:%d, method:%s]", ErrChannelClosed, id, method)
	}
	return
}

func (c *RPCChannel) runWriteLoop() {
	defer c.Close()

	for {
		select {
		case sent := <-c.sentChan:
			if err := c.conn.WriteMessage(websocket.TextMessage, sent.requestData); err != nil {
				sent.respCh <- rpcResponse{err: err}
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *RPCChannel) runReadLoop() {
	defer c.Close()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !c.Closed() {
				c.logger.Error(err, "read failed")
			}
			return
		}
		c.processMessage(payload)
	}
}

func (c *RPCChannel) processMessage(payload []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Error(err, "received malformed message")
		return
	}

	if msg.Id > 0 {
		value, ok := c.sents.Load(msg.Id)
		if !ok {
			c.logger.Error(nil, "response does not match any sent request", "id", msg.Id)
			return
		}
		sent := value.(rpcSentInfo)

		if msg.Error != nil {
			c.logger.V(1).Info("request failed",
				"method", sent.method, "id", msg.Id, "reason", msg.Error.Message)
			sent.respCh <- rpcResponse{
				err: fmt.Errorf("engine error %d: %s", msg.Error.Code, msg.Error.Message),
			}
		} else {
			c.logger.V(1).Info("request succeeded", "method", sent.method, "id", msg.Id)
			sent.respCh <- rpcResponse{data: msg.Result}
		}
		return
	}

	if msg.Method == "onEvent" {
		var notification rpcNotification
		if err := json.Unmarshal(msg.Params, &notification); err != nil {
			c.logger.Error(err, "received malformed notification")
			return
		}
		key := notification.Value.Type
		if notification.Value.Object != "" {
			key = scopedEvent(notification.Value.Type, notification.Value.Object)
		}
		c.enqueueNotification(key, notification.Value.Data)
		return
	}

	c.logger.Error(nil, "received message is not a response nor a notification")
}

func (c *RPCChannel) enqueueNotification(key string, data H) {
	c.notifyMu.Lock()
	c.notifyQueue = append(c.notifyQueue, queuedNotification{key: key, data: data})
	c.notifyMu.Unlock()

	select {
	case c.notifyKick <- struct{}{}:
	default:
	}
}

func (c *RPCChannel) runNotifyLoop() {
	for {
		select {
		case <-c.notifyKick:
		case <-c.closeCh:
			return
		}

		for {
			c.notifyMu.Lock()
			if len(c.notifyQueue) == 0 {
				c.notifyMu.Unlock()
				break
			}
			next := c.notifyQueue[0]
			c.notifyQueue = c.notifyQueue[1:]
			c.notifyMu.Unlock()

			c.mu.RLock()
			handlers := c.handlers[next.key]
			c.mu.RUnlock()

			for _, handler := range handlers {
				handler(next.data)
			}
		}
	}
}
