// Package inproc is an in-process bus fabric. A Hub stands in for the bus
// daemon: test and development services register handlers on it, clients
// route calls to those handlers, and every asynchronous reply is delivered on
// the event loop owning the client.
package inproc

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/eventloop"
)

// ErrClosed is returned for calls issued after the hub disconnected.
var ErrClosed = errors.New("bus connection closed")

// HandlerFunc serves one bus endpoint. It receives the decoded call
// parameters and the call handle, and replies through the handle. The handle
// may be retained to emit further replies later.
type HandlerFunc func(params bus.Params, call *Call)

// Hub routes calls between in-process clients and registered endpoints.
type Hub struct {
	loop *eventloop.Loop

	mu       sync.Mutex
	routes   map[string]HandlerFunc
	methods  map[string]bus.Dispatch
	clients  []*Client
	shutdown bool
}

// NewHub creates a hub delivering replies on loop.
func NewHub(loop *eventloop.Loop) *Hub {
	return &Hub{
		loop:    loop,
		routes:  make(map[string]HandlerFunc),
		methods: make(map[string]bus.Dispatch),
	}
}

// HandleFunc registers handler as the endpoint behind url. Re-registering
// replaces the handler; a nil handler removes the endpoint.
func (h *Hub) HandleFunc(url string, handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handler == nil {
		delete(h.routes, url)
		return
	}
	h.routes[url] = handler
}

func (h *Hub) handler(url string) (HandlerFunc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return nil, ErrClosed
	}
	return h.routes[url], nil
}

// Request invokes a method a client registered on this hub, simulating an
// incoming bus request. It returns nil when no method is registered at url.
func (h *Hub) Request(url string, payload []byte) []byte {
	h.mu.Lock()
	dispatch := h.methods[url]
	h.mu.Unlock()
	if dispatch == nil {
		return nil
	}
	if payload == nil {
		payload = []byte("{}")
	}
	return dispatch(payload)
}

// Disconnect simulates losing the bus: every client's disconnect handler is
// invoked on the event loop and all further calls fail.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*Client, len(h.clients))
	copy(clients, h.clients)
	h.mu.Unlock()

	for _, client := range clients {
		client.disconnected()
	}
}

// NewClient attaches a client under the given service path.
func (h *Hub) NewClient(servicePath string) *Client {
	c := &Client{hub: h, servicePath: servicePath}
	h.mu.Lock()
	h.clients = append(h.clients, c)
	h.mu.Unlock()
	return c
}

// Client is an in-process bus.Client bound to one hub.
type Client struct {
	hub         *Hub
	servicePath string

	mu           sync.Mutex
	onDisconnect func()
}

// CallOnce implements bus.Client. A url with no endpoint behaves like a dead
// service: the call times out.
func (c *Client) CallOnce(url string, params []byte, timeout time.Duration) ([]byte, error) {
	call, err := c.CallStream(url, params)
	if err != nil {
		return nil, err
	}
	defer call.Cancel()
	reply, ok := call.Get(timeout)
	if !ok {
		return nil, nil
	}
	return reply, nil
}

// CallStream implements bus.Client.
func (c *Client) CallStream(url string, params []byte) (bus.Stream, error) {
	handler, err := c.hub.handler(url)
	if err != nil {
		return nil, err
	}

	call := newCall(c.hub, url)
	if handler == nil {
		// No such service on the hub; the stream stays silent, like a call
		// to a service that is down.
		return call, nil
	}

	var decoded bus.Params
	if len(params) > 0 {
		if err := json.Unmarshal(params, &decoded); err != nil {
			return nil, err
		}
	}
	handler(decoded, call)
	return call, nil
}

// RegisterMethod implements bus.Client.
func (c *Client) RegisterMethod(category, name string, dispatch bus.Dispatch) error {
	url := "luna://" + c.servicePath + category + "/" + name
	c.hub.mu.Lock()
	c.hub.methods[url] = dispatch
	c.hub.mu.Unlock()
	return nil
}

// SetDisconnectHandler implements bus.Client.
func (c *Client) SetDisconnectHandler(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *Client) disconnected() {
	c.mu.Lock()
	fn := c.onDisconnect
	c.mu.Unlock()
	if fn == nil {
		return
	}
	c.hub.loop.Post(fn)
}

// Call is one outstanding call on the hub, implementing bus.Stream for its
// issuer and the reply side for the serving handler. Replies made before
// ContinueWith are buffered and delivered in order.
type Call struct {
	hub   *Hub
	url   string
	token string

	mu        sync.Mutex
	buffered  [][]byte
	fn        func(payload []byte, err error)
	failure   error
	cancelled bool
	avail     chan struct{}
}

func newCall(hub *Hub, url string) *Call {
	return &Call{
		hub:   hub,
		url:   url,
		token: uuid.NewString(),
		avail: make(chan struct{}, 1),
	}
}

// Token returns the call's unique token.
func (c *Call) Token() string {
	return c.token
}

// URL returns the address the call was issued against.
func (c *Call) URL() string {
	return c.url
}

// Reply sends one reply to the caller.
func (c *Call) Reply(payload bus.Payload) {
	body, err := json.Marshal(map[string]any(payload))
	if err != nil {
		return
	}
	c.push(body)
}

// ReplyRaw sends one pre-serialized reply to the caller.
func (c *Call) ReplyRaw(body []byte) {
	c.push(body)
}

func (c *Call) push(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.failure != nil {
		return
	}
	if c.fn != nil {
		c.deliver(body, nil)
		return
	}
	c.buffered = append(c.buffered, body)
	select {
	case c.avail <- struct{}{}:
	default:
	}
}

// Fail terminates the call with a bus-level error.
func (c *Call) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.failure != nil {
		return
	}
	c.failure = err
	if c.fn != nil {
		c.deliver(nil, err)
		return
	}
	select {
	case c.avail <- struct{}{}:
	default:
	}
}

// deliver posts one callback invocation onto the loop. Caller holds c.mu.
func (c *Call) deliver(body []byte, err error) {
	fn := c.fn
	c.hub.loop.Post(func() {
		c.mu.Lock()
		dead := c.cancelled
		c.mu.Unlock()
		if dead {
			return
		}
		fn(body, err)
	})
}

// Get implements bus.Stream. It waits synchronously, bypassing the loop, so
// the loop itself may block on it.
func (c *Call) Get(timeout time.Duration) ([]byte, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		if len(c.buffered) > 0 {
			body := c.buffered[0]
			c.buffered = c.buffered[1:]
			c.mu.Unlock()
			return body, true
		}
		done := c.cancelled || c.failure != nil
		c.mu.Unlock()
		if done {
			return nil, false
		}
		select {
		case <-c.avail:
		case <-deadline.C:
			return nil, false
		}
	}
}

// ContinueWith implements bus.Stream. Buffered replies are flushed to fn in
// arrival order before any new ones.
func (c *Call) ContinueWith(fn func(payload []byte, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	for _, body := range c.buffered {
		c.deliver(body, nil)
	}
	c.buffered = nil
	if c.failure != nil {
		c.deliver(nil, c.failure)
	}
}

// Cancel implements bus.Stream.
func (c *Call) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.buffered = nil
	c.mu.Unlock()
}
