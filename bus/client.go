// Package bus defines the client port onto the service bus and the gateway
// that the event-monitor core uses to talk to it. The transport itself lives
// behind the Client interface; implementations deliver every asynchronous
// callback on the core event loop.
package bus

import "time"

// Params carries the arguments of an outgoing bus call.
type Params map[string]any

// Payload is a decoded JSON object received from or sent over the bus.
type Payload map[string]any

// Dispatch handles an incoming request on a registered method and returns
// the serialized response.
type Dispatch func(payload []byte) (response []byte)

// Client is the transport port. One-shot calls block the caller; streams
// deliver replies through ContinueWith on the event loop owning the client.
type Client interface {
	// CallOnce issues a single-reply call. A nil payload with a nil error
	// means no reply arrived within the timeout.
	CallOnce(url string, params []byte, timeout time.Duration) ([]byte, error)

	// CallStream issues a multi-reply call and returns its stream handle.
	CallStream(url string, params []byte) (Stream, error)

	// RegisterMethod installs a dispatcher for category/name. Registration
	// is idempotent; re-registering replaces the dispatcher.
	RegisterMethod(category, name string, dispatch Dispatch) error

	// SetDisconnectHandler installs fn to be invoked once when the bus
	// connection drops.
	SetDisconnectHandler(fn func())
}

// Stream is a handle onto a multi-reply call.
type Stream interface {
	// Get blocks up to timeout for the next reply that has not yet been
	// handed to the ContinueWith callback. Used to consume a subscription's
	// acknowledgement synchronously.
	Get(timeout time.Duration) ([]byte, bool)

	// ContinueWith starts asynchronous delivery of replies to fn on the
	// event loop. A non-nil err signals a bus-level failure terminating
	// the stream.
	ContinueWith(fn func(payload []byte, err error))

	// Cancel stops the stream. After Cancel returns no further replies are
	// delivered; replies already in flight are dropped.
	Cancel()
}
