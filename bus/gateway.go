package bus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// DefaultCallTimeout bounds synchronous calls that do not specify a budget.
const DefaultCallTimeout = 1000 * time.Millisecond

// firstResponseTimeout bounds the wait for a subscription acknowledgement.
const firstResponseTimeout = 1000 * time.Millisecond

// Fixed error responses sent by registered methods.
const (
	respMethodRemoved = `{"returnValue":false,"errorCode":1,"errorMessage":"Method removed."}`
	respSchemaError   = `{"returnValue":false,"errorCode":2,"errorMessage":"Failed to validate request against schema"}`
	respHandlerFailed = `{"returnValue":false,"errorMessage":"Method execution failed"}`
)

// Owner identifies the plugin adapter a gateway resource belongs to. Records
// hold the owner as a weak back-reference; CleanupOwner severs every such
// reference before the adapter is destroyed.
type Owner interface {
	OwnerID() string
}

// Callback receives the single reply of an asynchronous call.
type Callback func(response Payload)

// SubscribeCallback receives subscription replies together with the reply
// delivered on the previous invocation (nil on the first).
type SubscribeCallback func(previous, current Payload)

// MethodHandler produces the response of a registered method.
type MethodHandler func(params Payload) Payload

// Subscription is the gateway's record of one outstanding stream.
type Subscription struct {
	url      string
	owner    Owner
	schema   *Schema
	stream   Stream
	oneShot  bool
	callback Callback
	onReply  SubscribeCallback
	counter  int
	previous Payload
}

// URL returns the bus address the subscription was issued against.
func (s *Subscription) URL() string {
	return s.url
}

// Method is the gateway's record of one registered bus method. The owner is
// nilled when its adapter is torn down; the bus path stays registered and
// answers "method removed" from then on.
type Method struct {
	owner   Owner
	handler MethodHandler
	schema  *Schema
	url     string
}

// Gateway wraps the transport client with bookkeeping: it tracks every
// outstanding subscription and registered method, validates payloads against
// their schemas and routes replies to the owning adapter. All methods must be
// called from the event loop.
type Gateway struct {
	client      Client
	servicePath string
	log         *log.Helper

	subscriptions map[*Subscription]struct{}
	methods       map[string]map[string]*Method

	afterCallback func(owner Owner)
	onDisconnect  func()
}

// NewGateway creates a gateway over client. servicePath is the bus identity
// this process registered under, e.g. "com.webos.service.event-monitor".
func NewGateway(client Client, servicePath string, logger log.Logger) *Gateway {
	g := &Gateway{
		client:        client,
		servicePath:   servicePath,
		log:           log.NewHelper(log.With(logger, "component", "bus")),
		subscriptions: make(map[*Subscription]struct{}),
		methods:       make(map[string]map[string]*Method),
	}
	client.SetDisconnectHandler(g.disconnected)
	return g
}

// ServicePath returns the bus identity the gateway registered under.
func (g *Gateway) ServicePath() string {
	return g.servicePath
}

// OnCallbackDone installs the hook invoked after every plugin-owned callback
// frame returns. The plugin manager uses it to execute deferred unloads.
func (g *Gateway) OnCallbackDone(fn func(owner Owner)) {
	g.afterCallback = fn
}

// OnDisconnect installs the hook invoked once when the bus drops. There is
// no reconnect; the process is expected to terminate.
func (g *Gateway) OnDisconnect(fn func()) {
	g.onDisconnect = fn
}

func (g *Gateway) disconnected() {
	g.log.Error("bus disconnected, shutting down")
	if g.onDisconnect != nil {
		g.onDisconnect()
	}
}

// Call issues a synchronous one-shot call. It returns nil without an error
// when no reply arrives within the timeout or the reply is not a JSON
// object; transport failures are returned as errors.
func (g *Gateway) Call(url string, params Params, timeout time.Duration) (Payload, error) {
	body := marshalParams(params)
	g.log.Debugf("call %s params %s", url, body)

	reply, err := g.client.CallOnce(url, body, timeout)
	if err != nil {
		g.log.Errorf("failed to call %s: %v", url, err)
		return nil, newError("call", url, err.Error(), ErrTransport)
	}
	if reply == nil {
		g.log.Errorf("call %s has no reply within %v", url, timeout)
		return nil, nil
	}

	value, err := decodeObject(reply)
	if err != nil {
		g.log.Errorf("bad reply from %s: %v", url, err)
		return nil, nil
	}
	return value, nil
}

// CallAsync issues a call whose single reply is delivered to callback on the
// event loop. With a nil callback the call is fire-and-forget.
func (g *Gateway) CallAsync(url string, params Params, callback Callback, owner Owner) error {
	body := marshalParams(params)
	g.log.Debugf("call async %s params %s", url, body)

	stream, err := g.client.CallStream(url, body)
	if err != nil {
		g.log.Errorf("failed to call %s: %v", url, err)
		return newError("callAsync", url, err.Error(), ErrTransport)
	}

	sub := &Subscription{
		url:      url,
		owner:    owner,
		stream:   stream,
		oneShot:  true,
		callback: callback,
	}
	g.subscriptions[sub] = struct{}{}
	stream.ContinueWith(func(payload []byte, err error) {
		g.handleReply(sub, payload, err)
	})
	return nil
}

// Subscribe issues a multi-reply call with subscribe:true injected into the
// params. With checkFirstResponse set, the first reply is consumed as the
// subscription acknowledgement: it is never handed to the callback, and a
// timeout, a parse failure or returnValue:false fails the whole subscription
// without leaving a record behind.
func (g *Gateway) Subscribe(url string, params Params, callback SubscribeCallback,
	schema *Schema, owner Owner, checkFirstResponse bool) (*Subscription, error) {

	merged := Params{"subscribe": true}
	for k, v := range params {
		merged[k] = v
	}
	body := marshalParams(merged)
	g.log.Debugf("subscribing to %s params %s", url, body)

	stream, err := g.client.CallStream(url, body)
	if err != nil {
		g.log.Errorf("failed to subscribe %s: %v", url, err)
		return nil, newError("subscribe", url, err.Error(), ErrTransport)
	}

	sub := &Subscription{
		url:     url,
		owner:   owner,
		schema:  schema,
		stream:  stream,
		onReply: callback,
	}
	g.subscriptions[sub] = struct{}{}

	if checkFirstResponse {
		if err := g.checkFirstResponse(sub, url); err != nil {
			delete(g.subscriptions, sub)
			stream.Cancel()
			return nil, err
		}
	}

	stream.ContinueWith(func(payload []byte, err error) {
		g.handleReply(sub, payload, err)
	})
	return sub, nil
}

// checkFirstResponse waits for and inspects the subscription acknowledgement.
// The first response is not validated against the subscription schema, as it
// is frequently in a different format than the subscribe responses.
func (g *Gateway) checkFirstResponse(sub *Subscription, url string) error {
	payload, ok := sub.stream.Get(firstResponseTimeout)
	if !ok {
		g.log.Errorf("subscribe %s has no reply within %v", url, firstResponseTimeout)
		return newError("subscribe", url, "no response within budget", ErrTimeout)
	}

	value, err := decodeObject(payload)
	if err != nil {
		g.log.Errorf("failed to parse first response from %s: %s", url, payload)
		return newError("subscribe", url, "failed to parse returnValue in first response", ErrFirstResponse)
	}
	success, ok := value.Bool("returnValue")
	if !ok {
		g.log.Errorf("no returnValue in first response from %s: %s", url, payload)
		return newError("subscribe", url, "failed to parse returnValue in first response", ErrFirstResponse)
	}
	if !success {
		g.log.Errorf("first response from %s failed: %s", url, payload)
		return newError("subscribe", url, "first response failed", ErrFirstResponse)
	}
	return nil
}

// CancelSubscription cancels a subscription and drops its record. After it
// returns no further replies for that subscription are delivered.
func (g *Gateway) CancelSubscription(sub *Subscription) {
	if _, ok := g.subscriptions[sub]; !ok {
		return
	}
	g.log.Debugf("canceling subscription to %s", sub.url)
	delete(g.subscriptions, sub)
	sub.stream.Cancel()
}

// handleReply runs on the event loop for every stream reply.
func (g *Gateway) handleReply(sub *Subscription, payload []byte, busErr error) {
	if _, ok := g.subscriptions[sub]; !ok {
		// Record already evicted; the reply raced cancellation.
		g.log.Warnf("no subscription record for reply from %s", sub.url)
		return
	}
	if busErr != nil {
		g.log.Infof("bus error on subscription %s: %v", sub.url, busErr)
		g.CancelSubscription(sub)
		return
	}

	value, err := decodeObject(payload)
	if err != nil {
		g.log.Errorf("bad reply from %s: %v", sub.url, err)
		return
	}
	if err := sub.schema.Validate(value); err != nil {
		g.log.Errorf("reply from %s failed schema validation: %v", sub.url, err)
		return
	}

	owner := sub.owner

	if sub.oneShot {
		callback := sub.callback
		g.CancelSubscription(sub)
		// Callback always last, it may mutate any state including this record.
		if callback != nil {
			callback(value)
		}
	} else {
		sub.counter++
		previous := sub.previous
		sub.previous = value
		sub.onReply(previous, value)
	}

	if owner != nil && g.afterCallback != nil {
		g.afterCallback(owner)
	}
}

// RegisterMethod installs or updates a method at /category/name. The first
// registration installs a dispatcher on the bus; re-registration by the same
// owner updates handler and schema. Re-registration by a different owner is
// a policy violation and leaves the record untouched.
func (g *Gateway) RegisterMethod(owner Owner, category, name string,
	handler MethodHandler, schema *Schema) (string, error) {

	if owner == nil {
		return "", newError("registerMethod", "", "owner is nil", ErrPolicy)
	}

	method := g.findMethod(category, name)
	if method != nil && method.owner != nil && method.owner != owner {
		g.log.Errorf("method %s/%s already registered by plugin %s", category, name, method.owner.OwnerID())
		return "", newError("registerMethod", method.url,
			"method already registered for different plugin, cross-plugin method override not allowed", ErrPolicy)
	}

	if method == nil {
		if err := g.client.RegisterMethod(category, name, g.dispatch(category, name)); err != nil {
			return "", newError("registerMethod", "", err.Error(), ErrTransport)
		}
		method = &Method{
			url: "luna://" + g.servicePath + category + "/" + name,
		}
		if g.methods[category] == nil {
			g.methods[category] = make(map[string]*Method)
		}
		g.methods[category][name] = method
	}

	method.owner = owner
	method.handler = handler
	method.schema = schema
	return method.url, nil
}

func (g *Gateway) findMethod(category, name string) *Method {
	return g.methods[category][name]
}

// dispatch builds the bus dispatcher for one registered method.
func (g *Gateway) dispatch(category, name string) Dispatch {
	return func(payload []byte) []byte {
		g.log.Debugf("method called %s/%s: %s", category, name, payload)

		method := g.findMethod(category, name)
		if method == nil || method.owner == nil || method.handler == nil {
			// Most likely the owning plugin was unloaded.
			g.log.Debugf("no handler for method call %s/%s", category, name)
			return []byte(respMethodRemoved)
		}

		value, err := decodeObject(payload)
		if err == nil {
			err = method.schema.Validate(value)
		}
		if err != nil {
			g.log.Errorf("failed to validate request against schema: %s: %v", payload, err)
			return []byte(respSchemaError)
		}

		owner := method.owner
		result := method.handler(value)
		response, err := json.Marshal(map[string]any(result))
		if err != nil {
			g.log.Errorf("failed to serialize response of %s/%s: %v", category, name, err)
			response = []byte(respHandlerFailed)
		}

		if g.afterCallback != nil {
			g.afterCallback(owner)
		}
		return response
	}
}

// CleanupOwner cancels every subscription owned by owner and severs the
// owner back-reference on every method it registered. Method paths are not
// withdrawn from the bus; their dispatchers answer "method removed" instead.
func (g *Gateway) CleanupOwner(owner Owner) {
	for sub := range g.subscriptions {
		if sub.owner == owner {
			delete(g.subscriptions, sub)
			sub.stream.Cancel()
		}
	}
	for _, methods := range g.methods {
		for _, method := range methods {
			if method.owner == owner {
				method.owner = nil
				method.handler = nil
			}
		}
	}
}

// ServiceName extracts the service identifier out of a luna URL, e.g.
// "com.webos.notification" out of "luna://com.webos.notification/createToast".
func ServiceName(url string) (string, error) {
	parts := strings.Split(url, "/")
	if len(parts) < 3 || parts[0] != "luna:" || parts[1] != "" || parts[2] == "" {
		return "", newError("parse", url, "bad luna URL", ErrPolicy)
	}
	return parts[2], nil
}
