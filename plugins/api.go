// Package plugins defines the public API between the event-monitor core and
// its plugins: the Plugin interface a plugin implements, the Manager
// capability set the core hands to it, and the registry the core discovers
// plugins through.
package plugins

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/event-monitor/bus"
)

// APIVersion is the current plugin API version. Increment on any change to
// the interfaces in this package. Factories receive it and must return a nil
// plugin when they were built against a different version.
const APIVersion = 3

// UnloadResult is a plugin's answer to a stop-monitoring notice.
type UnloadResult int

const (
	// UnloadOK means the plugin is ready to be unloaded.
	UnloadOK UnloadResult = iota

	// UnloadCancel means the plugin still has unfinished work and will
	// unload itself later through Manager.UnloadPlugin. Note that the
	// plugin will NOT be reloaded if it is still loaded when the service
	// comes back online.
	UnloadCancel
)

// TimeoutCallback is invoked when a named timer fires.
type TimeoutCallback func(timeoutID string)

// Plugin is the interface every plugin implements. All methods are called on
// the core event loop; a returned error (or a panic) is logged and marks the
// plugin for unload.
type Plugin interface {
	// StartMonitoring is called once all required services are online. Use
	// it to subscribe to any relevant services.
	StartMonitoring() error

	// StopMonitoring is called when a required service goes offline.
	// Returning UnloadOK releases every resource the plugin holds and
	// unloads it; UnloadCancel keeps the plugin alive until it unloads
	// itself.
	StopMonitoring(service string) (UnloadResult, error)

	// UILocaleChanged is called when the system locale changes. Use it to
	// refresh the plugin's localized resources.
	UILocaleChanged(locale string) error

	// Close releases plugin-private resources. Called exactly once, after
	// the core has already torn down every bus resource the plugin owned.
	Close() error
}

// Manager is the capability set the core exposes to a plugin. Every method
// is callable only from the event loop. Identifiers (subscription, timer and
// alert ids) are plugin-chosen strings; reusing an id replaces the previous
// resource with that id.
type Manager interface {
	// Logger returns the plugin's log context.
	Logger() *log.Helper

	// UILocale returns just the UI locale, e.g. "en-US".
	UILocale() string

	// LocaleInfo returns the full structured locale value.
	LocaleInfo() bus.Payload

	// UnloadPlugin requests the plugin's own unload. Safe to call from any
	// plugin callback; the unload executes after the callback returns.
	UnloadPlugin()

	// Call issues a synchronous bus call. Returns nil without an error when
	// there is no reply within the timeout; bus errors are returned.
	Call(url string, params bus.Params, timeout time.Duration) (bus.Payload, error)

	// CallAsync issues an asynchronous bus call. A nil callback makes the
	// call fire-and-forget.
	CallAsync(url string, params bus.Params, callback bus.Callback) error

	// SubscribeToMethod subscribes to a bus method. The service addressed
	// by url must be in the plugin's required-service list. An existing
	// subscription with the same id is replaced.
	SubscribeToMethod(id, url string, params bus.Params,
		callback bus.SubscribeCallback, schema *bus.Schema) error

	// UnsubscribeFromMethod cancels a subscription; reports whether one
	// with that id existed.
	UnsubscribeFromMethod(id string) bool

	// SubscribeToSignal subscribes to a bus signal by category, and method
	// within it. An empty method subscribes to the whole category. Signals
	// may be subscribed to even when the emitting service is not running.
	SubscribeToSignal(id, category, method string,
		callback bus.SubscribeCallback, schema *bus.Schema) error

	// UnsubscribeFromSignal cancels a signal subscription. Signals and
	// methods share one subscription-id namespace.
	UnsubscribeFromSignal(id string) bool

	// SetTimeout schedules callback after interval, repeatedly when repeat
	// is set. A pending timer with the same id is cancelled first.
	SetTimeout(id string, interval time.Duration, repeat bool, callback TimeoutCallback)

	// CancelTimeout cancels a timer; reports whether it was pending.
	CancelTimeout(id string) bool

	// RegisterMethod registers a method on the bus under the plugin's
	// service path. May be called again for the same category and name to
	// update the handler or schema. Returns the public method URL.
	RegisterMethod(category, name string, handler bus.MethodHandler,
		schema *bus.Schema) (string, error)

	// CreateToast shows a toast with an optional icon and on-click action.
	CreateToast(message, iconURL string, onClickAction bus.Payload)

	// CreateAlert shows an alert, replacing any open alert with the same
	// id. Fails when the notification service rejects the alert.
	CreateAlert(alertID, title, message string, modal bool, iconURL string,
		buttons []bus.Payload, onClose bus.Payload) error

	// CloseAlert closes the alert with that id, if open.
	CloseAlert(alertID string) bool
}
