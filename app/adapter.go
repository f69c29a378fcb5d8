// Package app contains the orchestration core of the event-monitor: the
// plugin manager, the per-plugin adapter and the service monitor driving
// them. Everything in this package is confined to the event loop.
package app

import (
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/eventloop"
	"github.com/go-lynx/event-monitor/plugins"
)

// Bus addresses consumed on behalf of plugins.
const (
	signalAddmatchURL = "luna://com.webos.service.bus/signal/addmatch"
	createToastURL    = "luna://com.webos.notification/createToast"
	createAlertURL    = "luna://com.webos.notification/createAlert"
	closeAlertURL     = "luna://com.webos.notification/closeAlert"
)

var errCreateAlert = errors.New("failed to create alert")

// PluginAdapter implements the Manager capability set for one plugin
// instance. It owns that plugin's subscriptions, timers, alerts and
// registered methods, enforces subscription policy, and tears everything
// down atomically on unload.
type PluginAdapter struct {
	manager    *PluginManager
	descriptor *plugins.Descriptor
	instance   plugins.Plugin
	log        *log.Helper

	// needsUnload is set when the plugin must be reaped; the adapter stays
	// alive until the callback frame that set it has returned and the
	// manager runs processUnload.
	needsUnload bool

	// unloadNotified is set while the plugin has been told to stop
	// monitoring and has not been restarted since.
	unloadNotified bool

	subscriptions map[string]*bus.Subscription
	timers        map[string]*eventloop.Timer
	alerts        map[string]string

	destroyed bool
}

func newPluginAdapter(manager *PluginManager, descriptor *plugins.Descriptor) *PluginAdapter {
	return &PluginAdapter{
		manager:       manager,
		descriptor:    descriptor,
		log:           log.NewHelper(log.With(manager.logger, "plugin", descriptor.Identity)),
		subscriptions: make(map[string]*bus.Subscription),
		timers:        make(map[string]*eventloop.Timer),
		alerts:        make(map[string]string),
	}
}

// OwnerID implements bus.Owner.
func (a *PluginAdapter) OwnerID() string {
	return a.descriptor.Identity
}

// Descriptor returns the plugin's descriptor.
func (a *PluginAdapter) Descriptor() *plugins.Descriptor {
	return a.descriptor
}

// guard runs a call into plugin code. A returned error or a panic is logged
// and marks the plugin for unload.
func (a *PluginAdapter) guard(operation string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorf("panic while executing %s in plugin %s: %v", operation, a.descriptor.Identity, r)
			a.unloadPlugin()
		}
	}()
	if err := fn(); err != nil {
		a.log.Errorf("error while executing %s in plugin %s: %v", operation, a.descriptor.Identity, err)
		a.unloadPlugin()
	}
}

// pluginLoaded transitions the adapter towards monitoring. With a non-nil
// instance this is the initial load; with nil it restarts monitoring, but
// only when the plugin had previously been notified to stop.
func (a *PluginAdapter) pluginLoaded(instance plugins.Plugin) {
	if instance != nil {
		a.instance = instance
	} else if !a.unloadNotified {
		// Already monitoring, nothing to restart.
		return
	}

	a.unloadNotified = false

	a.log.Debugf("calling StartMonitoring on plugin %s", a.descriptor.Identity)
	a.guard("StartMonitoring", func() error {
		return a.instance.StartMonitoring()
	})
}

// notifyPluginShouldUnload tells the plugin a required service went down.
// Unless the plugin defers its own unload, every resource it holds is
// released and the adapter is marked for reaping.
func (a *PluginAdapter) notifyPluginShouldUnload(service string) {
	if a.instance == nil {
		// Not loaded, nothing to stop.
		return
	}

	a.unloadNotified = true

	a.log.Debugf("calling StopMonitoring on plugin %s", a.descriptor.Identity)

	result := plugins.UnloadOK
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Errorf("panic while executing StopMonitoring in plugin %s: %v", a.descriptor.Identity, r)
				result = plugins.UnloadOK
			}
		}()
		r, err := a.instance.StopMonitoring(service)
		if err != nil {
			a.log.Errorf("error while executing StopMonitoring in plugin %s: %v", a.descriptor.Identity, err)
			result = plugins.UnloadOK
			return
		}
		result = r
	}()

	if result == plugins.UnloadOK {
		a.unloadPlugin()
	}
}

// notifyLocaleChanged forwards a locale update to the plugin.
func (a *PluginAdapter) notifyLocaleChanged(locale string) {
	if a.instance == nil {
		return
	}
	a.guard("UILocaleChanged", func() error {
		return a.instance.UILocaleChanged(locale)
	})
}

// unloadPlugin releases every bus resource, alert and timer the plugin owns
// and marks the adapter for reaping. The adapter itself cannot be freed here:
// it may still be on the call stack. The manager frees it in processUnload
// once the current callback frame has returned.
func (a *PluginAdapter) unloadPlugin() {
	if a.instance == nil {
		return
	}

	a.log.Debugf("preparing to unload plugin %s", a.descriptor.Identity)

	a.manager.gateway.CleanupOwner(a)
	a.subscriptions = make(map[string]*bus.Subscription)

	for alertID := range a.alerts {
		a.CloseAlert(alertID)
	}
	for timerID := range a.timers {
		a.CancelTimeout(timerID)
	}

	a.needsUnload = true
}

// destroy releases the plugin instance. Runs exactly once, from the manager,
// after every callback frame referencing the adapter has returned.
func (a *PluginAdapter) destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.instance == nil {
		return
	}
	instance := a.instance
	a.instance = nil
	a.guard("Close", instance.Close)
}

// Logger implements plugins.Manager.
func (a *PluginAdapter) Logger() *log.Helper {
	return a.log
}

// UILocale implements plugins.Manager.
func (a *PluginAdapter) UILocale() string {
	return a.manager.UILocale()
}

// LocaleInfo implements plugins.Manager.
func (a *PluginAdapter) LocaleInfo() bus.Payload {
	return a.manager.LocaleInfo()
}

// UnloadPlugin implements plugins.Manager.
func (a *PluginAdapter) UnloadPlugin() {
	a.unloadPlugin()
}

// Call implements plugins.Manager. A non-positive timeout uses the default
// call budget.
func (a *PluginAdapter) Call(url string, params bus.Params, timeout time.Duration) (bus.Payload, error) {
	if timeout <= 0 {
		timeout = bus.DefaultCallTimeout
	}
	return a.manager.gateway.Call(url, params, timeout)
}

// CallAsync implements plugins.Manager.
func (a *PluginAdapter) CallAsync(url string, params bus.Params, callback bus.Callback) error {
	return a.manager.gateway.CallAsync(url, params, a.wrapCallback(callback), a)
}

// SubscribeToMethod implements plugins.Manager. Plugins may only subscribe
// to methods of services in their required-service list.
func (a *PluginAdapter) SubscribeToMethod(id, url string, params bus.Params,
	callback bus.SubscribeCallback, schema *bus.Schema) error {

	a.UnsubscribeFromMethod(id)

	a.log.Debugf("plugin %s subscribing to method %s", a.descriptor.Identity, url)

	service, err := bus.ServiceName(url)
	if err != nil {
		return err
	}
	if !a.descriptor.ContainsService(service) {
		a.log.Errorf("plugin %s may not subscribe to %s: service %s is not in its required list",
			a.descriptor.Identity, url, service)
		return &bus.Error{
			Op:      "subscribeToMethod",
			URL:     url,
			Message: "can only subscribe to services that are in required list",
			Err:     bus.ErrPolicy,
		}
	}

	sub, err := a.manager.gateway.Subscribe(url, params, a.wrapSubscribeCallback(callback), schema, a, false)
	if err != nil {
		return err
	}
	a.subscriptions[id] = sub
	return nil
}

// UnsubscribeFromMethod implements plugins.Manager.
func (a *PluginAdapter) UnsubscribeFromMethod(id string) bool {
	sub, ok := a.subscriptions[id]
	if !ok {
		return false
	}
	a.manager.gateway.CancelSubscription(sub)
	delete(a.subscriptions, id)
	return true
}

// SubscribeToSignal implements plugins.Manager. The signal service's first
// reply acknowledges the addmatch; a negative or missing acknowledgement
// fails the subscription synchronously.
func (a *PluginAdapter) SubscribeToSignal(id, category, method string,
	callback bus.SubscribeCallback, schema *bus.Schema) error {

	a.UnsubscribeFromSignal(id)

	a.log.Debugf("plugin %s subscribing to signal %s method %q", a.descriptor.Identity, category, method)

	params := bus.Params{"category": category}
	if method != "" {
		params["method"] = method
	}

	sub, err := a.manager.gateway.Subscribe(signalAddmatchURL, params, a.wrapSubscribeCallback(callback), schema, a, true)
	if err != nil {
		return err
	}
	a.subscriptions[id] = sub
	return nil
}

// UnsubscribeFromSignal implements plugins.Manager. Signal and method
// subscriptions share one id namespace.
func (a *PluginAdapter) UnsubscribeFromSignal(id string) bool {
	return a.UnsubscribeFromMethod(id)
}

// SetTimeout implements plugins.Manager.
func (a *PluginAdapter) SetTimeout(id string, interval time.Duration, repeat bool, callback plugins.TimeoutCallback) {
	a.CancelTimeout(id)

	a.log.Debugf("plugin %s set timeout %s", a.descriptor.Identity, id)

	a.timers[id] = a.manager.loop.NewTimer(interval, repeat, func() {
		// One-shots leave the map before the callback so the callback may
		// safely re-register the same id.
		if !repeat {
			delete(a.timers, id)
		}
		a.guard("timeout callback", func() error {
			callback(id)
			return nil
		})
		a.manager.processUnload(a)
	})
}

// CancelTimeout implements plugins.Manager.
func (a *PluginAdapter) CancelTimeout(id string) bool {
	timer, ok := a.timers[id]
	if !ok {
		return false
	}
	a.log.Debugf("plugin %s cancel timeout %s", a.descriptor.Identity, id)
	delete(a.timers, id)
	timer.Stop()
	return true
}

// RegisterMethod implements plugins.Manager.
func (a *PluginAdapter) RegisterMethod(category, name string,
	handler bus.MethodHandler, schema *bus.Schema) (string, error) {

	if name == "" {
		return "", &bus.Error{Op: "registerMethod", Message: "name must not be empty", Err: bus.ErrPolicy}
	}
	if category == "" || category[0] != '/' {
		return "", &bus.Error{Op: "registerMethod", Message: "category needs to start with /", Err: bus.ErrPolicy}
	}

	return a.manager.gateway.RegisterMethod(a, category, name, a.wrapHandler(handler), schema)
}

// CreateToast implements plugins.Manager.
func (a *PluginAdapter) CreateToast(message, iconURL string, onClickAction bus.Payload) {
	params := bus.Params{
		"message":  message,
		"sourceId": a.manager.gateway.ServicePath() + "-" + a.descriptor.Name,
	}
	if iconURL != "" {
		params["iconUrl"] = iconURL
	}
	if onClickAction != nil {
		params["onclick"] = onClickAction
	}
	if err := a.manager.gateway.CallAsync(createToastURL, params, nil, a); err != nil {
		a.log.Errorf("failed to create toast: %v", err)
	}
}

// CreateAlert implements plugins.Manager. Any open alert with the same id is
// closed first. The notification service must acknowledge with
// returnValue:true and a non-empty alertId.
func (a *PluginAdapter) CreateAlert(alertID, title, message string, modal bool,
	iconURL string, buttons []bus.Payload, onClose bus.Payload) error {

	a.CloseAlert(alertID)

	params := bus.Params{
		"title":   title,
		"modal":   modal,
		"message": message,
		"buttons": buttons,
	}
	if onClose != nil {
		params["onclose"] = onClose
	}
	if iconURL != "" {
		params["iconUrl"] = iconURL
	}

	result, err := a.manager.gateway.Call(createAlertURL, params, bus.DefaultCallTimeout)
	if err != nil {
		return err
	}

	success, _ := result.Bool("returnValue")
	externalID, _ := result.String("alertId")
	if !success || externalID == "" {
		a.log.Errorf("failed to create alert %s, response was %v", alertID, result)
		return plugins.NewPluginError(a.descriptor.Identity, "createAlert",
			"notification service rejected the alert", errCreateAlert)
	}

	a.alerts[alertID] = externalID
	return nil
}

// CloseAlert implements plugins.Manager.
func (a *PluginAdapter) CloseAlert(alertID string) bool {
	externalID, ok := a.alerts[alertID]
	if !ok {
		return false
	}
	delete(a.alerts, alertID)
	if _, err := a.manager.gateway.Call(closeAlertURL, bus.Params{"alertId": externalID}, bus.DefaultCallTimeout); err != nil {
		a.log.Errorf("failed to close alert %s: %v", alertID, err)
	}
	return true
}

// wrapCallback guards a plugin-supplied one-shot callback.
func (a *PluginAdapter) wrapCallback(callback bus.Callback) bus.Callback {
	if callback == nil {
		return nil
	}
	return func(response bus.Payload) {
		a.guard("call callback", func() error {
			callback(response)
			return nil
		})
	}
}

// wrapSubscribeCallback guards a plugin-supplied subscription callback.
func (a *PluginAdapter) wrapSubscribeCallback(callback bus.SubscribeCallback) bus.SubscribeCallback {
	return func(previous, current bus.Payload) {
		a.guard("subscription callback", func() error {
			callback(previous, current)
			return nil
		})
	}
}

// wrapHandler guards a plugin-supplied method handler. A panicking handler
// marks the plugin for unload and answers with a generic failure.
func (a *PluginAdapter) wrapHandler(handler bus.MethodHandler) bus.MethodHandler {
	return func(params bus.Payload) (result bus.Payload) {
		defer func() {
			if r := recover(); r != nil {
				a.log.Errorf("panic while executing method handler in plugin %s: %v", a.descriptor.Identity, r)
				a.unloadPlugin()
				result = bus.Payload{"returnValue": false, "errorMessage": "Method execution failed"}
			}
		}()
		return handler(params)
	}
}
