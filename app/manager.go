package app

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/eventloop"
	"github.com/go-lynx/event-monitor/plugins"
)

// defaultUILocale is reported until the settings service has delivered the
// first locale value.
const defaultUILocale = "en-US"

// PluginManager owns the set of loaded plugins. It instantiates plugins from
// a registry, relays lifecycle events to them and reaps adapters whose
// plugin has been unloaded. Confined to the event loop.
type PluginManager struct {
	loop     *eventloop.Loop
	gateway  *bus.Gateway
	registry plugins.Registry
	logger   log.Logger
	log      *log.Helper

	active map[string]*PluginAdapter
	locale bus.Payload
}

// NewPluginManager creates a manager on top of loop and gateway. The manager
// hooks the gateway so that a plugin marked for unload inside a bus callback
// is reaped as soon as that callback returns.
func NewPluginManager(loop *eventloop.Loop, gateway *bus.Gateway,
	registry plugins.Registry, logger log.Logger) *PluginManager {

	m := &PluginManager{
		loop:     loop,
		gateway:  gateway,
		registry: registry,
		logger:   logger,
		log:      log.NewHelper(log.With(logger, "module", "plugin-manager")),
		active:   make(map[string]*PluginAdapter),
	}
	gateway.OnCallbackDone(func(owner bus.Owner) {
		if adapter, ok := owner.(*PluginAdapter); ok {
			m.processUnload(adapter)
		}
	})
	return m
}

// LoadPlugin loads the plugin described by descriptor, or restarts monitoring
// when it is already loaded.
func (m *PluginManager) LoadPlugin(descriptor *plugins.Descriptor) {
	if adapter, ok := m.active[descriptor.Identity]; ok {
		// Already loaded. Resume monitoring if it was stopped.
		adapter.pluginLoaded(nil)
		m.processUnload(adapter)
		return
	}

	m.log.Infof("loading plugin %s", descriptor.Identity)

	adapter := newPluginAdapter(m, descriptor)

	var instance plugins.Plugin
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Errorf("panic while instantiating plugin %s: %v", descriptor.Identity, r)
				instance = nil
			}
		}()
		instance, err = m.registry.Instantiate(descriptor, adapter)
	}()
	if err != nil {
		m.log.Errorf("failed to instantiate plugin %s: %v", descriptor.Identity, err)
		m.registry.Release(descriptor)
		return
	}
	if instance == nil {
		m.log.Errorf("plugin %s declined to load", descriptor.Identity)
		m.registry.Release(descriptor)
		return
	}

	m.active[descriptor.Identity] = adapter
	adapter.pluginLoaded(instance)
	m.processUnload(adapter)
}

// NotifyPluginShouldUnload tells the plugin that one of its required services
// went down.
func (m *PluginManager) NotifyPluginShouldUnload(descriptor *plugins.Descriptor, service string) {
	adapter, ok := m.active[descriptor.Identity]
	if !ok {
		return
	}
	adapter.notifyPluginShouldUnload(service)
	m.processUnload(adapter)
}

// NotifyLocaleChanged records the new locale and broadcasts it to every
// loaded plugin. The new value is stored before the broadcast so a plugin
// asking for the locale from inside its callback sees the current one.
func (m *PluginManager) NotifyLocaleChanged(locale bus.Payload) {
	m.locale = locale
	uiLocale := m.UILocale()

	m.log.Infof("UI locale changed to %s", uiLocale)

	snapshot := make([]*PluginAdapter, 0, len(m.active))
	for _, adapter := range m.active {
		snapshot = append(snapshot, adapter)
	}
	for _, adapter := range snapshot {
		adapter.notifyLocaleChanged(uiLocale)
		m.processUnload(adapter)
	}
}

// UILocale returns the current UI locale, defaulting to en-US until the
// settings service has reported one.
func (m *PluginManager) UILocale() string {
	if m.locale == nil {
		return defaultUILocale
	}
	uiLocale, ok := m.locale.String("locales", "UI")
	if !ok || uiLocale == "" {
		m.log.Errorf("locale info carries no UI locale, falling back to %s", defaultUILocale)
		return defaultUILocale
	}
	return uiLocale
}

// LocaleInfo returns the full locale value last received, or nil before the
// first update.
func (m *PluginManager) LocaleInfo() bus.Payload {
	return m.locale
}

// LoadedPlugins reports the identities of the currently loaded plugins.
func (m *PluginManager) LoadedPlugins() []string {
	out := make([]string, 0, len(m.active))
	for identity := range m.active {
		out = append(out, identity)
	}
	return out
}

// processUnload reaps the adapter when its plugin has been marked for
// unload. This is the only place an adapter is freed, and it runs only once
// every callback frame referencing the adapter has returned.
func (m *PluginManager) processUnload(adapter *PluginAdapter) {
	if !adapter.needsUnload || adapter.destroyed {
		return
	}

	m.log.Infof("unloading plugin %s", adapter.descriptor.Identity)

	delete(m.active, adapter.descriptor.Identity)
	adapter.unloadPlugin()
	adapter.destroy()
	m.registry.Release(adapter.descriptor)
}

// Shutdown unloads every plugin. Called once, when the service exits.
func (m *PluginManager) Shutdown() {
	snapshot := make([]*PluginAdapter, 0, len(m.active))
	for _, adapter := range m.active {
		snapshot = append(snapshot, adapter)
	}
	for _, adapter := range snapshot {
		adapter.unloadPlugin()
		m.processUnload(adapter)
	}
}
