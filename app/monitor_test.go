package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/bus/inproc"
	"github.com/go-lynx/event-monitor/plugins"
)

// busFixture wires stand-in settings and server-status endpoints onto the
// hub and exposes handles to drive them.
type busFixture struct {
	*fixture

	locale  *inproc.Call
	status  map[string]*inproc.Call
	watched []string
}

func newBusFixture(t *testing.T) *busFixture {
	f := &busFixture{
		fixture: newFixture(t),
		status:  make(map[string]*inproc.Call),
	}

	f.hub.HandleFunc(settingsServiceURL, func(params bus.Params, call *inproc.Call) {
		f.locale = call
	})
	f.hub.HandleFunc(serverStatusURL, func(params bus.Params, call *inproc.Call) {
		service, _ := bus.Payload(params).String("serviceName")
		f.status[service] = call
		f.watched = append(f.watched, service)
	})
	return f
}

func (f *busFixture) start(descriptors []*plugins.Descriptor) {
	f.runOn(func() {
		require.NoError(f.t, f.monitor.Start(descriptors))
	})
}

func (f *busFixture) sendLocale(uiLocale string) {
	f.runOn(func() {
		f.locale.Reply(bus.Payload{
			"returnValue": true,
			"settings": bus.Payload{
				"localeInfo": bus.Payload{
					"locales": bus.Payload{"UI": uiLocale},
				},
			},
		})
	})
}

func (f *busFixture) sendStatus(service string, connected bool) {
	f.runOn(func() {
		f.status[service].Reply(bus.Payload{
			"returnValue": true,
			"serviceName": service,
			"connected":   connected,
		})
	})
}

func TestPluginLoadsWhenAllServicesUp(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x", "com.webos.y"}, nil)

	f.start(f.registry.Enumerate())
	assert.Empty(t, f.watched, "no service tracking before the first locale")

	f.sendLocale("en-GB")
	assert.ElementsMatch(t, []string{"com.webos.x", "com.webos.y"}, f.watched)
	assert.Empty(t, f.manager.LoadedPlugins())

	f.sendStatus("com.webos.x", true)
	assert.Empty(t, f.manager.LoadedPlugins(), "one required service still down")

	f.sendStatus("com.webos.y", true)
	assert.Equal(t, []string{"com.test.a"}, f.manager.LoadedPlugins())

	stub := f.stubs["com.test.a"]
	require.Len(t, stub.started, 1)
	// The locale arrived before the plugin loaded.
	assert.Equal(t, "en-GB", stub.started[0])
}

func TestServiceTrackingStartsOnlyAfterFirstLocale(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.start(f.registry.Enumerate())

	// A malformed settings reply must not start tracking.
	f.runOn(func() { f.locale.Reply(bus.Payload{"returnValue": true}) })
	assert.Empty(t, f.watched)

	f.sendLocale("en-US")
	assert.Equal(t, []string{"com.webos.x"}, f.watched)
}

func TestDegeneratePluginLoadsOnFirstLocale(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.free", nil, nil)

	f.start(f.registry.Enumerate())
	f.sendLocale("en-US")

	assert.Equal(t, []string{"com.test.free"}, f.manager.LoadedPlugins())
	assert.Empty(t, f.watched)
}

func TestPluginStoppedWhenServiceGoesDown(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.start(f.registry.Enumerate())
	f.sendLocale("en-US")
	f.sendStatus("com.webos.x", true)
	require.Equal(t, []string{"com.test.a"}, f.manager.LoadedPlugins())
	stub := f.stubs["com.test.a"]

	f.sendStatus("com.webos.x", false)
	assert.Equal(t, []string{"com.webos.x"}, stub.stopped)
	assert.Empty(t, f.manager.LoadedPlugins())

	// Back up: a fresh instance is loaded.
	f.sendStatus("com.webos.x", true)
	assert.Equal(t, []string{"com.test.a"}, f.manager.LoadedPlugins())
	fresh := f.stubs["com.test.a"]
	assert.NotSame(t, stub, fresh)
}

func TestRepeatedStatusIsIgnored(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.start(f.registry.Enumerate())
	f.sendLocale("en-US")
	f.sendStatus("com.webos.x", true)
	f.sendStatus("com.webos.x", true)

	stub := f.stubs["com.test.a"]
	assert.Len(t, stub.started, 1)
}

func TestSharedServiceWatchedOnce(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)
	f.addPlugin("com.test.b", []string{"com.webos.x", "com.webos.y"}, nil)

	f.start(f.registry.Enumerate())
	f.sendLocale("en-US")

	assert.ElementsMatch(t, []string{"com.webos.x", "com.webos.y"}, f.watched)

	f.sendStatus("com.webos.x", true)
	assert.Equal(t, []string{"com.test.a"}, f.manager.LoadedPlugins())

	f.sendStatus("com.webos.y", true)
	assert.ElementsMatch(t, []string{"com.test.a", "com.test.b"}, f.manager.LoadedPlugins())
}

func TestLocaleUpdatesReachLoadedPlugins(t *testing.T) {
	f := newBusFixture(t)
	f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.start(f.registry.Enumerate())
	f.sendLocale("en-US")
	f.sendStatus("com.webos.x", true)
	stub := f.stubs["com.test.a"]

	f.sendLocale("fi-FI")
	assert.Equal(t, []string{"fi-FI"}, stub.locales)
	assert.Equal(t, "fi-FI", f.manager.UILocale())
}
