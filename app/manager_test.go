package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/plugins"
)

func TestLoadPluginStartsMonitoring(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.runOn(func() { f.manager.LoadPlugin(d) })

	stub := f.stubs["com.test.a"]
	require.NotNil(t, stub)
	require.Len(t, stub.started, 1)
	assert.Equal(t, []string{"com.test.a"}, f.manager.LoadedPlugins())
}

func TestLoadPluginTwiceDoesNotReinstantiate(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	instances := 0
	f.runOn(func() {
		f.manager.LoadPlugin(d)
		instances = len(f.stubs["com.test.a"].started)
		f.manager.LoadPlugin(d)
	})

	stub := f.stubs["com.test.a"]
	assert.Equal(t, 1, instances)
	// Monitoring was never stopped, so the second load is a no-op.
	assert.Len(t, stub.started, 1)
}

func TestStopMonitoringUnloadsPlugin(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.runOn(func() {
		f.manager.LoadPlugin(d)
		f.manager.NotifyPluginShouldUnload(d, "com.webos.x")
	})

	stub := f.stubs["com.test.a"]
	assert.Equal(t, []string{"com.webos.x"}, stub.stopped)
	assert.Equal(t, 1, stub.closed)
	assert.Empty(t, f.manager.LoadedPlugins())
}

func TestReloadAfterStopStartsMonitoringAgain(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, func(p *stubPlugin) {
		p.onStop = func(string) (plugins.UnloadResult, error) {
			return plugins.UnloadCancel, nil
		}
	})

	f.runOn(func() {
		f.manager.LoadPlugin(d)
		f.manager.NotifyPluginShouldUnload(d, "com.webos.x")
		f.manager.LoadPlugin(d)
	})

	stub := f.stubs["com.test.a"]
	// Same instance, monitoring restarted without a new factory call.
	assert.Len(t, stub.started, 2)
	assert.Equal(t, 0, stub.closed)
}

func TestUnloadCancelDefersUnloadUntilPluginAsks(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, func(p *stubPlugin) {
		p.onStop = func(string) (plugins.UnloadResult, error) {
			p.manager.SetTimeout("unload", time.Millisecond, false, func(string) {
				p.manager.UnloadPlugin()
			})
			return plugins.UnloadCancel, nil
		}
	})

	f.runOn(func() {
		f.manager.LoadPlugin(d)
		f.manager.NotifyPluginShouldUnload(d, "com.webos.x")
	})

	stub := f.stubs["com.test.a"]
	assert.Equal(t, 0, stub.closed)
	assert.Len(t, f.manager.LoadedPlugins(), 1)

	require.Eventually(t, func() bool {
		var closed int
		f.runOn(func() { closed = stub.closed })
		return closed == 1
	}, time.Second, 5*time.Millisecond)

	f.runOn(func() {})
	assert.Empty(t, f.manager.LoadedPlugins())
}

func TestStartMonitoringErrorUnloadsPlugin(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, func(p *stubPlugin) {
		p.onStart = func() error { return assert.AnError }
	})

	f.runOn(func() { f.manager.LoadPlugin(d) })

	stub := f.stubs["com.test.a"]
	assert.Equal(t, 1, stub.closed)
	assert.Empty(t, f.manager.LoadedPlugins())
}

func TestStartMonitoringPanicUnloadsPlugin(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, func(p *stubPlugin) {
		p.onStart = func() error { panic("boom") }
	})

	f.runOn(func() { f.manager.LoadPlugin(d) })

	stub := f.stubs["com.test.a"]
	assert.Equal(t, 1, stub.closed)
	assert.Empty(t, f.manager.LoadedPlugins())
}

func TestUILocaleDefaultsBeforeFirstUpdate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "en-US", f.manager.UILocale())
	assert.Nil(t, f.manager.LocaleInfo())
}

func TestLocaleBroadcastSeesNewValueInsideCallback(t *testing.T) {
	f := newFixture(t)
	d := f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)

	f.runOn(func() { f.manager.LoadPlugin(d) })
	stub := f.stubs["com.test.a"]

	// Observe the manager's locale from inside the broadcast callback.
	var observed string
	stub.onLocale = func() { observed = stub.manager.UILocale() }

	f.runOn(func() {
		f.manager.NotifyLocaleChanged(bus.Payload{
			"locales": bus.Payload{"UI": "fi-FI"},
		})
	})

	assert.Equal(t, []string{"fi-FI"}, stub.locales)
	assert.Equal(t, "fi-FI", observed)
	assert.Equal(t, "fi-FI", f.manager.UILocale())
}

func TestLocaleWithoutUIValueFallsBack(t *testing.T) {
	f := newFixture(t)
	f.runOn(func() {
		f.manager.NotifyLocaleChanged(bus.Payload{"locales": bus.Payload{}})
	})
	assert.Equal(t, "en-US", f.manager.UILocale())
}

func TestShutdownUnloadsEveryPlugin(t *testing.T) {
	f := newFixture(t)
	da := f.addPlugin("com.test.a", []string{"com.webos.x"}, nil)
	db := f.addPlugin("com.test.b", []string{"com.webos.y"}, nil)

	f.runOn(func() {
		f.manager.LoadPlugin(da)
		f.manager.LoadPlugin(db)
		f.manager.Shutdown()
	})

	assert.Equal(t, 1, f.stubs["com.test.a"].closed)
	assert.Equal(t, 1, f.stubs["com.test.b"].closed)
	assert.Empty(t, f.manager.LoadedPlugins())
}
