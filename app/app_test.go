package app

import (
	"context"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/bus/inproc"
	"github.com/go-lynx/event-monitor/eventloop"
	"github.com/go-lynx/event-monitor/plugins"
)

const testServicePath = "com.webos.service.event-monitor"

// stubPlugin records lifecycle calls and defers behavior to optional hooks.
type stubPlugin struct {
	manager plugins.Manager

	started []string
	stopped []string
	locales []string
	closed  int

	onStart  func() error
	onStop   func(service string) (plugins.UnloadResult, error)
	onLocale func()
}

func (p *stubPlugin) StartMonitoring() error {
	p.started = append(p.started, p.manager.UILocale())
	if p.onStart != nil {
		return p.onStart()
	}
	return nil
}

func (p *stubPlugin) StopMonitoring(service string) (plugins.UnloadResult, error) {
	p.stopped = append(p.stopped, service)
	if p.onStop != nil {
		return p.onStop(service)
	}
	return plugins.UnloadOK, nil
}

func (p *stubPlugin) UILocaleChanged(locale string) error {
	p.locales = append(p.locales, locale)
	if p.onLocale != nil {
		p.onLocale()
	}
	return nil
}

func (p *stubPlugin) Close() error {
	p.closed++
	return nil
}

type fixture struct {
	t        *testing.T
	loop     *eventloop.Loop
	hub      *inproc.Hub
	gateway  *bus.Gateway
	registry *plugins.StaticRegistry
	manager  *PluginManager
	monitor  *ServiceMonitor

	// stubs holds the last instance created per plugin identity.
	stubs map[string]*stubPlugin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	hub := inproc.NewHub(loop)
	gateway := bus.NewGateway(hub.NewClient(testServicePath), testServicePath, log.DefaultLogger)
	registry := plugins.NewStaticRegistry()
	manager := NewPluginManager(loop, gateway, registry, log.DefaultLogger)
	monitor := NewServiceMonitor(gateway, manager, log.DefaultLogger)

	return &fixture{
		t:        t,
		loop:     loop,
		hub:      hub,
		gateway:  gateway,
		registry: registry,
		manager:  manager,
		monitor:  monitor,
		stubs:    make(map[string]*stubPlugin),
	}
}

// addPlugin registers a stub plugin under identity. configure, when non-nil,
// runs on every new instance before it is handed to the manager.
func (f *fixture) addPlugin(identity string, required []string, configure func(*stubPlugin)) *plugins.Descriptor {
	f.t.Helper()
	descriptor := plugins.Descriptor{
		Identity:         identity,
		Name:             identity,
		RequiredServices: required,
	}
	err := f.registry.Register(descriptor, func(apiVersion int, manager plugins.Manager) (plugins.Plugin, error) {
		require.Equal(f.t, plugins.APIVersion, apiVersion)
		p := &stubPlugin{manager: manager}
		if configure != nil {
			configure(p)
		}
		f.stubs[identity] = p
		return p, nil
	})
	require.NoError(f.t, err)
	for _, d := range f.registry.Enumerate() {
		if d.Identity == identity {
			return d
		}
	}
	f.t.Fatalf("descriptor %s not enumerated", identity)
	return nil
}

// runOn runs fn on the loop, waits for it and lets queued follow-ups settle.
func (f *fixture) runOn(fn func()) {
	done := make(chan struct{})
	f.loop.Post(func() {
		fn()
		close(done)
	})
	<-done
	settled := make(chan struct{})
	f.loop.Post(func() { close(settled) })
	<-settled
}
