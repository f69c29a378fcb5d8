// Package boot assembles and runs the event-monitor service: configuration,
// logging, the event loop, the bus fabric, the plugin registry, manager and
// service monitor.
package boot

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-lynx/event-monitor/app"
	applog "github.com/go-lynx/event-monitor/app/log"
	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/bus/inproc"
	"github.com/go-lynx/event-monitor/eventloop"
	"github.com/go-lynx/event-monitor/plugins"
)

// Run starts the service and blocks until it terminates. It returns a
// non-nil error when startup fails or the service exits abnormally.
func Run(confPath string) error {
	conf, err := LoadConfig(confPath)
	if err != nil {
		return err
	}

	logger := applog.NewStderr(conf.Log.Level, conf.Service.Name)
	helper := log.NewHelper(log.With(logger, "module", "boot"))
	helper.Infof("starting %s", conf.Service.Name)

	loop := eventloop.New()
	hub := inproc.NewHub(loop)
	if conf.Service.Demo {
		installDemoServices(hub, logger)
	}

	gateway := bus.NewGateway(hub.NewClient(conf.Service.Name), conf.Service.Name, logger)
	gateway.OnDisconnect(loop.Quit)

	registry := plugins.NewFilteredRegistry(plugins.DefaultRegistry(), conf.Plugins.Enabled)
	manager := app.NewPluginManager(loop, gateway, registry, logger)
	monitor := app.NewServiceMonitor(gateway, manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 terminates the process abnormally so the supervisor restarts
	// it with a clean bus connection.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		<-usr1
		helper.Error("received SIGUSR1, terminating")
		os.Exit(1)
	}()

	var startErr error
	loop.Post(func() {
		if err := monitor.Start(registry.Enumerate()); err != nil {
			helper.Errorf("failed to start monitoring: %v", err)
			startErr = err
			loop.Quit()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		// A termination signal is a normal exit.
		runErr = nil
	}

	// The loop has stopped; this goroutine is now the only one touching
	// loop-confined state.
	manager.Shutdown()
	helper.Info("stopped")

	if startErr != nil {
		return startErr
	}
	return runErr
}
