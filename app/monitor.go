package app

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/plugins"
)

const (
	settingsServiceURL = "luna://com.webos.settingsservice/getSystemSettings"
	serverStatusURL    = "luna://com.webos.service.bus/signal/registerServerStatus"
)

// ServiceMonitor watches the system locale and the availability of every
// service any plugin requires, and drives plugin loading accordingly. No
// plugin is loaded before the first locale value has arrived, so plugins
// never observe the locale fallback during startup.
type ServiceMonitor struct {
	gateway *bus.Gateway
	manager *PluginManager
	log     *log.Helper

	descriptors []*plugins.Descriptor

	// requirements maps each watched service to the plugins requiring it.
	requirements map[string][]*plugins.Descriptor
	connected    map[string]bool

	monitorStarted bool
}

// NewServiceMonitor creates a monitor driving manager from bus state.
func NewServiceMonitor(gateway *bus.Gateway, manager *PluginManager, logger log.Logger) *ServiceMonitor {
	return &ServiceMonitor{
		gateway:      gateway,
		manager:      manager,
		log:          log.NewHelper(log.With(logger, "module", "service-monitor")),
		requirements: make(map[string][]*plugins.Descriptor),
		connected:    make(map[string]bool),
	}
}

// OwnerID implements bus.Owner.
func (s *ServiceMonitor) OwnerID() string {
	return "service-monitor"
}

// Start subscribes to the system locale. Service status tracking begins once
// the first locale value has arrived.
func (s *ServiceMonitor) Start(descriptors []*plugins.Descriptor) error {
	s.descriptors = descriptors

	s.log.Infof("monitoring locale for %d plugins", len(descriptors))

	_, err := s.gateway.Subscribe(settingsServiceURL,
		bus.Params{"keys": []string{"localeInfo"}},
		s.localeCallback, nil, s, false)
	return err
}

// localeCallback handles locale updates. The first valid update starts
// service monitoring for every registered plugin.
func (s *ServiceMonitor) localeCallback(_, current bus.Payload) {
	localeInfo, ok := current.Object("settings", "localeInfo")
	if !ok {
		s.log.Errorf("settings reply carries no localeInfo: %v", current)
		return
	}

	s.manager.NotifyLocaleChanged(localeInfo)

	if s.monitorStarted {
		return
	}
	s.monitorStarted = true
	for _, descriptor := range s.descriptors {
		s.addPlugin(descriptor)
	}
}

// addPlugin starts availability tracking for one plugin. Plugins with no
// required services are loaded immediately and stay loaded.
func (s *ServiceMonitor) addPlugin(descriptor *plugins.Descriptor) {
	if len(descriptor.RequiredServices) == 0 {
		s.log.Infof("plugin %s requires no services, loading now", descriptor.Identity)
		s.manager.LoadPlugin(descriptor)
		return
	}

	for _, service := range descriptor.RequiredServices {
		_, watched := s.requirements[service]
		s.requirements[service] = append(s.requirements[service], descriptor)
		if watched {
			// Already subscribed for another plugin.
			continue
		}
		s.connected[service] = false

		s.log.Infof("watching service %s", service)
		_, err := s.gateway.Subscribe(serverStatusURL,
			bus.Params{"serviceName": service},
			s.serviceStatusCallback, nil, s, false)
		if err != nil {
			s.log.Errorf("failed to watch service %s: %v", service, err)
		}
	}
}

// serviceStatusCallback handles server status signals.
func (s *ServiceMonitor) serviceStatusCallback(_, current bus.Payload) {
	service, ok := current.String("serviceName")
	if !ok {
		s.log.Errorf("server status reply carries no serviceName: %v", current)
		return
	}
	connected, ok := current.Bool("connected")
	if !ok {
		s.log.Errorf("server status reply for %s carries no connected flag", service)
		return
	}

	previous, watched := s.connected[service]
	if !watched {
		s.log.Warnf("server status for unwatched service %s", service)
		return
	}
	if previous == connected {
		return
	}

	s.log.Infof("service %s is now %s", service, statusText(connected))
	s.connected[service] = connected
	s.updatePlugins(service, connected)
}

// updatePlugins loads or unloads the plugins affected by a status change of
// service. A plugin loads when all of its required services are up; it is
// told to stop when any goes down.
func (s *ServiceMonitor) updatePlugins(service string, connected bool) {
	for _, descriptor := range s.requirements[service] {
		if !connected {
			s.manager.NotifyPluginShouldUnload(descriptor, service)
			continue
		}
		if s.allServicesUp(descriptor) {
			s.manager.LoadPlugin(descriptor)
		}
	}
}

func (s *ServiceMonitor) allServicesUp(descriptor *plugins.Descriptor) bool {
	for _, service := range descriptor.RequiredServices {
		if !s.connected[service] {
			return false
		}
	}
	return true
}

func statusText(connected bool) string {
	if connected {
		return "up"
	}
	return "down"
}
