// Package mock contains a demonstration plugin. It exercises every manager
// capability (calls, subscriptions, signals, timers, methods, toasts and
// alerts) and doubles as a smoke test when the service runs against a live
// bus. Its event bookkeeping is queryable through the getEvents method.
package mock

import (
	"fmt"
	"time"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/plugins"
)

const (
	foregroundAppURL     = "luna://com.webos.applicationManager/getForegroundAppInfo"
	toastNotificationURL = "luna://com.webos.notification/getToastNotification"
	alertNotificationURL = "luna://com.webos.notification/getAlertNotification"
)

func init() {
	err := plugins.Register(plugins.Descriptor{
		Identity: "com.webos.service.event-monitor.mock",
		Name:     "mock-plugin",
		RequiredServices: []string{
			"com.webos.applicationManager",
			"com.webos.notification",
		},
	}, New)
	if err != nil {
		panic(err)
	}
}

// Plugin demonstrates and exercises the plugin API.
type Plugin struct {
	plugins.PluginBase

	events map[string]bool
}

// New is the plugin factory.
func New(apiVersion int, manager plugins.Manager) (plugins.Plugin, error) {
	if apiVersion != plugins.APIVersion {
		return nil, nil
	}
	return &Plugin{
		PluginBase: plugins.NewPluginBase(manager),
		events: map[string]bool{
			"pluginLoaded":     false,
			"subscribedMethod": false,
			"subscribedSignal": false,
			"unsubscribed":     false,
			"setTimeout":       false,
		},
	}, nil
}

// UILocaleChanged toasts the new locale.
func (p *Plugin) UILocaleChanged(locale string) error {
	if err := p.PluginBase.UILocaleChanged(locale); err != nil {
		return err
	}
	p.Manager.Logger().Debugf("locale set to %s", locale)
	p.Manager.CreateToast(p.LocString("Locale set to ")+locale, "", nil)
	return nil
}

// StartMonitoring implements plugins.Plugin.
func (p *Plugin) StartMonitoring() error {
	p.Manager.Logger().Debug("starting to monitor")

	p.events["pluginLoaded"] = true

	// A pending deferred unload is void once monitoring resumes.
	p.Manager.CancelTimeout("unloadTimeout")

	if _, err := p.Manager.RegisterMethod("/mockPlugin", "getEvents", p.getEvents, nil); err != nil {
		return err
	}

	p.Manager.CreateToast(p.LocString("Mock plugin started, will show alert in 2 seconds"), "", nil)
	p.Manager.SetTimeout("startAlert", 2*time.Second, false, p.startAlert)

	if err := p.Manager.SubscribeToMethod("foregroundApp", foregroundAppURL, nil,
		p.foregroundApp, nil); err != nil {
		return err
	}
	if err := p.Manager.SubscribeToMethod("toastNotification", toastNotificationURL, nil,
		p.logNotification, nil); err != nil {
		return err
	}
	if err := p.Manager.SubscribeToMethod("alertNotification", alertNotificationURL, nil,
		p.logNotification, nil); err != nil {
		return err
	}

	// Signals can be subscribed to even when the emitting service is down.
	if err := p.Manager.SubscribeToSignal("batteryStatus", "/com/palm/power", "batteryStatus",
		p.batteryStatus, nil); err != nil {
		return err
	}
	return p.Manager.SubscribeToSignal("processFinished", "/booster", "processFinished",
		p.boosterFinished, nil)
}

// StopMonitoring implements plugins.Plugin. The plugin delays its own unload
// by five seconds to demonstrate deferred unloading.
func (p *Plugin) StopMonitoring(service string) (plugins.UnloadResult, error) {
	p.Manager.Logger().Debugf("stopping, service %s went down", service)

	p.Manager.CreateToast(p.LocString("Required services unloaded, waiting 5 seconds to unload the plugin."), "", nil)
	p.Manager.SetTimeout("unloadTimeout", 5*time.Second, false, func(string) {
		p.Manager.CreateToast(p.LocString("5 seconds passed, unloading plugin"), "", nil)
		p.Manager.UnloadPlugin()
	})
	return plugins.UnloadCancel, nil
}

func (p *Plugin) startAlert(string) {
	p.events["setTimeout"] = true

	actionURL, err := p.Manager.RegisterMethod("/mockPlugin", "action", p.action, nil)
	if err != nil {
		p.Manager.Logger().Errorf("failed to register action method: %v", err)
		return
	}

	buttons := []bus.Payload{
		{
			"label":    "close",
			"onclick":  actionURL,
			"position": "left",
			"params":   bus.Payload{"close": true},
		},
		{
			"label":   "toast",
			"onclick": actionURL,
			"params":  bus.Payload{"close": false, "toast": "toast"},
		},
	}

	err = p.Manager.CreateAlert("question",
		"Event Monitor Mock plugin started",
		"Do you see this alert? I will show toasts whenever active application is changed."+
			"<br>Closing the alert in 20 seconds.",
		false, "", buttons, bus.Payload{})
	if err != nil {
		p.Manager.Logger().Errorf("failed to create alert: %v", err)
		return
	}

	p.Manager.SetTimeout("closeQuestion", 10*time.Second, false, func(string) {
		p.Manager.CloseAlert("question")
		p.Manager.CreateToast(p.LocString("Alert closed after 20 seconds"), "", nil)
	})
}

func (p *Plugin) action(params bus.Payload) bus.Payload {
	p.Manager.CancelTimeout("closeQuestion")

	closeAlert, ok := params.Bool("close")
	if !ok {
		return bus.Payload{
			"returnValue":  false,
			"errorCode":    100,
			"errorMessage": "Error parsing JSON",
		}
	}

	if message, ok := params.String("toast"); ok {
		p.Manager.CreateToast(p.LocString("Button said ")+message, "", nil)
	} else {
		p.Manager.CreateToast(p.LocString("Button with no message"), "", nil)
	}

	if !closeAlert {
		p.Manager.SetTimeout("startAlert", 100*time.Millisecond, false, p.startAlert)
	}
	return bus.Payload{"returnValue": true}
}

func (p *Plugin) getEvents(bus.Payload) bus.Payload {
	response := bus.Payload{"returnValue": true}
	for event, seen := range p.events {
		response[event] = seen
	}
	return response
}

func (p *Plugin) foregroundApp(previous, current bus.Payload) {
	p.events["subscribedMethod"] = true

	if previous == nil {
		return
	}
	prevApp, _ := previous.String("appId")
	curApp, _ := current.String("appId")
	if prevApp != curApp {
		p.Manager.CreateToast(p.LocString("Active application changed to ")+curApp, "", nil)
	}
}

func (p *Plugin) logNotification(_, current bus.Payload) {
	p.Manager.Logger().Debugf("notification update: %v", current)
}

func (p *Plugin) batteryStatus(_, current bus.Payload) {
	percent, ok := current["percent"].(float64)
	if !ok {
		return
	}
	p.events["subscribedSignal"] = true
	p.Manager.CreateToast(fmt.Sprintf("Battery Status update: percent: %d", int(percent)), "", nil)
}

func (p *Plugin) boosterFinished(_, current bus.Payload) {
	exitCode, ok := current["exitCode"].(float64)
	if !ok {
		return
	}
	p.events["subscribedSignal"] = true

	p.Manager.SetTimeout("boosterTimer", 5*time.Second, false, func(string) {
		p.Manager.CreateToast(fmt.Sprintf(
			"Signal received. Boosted QML app terminated with exitcode: %d", int(exitCode)), "", nil)
	})
	p.Manager.SetTimeout("unsubscribeTimer", 10*time.Second, false, func(string) {
		p.Manager.UnsubscribeFromMethod("foregroundApp")
		p.Manager.UnsubscribeFromSignal("batteryStatus")
		p.Manager.UnsubscribeFromSignal("processFinished")
		p.Manager.CreateToast(p.LocString("Unsubscribed from signals and methods"), "", nil)
		p.events["subscribedSignal"] = false
		p.events["subscribedMethod"] = false
		p.events["unsubscribed"] = true
	})
}
