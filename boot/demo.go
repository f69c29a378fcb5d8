package boot

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/go-lynx/event-monitor/bus"
	"github.com/go-lynx/event-monitor/bus/inproc"
)

// installDemoServices registers stand-ins for the platform services the core
// and the plugins talk to, so the binary can run against the in-process
// fabric alone. The settings service reports a fixed locale, server status
// reports every service as up, and the notification service just logs.
func installDemoServices(hub *inproc.Hub, logger log.Logger) {
	helper := log.NewHelper(log.With(logger, "module", "demo-bus"))

	hub.HandleFunc("luna://com.webos.settingsservice/getSystemSettings",
		func(params bus.Params, call *inproc.Call) {
			call.Reply(bus.Payload{
				"returnValue": true,
				"settings": bus.Payload{
					"localeInfo": bus.Payload{
						"locales": bus.Payload{"UI": "en-US"},
					},
				},
			})
		})

	hub.HandleFunc("luna://com.webos.service.bus/signal/registerServerStatus",
		func(params bus.Params, call *inproc.Call) {
			service, _ := bus.Payload(params).String("serviceName")
			call.Reply(bus.Payload{
				"returnValue": true,
				"serviceName": service,
				"connected":   true,
			})
		})

	hub.HandleFunc("luna://com.webos.service.bus/signal/addmatch",
		func(params bus.Params, call *inproc.Call) {
			call.Reply(bus.Payload{"returnValue": true})
		})

	hub.HandleFunc("luna://com.webos.notification/createToast",
		func(params bus.Params, call *inproc.Call) {
			message, _ := bus.Payload(params).String("message")
			helper.Infof("toast: %s", message)
			call.Reply(bus.Payload{"returnValue": true})
		})

	hub.HandleFunc("luna://com.webos.notification/createAlert",
		func(params bus.Params, call *inproc.Call) {
			title, _ := bus.Payload(params).String("title")
			helper.Infof("alert: %s", title)
			call.Reply(bus.Payload{"returnValue": true, "alertId": uuid.NewString()})
		})

	hub.HandleFunc("luna://com.webos.notification/closeAlert",
		func(params bus.Params, call *inproc.Call) {
			call.Reply(bus.Payload{"returnValue": true})
		})
}
