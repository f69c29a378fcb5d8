package boot

import (
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
)

// envPrefix namespaces the environment variables the configuration file may
// reference through ${...} placeholders, e.g. EVENT_MONITOR_LOG_LEVEL.
const envPrefix = "EVENT_MONITOR_"

// Config is the service configuration.
type Config struct {
	Service ServiceConf `json:"service"`
	Log     LogConf     `json:"log"`
	Plugins PluginsConf `json:"plugins"`
}

// ServiceConf identifies the service on the bus.
type ServiceConf struct {
	// Name is the bus identity the service registers under.
	Name string `json:"name"`

	// Demo wires stand-in endpoints for the settings and notification
	// services into the bus fabric, so the service is runnable without a
	// real bus daemon.
	Demo bool `json:"demo"`
}

// LogConf configures logging.
type LogConf struct {
	Level string `json:"level"`
}

// PluginsConf configures plugin selection.
type PluginsConf struct {
	// Enabled is an allow-list of plugin identities. Empty enables every
	// registered plugin.
	Enabled []string `json:"enabled"`
}

func defaultConfig() Config {
	return Config{
		Service: ServiceConf{Name: "com.webos.service.event-monitor"},
		Log:     LogConf{Level: "info"},
	}
}

// LoadConfig reads the configuration from path and the environment. An empty
// path loads defaults and environment overrides only.
func LoadConfig(path string) (Config, error) {
	conf := defaultConfig()

	sources := []config.Source{env.NewSource(envPrefix)}
	if path != "" {
		sources = append([]config.Source{file.NewSource(path)}, sources...)
	}

	c := config.New(config.WithSource(sources...))
	defer c.Close()

	if err := c.Load(); err != nil {
		return conf, err
	}
	if err := c.Scan(&conf); err != nil {
		return conf, err
	}
	return conf, nil
}
