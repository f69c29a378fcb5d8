// Command event-monitor runs the event-monitor service: it loads the
// statically linked plugins and keeps them supplied with bus events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-lynx/event-monitor/boot"

	// Statically linked plugins register themselves at init time.
	_ "github.com/go-lynx/event-monitor/plugins/mock"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	var confPath string

	root := &cobra.Command{
		Use:     "event-monitor",
		Short:   "Bus event orchestration service for statically linked plugins",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot.Run(confPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&confPath, "conf", "c", "", "path to the configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
