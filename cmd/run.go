package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller in foreground",
	Long: `Run the flowgate controller in foreground.

The daemon will:
  1. Load configuration from the config file
  2. Initialize logging, metrics and the operator event bus
  3. Start one controller instance per configured switch
  4. Feed each instance from its frame source
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			exitWithError("daemon failed", err)
		}
	},
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	// blocks until shutdown
	return d.Run()
}
