// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/daemon"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "flowgate - reactive SDN controller",
	Long: `flowgate is the reactive decision core of an SDN controller.
It receives packet-ins from a switch, learns where hosts live, answers and
resolves ARP, enforces an ACL and installs forwarding rules.

Forwarding modes:
  - l2:          learning switch
  - l2-firewall: learning switch with ACL enforcement on IPv4
  - l3:          ARP proxy and inter-subnet routing through gateway rewriting`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/flowgate/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
