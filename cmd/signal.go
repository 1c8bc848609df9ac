package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/daemon"
)

// ProcessClient delivers signals to a running daemon.
type ProcessClient interface {
	Signal(pid int, sig os.Signal) error
}

type osProcessClient struct{}

func (osProcessClient) Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the running flowgate daemon gracefully.

The daemon is located through its PID file and receives SIGTERM. It closes
every switch source, drains the controller instances, flushes the operator
event bus and removes the PID file before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		return runStop(osProcessClient{}, path, cmd.OutOrStdout())
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon configuration",
	Long: `Ask the running daemon to re-read its configuration file (SIGHUP).

Log settings are applied in place. Changes to gateways, the policy, the
controller or the switch list are reported by the daemon and take effect
on the next restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		return runReload(osProcessClient{}, path, cmd.OutOrStdout())
	},
}

// resolvePIDFile prefers the --pidfile flag over control.pid_file.
func resolvePIDFile() (string, error) {
	if pidFile != "" {
		return pidFile, nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return "", err
	}
	if cfg.Control.PIDFile == "" {
		return "", errors.New("no PID file: pass --pidfile or set control.pid_file")
	}
	return cfg.Control.PIDFile, nil
}

func runStop(client ProcessClient, pidPath string, out io.Writer) error {
	pid, err := signalDaemon(client, pidPath, syscall.SIGTERM)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintf(out, "✓ Sent SIGTERM to daemon (pid %d)\n", pid)
	return nil
}

func runReload(client ProcessClient, pidPath string, out io.Writer) error {
	pid, err := signalDaemon(client, pidPath, syscall.SIGHUP)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintf(out, "✓ Sent SIGHUP to daemon (pid %d)\n", pid)
	return nil
}

func signalDaemon(client ProcessClient, pidPath string, sig os.Signal) (int, error) {
	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("daemon is not running (no PID file at %s)", pidPath)
		}
		return 0, err
	}
	if err := client.Signal(pid, sig); err != nil {
		return pid, err
	}
	return pid, nil
}
