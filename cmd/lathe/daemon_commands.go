package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lathe/internal/client"
)

const daemonStartTimeout = 10 * time.Second

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the lathe daemon",
	}
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the lathe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if _, err := cli.Status(cmd.Context()); err == nil {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			launchArgs := []string{}
			if ctx.configFlag != nil && strings.TrimSpace(*ctx.configFlag) != "" {
				launchArgs = append(launchArgs, "-config", strings.TrimSpace(*ctx.configFlag))
			}
			proc := exec.Command(exe, launchArgs...)
			if err := proc.Start(); err != nil {
				return fmt.Errorf("launch daemon: %w", err)
			}
			if err := proc.Process.Release(); err != nil {
				return fmt.Errorf("detach daemon: %w", err)
			}
			fmt.Fprintln(stdout, "Daemon not running, launching...")

			if err := waitForDaemon(cmd.Context(), cli, true); err != nil {
				return fmt.Errorf("daemon did not come up: %w", err)
			}
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the lathe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := cli.Shutdown(cmd.Context()); err != nil {
				if client.IsDaemonUnavailable(err) {
					fmt.Fprintln(stdout, "Daemon is not running")
					return nil
				}
				return err
			}
			if err := waitForDaemon(cmd.Context(), cli, false); err != nil {
				return fmt.Errorf("daemon did not shut down: %w", err)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := cli.Status(cmd.Context())
			if err != nil {
				if client.IsDaemonUnavailable(err) {
					fmt.Fprintln(stdout, colorize(stdout, ansiYellow, "Daemon is not running"))
					return nil
				}
				return err
			}

			fmt.Fprintf(stdout, "%s (pid %d)\n", colorize(stdout, ansiGreen, "Daemon running"), status.PID)
			fmt.Fprintf(stdout, "Queue database: %s\n", status.QueueDBPath)
			fmt.Fprintln(stdout)

			rows := make([][]string, 0, len(status.Workers))
			for _, name := range sortedKeys(status.Workers) {
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%d", status.Workers[name]),
					fmt.Sprintf("%d", status.Depths[name]),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Queue", "Workers", "Depth"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))

			health := status.Health
			fmt.Fprintf(stdout, "\nTasks: %d total, %d queued, %d processing, %d retrying, %d succeeded, %d failed, %d cancelled\n",
				health.Total, health.Queued, health.Processing, health.Retrying,
				health.Succeeded, health.Failed, health.Cancelled)
			return nil
		},
	}
}

// daemonExecutable resolves the lathed binary, preferring one that ships
// next to the CLI.
func daemonExecutable() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "lathed")
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("lathed")
	if err != nil {
		return "", fmt.Errorf("locate lathed executable: %w", err)
	}
	return path, nil
}

func waitForDaemon(ctx context.Context, cli *client.Client, up bool) error {
	deadline := time.Now().Add(daemonStartTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		_, err := cli.Status(ctx)
		if up && err == nil {
			return nil
		}
		if !up && client.IsDaemonUnavailable(err) {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timed out after %s", daemonStartTimeout)
	}
	return lastErr
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
