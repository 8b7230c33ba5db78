package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpgeek/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the probe in foreground",
	Long: `Run the probe in foreground until the capture file is exhausted, SIGINT or
SIGTERM arrives, or "tcpgeek stop" is issued.

The probe will:
  1. Load configuration and initialize logging
  2. Open the statistics sinks and the capture source
  3. Start the metrics server (if enabled) and the control socket
  4. Track sessions and flush statistics every granularity interval
  5. Drain every session and write the last statistics on exit

Exit status is 167 when the memory limit was exceeded and 168 when packets
were dropped with control.restart_on_drops set, so a supervisor can restart.

Examples:
  tcpgeek run -c /etc/tcpgeek/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		d, err := daemon.New(configFile, Version)
		if err != nil {
			exitWithError("failed to create probe", err, 1)
		}
		if err := d.Start(); err != nil {
			exitWithError("failed to start probe", err, 1)
		}
		if err := d.Run(); err != nil {
			slog.Error("probe stopped", "error", err)
			exitWithError("probe stopped", err, daemon.ExitCode(err))
		}
	},
}
