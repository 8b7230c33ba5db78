package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpgeek/internal/command"
)

// controlClient is the part of the control socket client used by the CLI.
type controlClient interface {
	Status(ctx context.Context) (*command.StatusResult, error)
	Stop(ctx context.Context) error
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show probe status",
	Long: `Query a running probe over its control socket.

Shows: version, uptime, packet counters, flow table counters, capture
statistics and the active sinks.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(resolveSocket(), 10*time.Second)
		if err := runStatus(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("failed to query probe status", err, 1)
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running probe",
	Long: `Stop a running probe gracefully.

The probe drains every session, writes the last statistics and exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(resolveSocket(), 10*time.Second)
		if err := runStop(cmd.Context(), client, os.Stdout); err != nil {
			exitWithError("failed to stop probe", err, 1)
		}
	},
}

func runStatus(ctx context.Context, client controlClient, w io.Writer) error {
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func runStop(ctx context.Context, client controlClient, w io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintln(w, "probe is stopping, sessions are being drained")
	return nil
}
