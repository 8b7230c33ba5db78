// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpgeek/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "0.1.0"

var (
	// Global flags
	configFile string
	socketPath string
)

const defaultSocket = "/var/run/tcpgeek.sock"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tcpgeek",
	Short: "tcpgeek - passive TCP/UDP session statistics probe",
	Long: `tcpgeek reconstructs TCP and UDP sessions from captured traffic and
periodically writes per-session statistics: packet and byte counters,
duplicates, out-of-order segments, sequence gaps, retransmissions,
request/response timing and handshake round trip time.

Packets come from a capture file or a live interface (libpcap or AF_PACKET),
statistics go to files, the console, Kafka, ClickHouse, NATS, a websocket
feed or numpy arrays.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"control socket path (default: control.socket from the config, else "+defaultSocket+")")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(validateCmd)
}

// resolveSocket picks the --socket flag, then the configured socket.
func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	if configFile != "" {
		if cfg, err := config.Load(configFile); err == nil && cfg.Control.Socket != "" {
			return cfg.Control.Socket
		}
	}
	return defaultSocket
}

// exitWithError prints error message and exits with code
func exitWithError(msg string, err error, code int) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}
