// Package daemon assembles a probe from its configuration and runs it until
// the capture ends, a signal arrives or engine.stop is received.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"firestige.xyz/tcpgeek/internal/command"
	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
	logpkg "firestige.xyz/tcpgeek/internal/log"
	"firestige.xyz/tcpgeek/internal/metrics"
	"firestige.xyz/tcpgeek/internal/pipeline"
	"firestige.xyz/tcpgeek/internal/source"
	"firestige.xyz/tcpgeek/internal/stats"

	// capture engines and statistics sinks register themselves
	_ "firestige.xyz/tcpgeek/internal/sink"
	_ "firestige.xyz/tcpgeek/internal/source/afpacket"
	_ "firestige.xyz/tcpgeek/internal/source/libpcap"
)

// Daemon owns every long-lived component of a probe.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	version    string

	engine        *pipeline.Engine
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

// New loads the configuration at configPath.
func New(configPath, version string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := NewWithConfig(cfg, version)
	d.configPath = configPath
	return d, nil
}

// NewWithConfig creates a daemon from an already validated configuration.
func NewWithConfig(cfg *config.GlobalConfig, version string) *Daemon {
	d := &Daemon{config: cfg, version: version}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start builds and starts every component. On error the components created
// so far are released.
func (d *Daemon) Start() (err error) {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("starting tcpgeek",
		"version", d.version,
		"hostname", d.config.Node.Hostname,
		"instance_id", d.config.Node.InstanceID,
		"config", d.configPath)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	params, portErrs := d.config.Engine.SessionParams()
	for _, perr := range portErrs {
		slog.Warn("ignoring service port", "error", perr)
	}
	subnets, err := d.config.Engine.Subnets()
	if err != nil {
		return err
	}

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.status)
	}

	sinks, err := d.openSinks(subnets)
	if err != nil {
		return err
	}

	src, err := source.Open(d.config.Capture)
	if err != nil {
		sinks.Close()
		return fmt.Errorf("failed to open capture: %w", err)
	}

	cfg := pipeline.Config{
		Params:         params,
		Source:         src,
		Sinks:          sinks,
		RestartOnDrops: d.config.Control.RestartOnDrops,
		MaxMemoryKB:    d.config.Control.MaxMemoryKB,
	}
	if d.config.Engine.DebugPackets {
		cfg.PacketLog = logpkg.Packets()
	}
	d.engine, err = pipeline.New(cfg)
	if err != nil {
		src.Close()
		sinks.Close()
		return err
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Start(d.ctx); err != nil {
			src.Close()
			sinks.Close()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	handler := command.NewCommandHandler(d.engine, d.version)
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, handler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil {
			slog.Error("control socket failed", "error", err)
		}
	}()
	return nil
}

// openSinks instantiates the configured sinks. Without any, records go to
// the console.
func (d *Daemon) openSinks(subnets core.Subnets) (*stats.Fanout, error) {
	env := stats.Env{
		InstanceID: d.config.Node.InstanceID,
		Subnets:    subnets,
	}
	if d.metricsServer != nil {
		env.Router = d.metricsServer
	}

	confs := d.config.Stats.Sinks
	if len(confs) == 0 {
		slog.Warn("no statistics sink configured, writing to console")
		confs = []config.SinkConfig{{Type: "console"}}
	}

	sinks := make([]stats.Sink, 0, len(confs))
	for _, sc := range confs {
		s, err := stats.New(sc.Type, sc.Options, env)
		if err != nil {
			for _, opened := range sinks {
				opened.Close()
			}
			return nil, err
		}
		slog.Info("statistics sink ready", "sink", s.Name())
		sinks = append(sinks, s)
	}
	return stats.NewFanout(sinks, metrics.ObserveWrite), nil
}

func (d *Daemon) status() any {
	if d.engine == nil {
		return map[string]string{"state": "starting"}
	}
	return command.StatusResult{Version: d.version, Engine: d.engine.Status()}
}

// Run runs the engine until the capture ends, SIGINT/SIGTERM arrives or
// engine.stop is received, then stops the daemon. The returned error is the
// engine stop reason, nil for a regular stop.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan error, 1)
	go func() {
		done <- d.engine.Run(d.ctx)
	}()

	var err error
	select {
	case sig := <-d.sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		d.engine.Stop(nil)
		err = <-done
	case err = <-done:
	}

	d.Stop()
	if err != nil {
		slog.Error("capture stopped", "reason", err)
	} else {
		slog.Info("capture stopped")
	}
	return err
}

// Stop releases the control socket, the metrics server and the PID file. It
// is safe to call more than once.
func (d *Daemon) Stop() {
	d.cancel()
	if d.udsServer != nil {
		if err := d.udsServer.Stop(); err != nil {
			slog.Warn("error stopping control socket", "error", err)
		}
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Warn("error stopping metrics server", "error", err)
		}
	}
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if err := d.removePIDFile(); err != nil {
		slog.Warn("error removing PID file", "error", err)
	}
}

func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ExitCode maps an engine stop reason to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrMemoryLimit):
		return 167
	case errors.Is(err, core.ErrCaptureDropped):
		return 168
	default:
		return 1
	}
}
