package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "websocket"

const defaultPath = "/ws"

// Config is the websocket sink configuration.
type Config struct {
	Path string `mapstructure:"path"`
}

// Sink broadcasts every flush as one JSON array.
type Sink struct {
	hub        *Hub
	instanceID string
	dropped    uint64
}

type frame struct {
	Probe   string            `json:"probe"`
	Records []core.StatRecord `json:"records"`
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		cfg := Config{Path: defaultPath}
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		if env.Router == nil {
			return nil, fmt.Errorf("%w: websocket sink needs the metrics http server", core.ErrConfigInvalid)
		}
		s := New(env.InstanceID)
		env.Router.Handle(cfg.Path, s.hub)
		slog.Info("websocket feed enabled", "path", cfg.Path)
		return s, nil
	})
}

// New creates a sink with its own hub.
func New(instanceID string) *Sink {
	return &Sink{hub: NewHub(), instanceID: instanceID}
}

// Hub returns the hub serving the feed.
func (s *Sink) Hub() *Hub {
	return s.hub
}

func (s *Sink) Name() string {
	return Name
}

// Write never fails on slow clients; a saturated hub drops the flush.
func (s *Sink) Write(_ context.Context, records []core.StatRecord) error {
	if s.hub.Clients() == 0 {
		return nil
	}
	data, err := json.Marshal(frame{Probe: s.instanceID, Records: records})
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	if !s.hub.Broadcast(data) {
		s.dropped++
		slog.Warn("websocket broadcast queue full, dropping flush", "records", len(records), "dropped", s.dropped)
	}
	return nil
}

func (s *Sink) Close() error {
	s.hub.Close()
	return nil
}
