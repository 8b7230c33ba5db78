// Package nats publishes statistics records to a NATS subject as protobuf
// encoded structs.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "nats"

const defaultSubject = "tcpgeek.stats"

// Config is the NATS sink configuration.
type Config struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Sink publishes one message per record.
type Sink struct {
	nc         publisher
	subject    string
	instanceID string
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		cfg := Config{URL: nats.DefaultURL, Subject: defaultSubject}
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg, env.InstanceID)
	})
}

// New connects to the NATS server.
func New(cfg Config, instanceID string) (*Sink, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("tcpgeek-"+instanceID))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	slog.Info("connected to nats", "url", cfg.URL, "subject", cfg.Subject)
	return &Sink{nc: nc, subject: cfg.Subject, instanceID: instanceID}, nil
}

func (s *Sink) Name() string {
	return Name
}

func (s *Sink) Write(_ context.Context, records []core.StatRecord) error {
	for i := range records {
		data, err := encode(&records[i], s.instanceID)
		if err != nil {
			return err
		}
		if err := s.nc.Publish(s.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
	}
	return nil
}

// encode serializes rec as a google.protobuf.Struct.
func encode(rec *core.StatRecord, probe string) ([]byte, error) {
	direction := func(d *core.DirectionStats) map[string]any {
		return map[string]any{
			"packets":      d.Packets,
			"bytes":        d.Bytes,
			"payload":      d.Payload,
			"duplicates":   d.Duplicates,
			"out_of_order": d.OutOfOrder,
			"active_gaps":  d.ActiveGaps,
			"retransmits":  d.Retransmits,
		}
	}
	msg, err := structpb.NewStruct(map[string]any{
		"probe":          probe,
		"timestamp_us":   rec.Timestamp,
		"protocol":       rec.Key.Proto.String(),
		"client_ip":      rec.Key.ClientIP.String(),
		"client_port":    uint32(rec.Key.ClientPort),
		"server_ip":      rec.Key.ServerIP.String(),
		"server_port":    uint32(rec.Key.ServerPort),
		"client":         direction(&rec.Client),
		"server":         direction(&rec.Server),
		"operations":     rec.Operations,
		"client_idle_us": rec.ClientIdle,
		"request_us":     rec.Request,
		"think_us":       rec.Think,
		"response_us":    rec.Response,
		"idle_us":        rec.Idle,
		"error_bits":     uint32(rec.ErrorBits),
		"rtt_us":         rec.RTT,
	})
	if err != nil {
		return nil, fmt.Errorf("build record struct: %w", err)
	}
	return proto.Marshal(msg)
}

// Close drains and closes the connection.
func (s *Sink) Close() error {
	return s.nc.Drain()
}
