// Package kafka publishes statistics records to a Kafka topic with batching,
// compression and retries.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config is the Kafka sink configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"` // required
	Topic        string        `mapstructure:"topic"`   // required
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink sends one message per record, keyed by flow so a flow always lands on
// the same partition.
type Sink struct {
	cfg        Config
	instanceID string
	writer     messageWriter

	reported atomic.Uint64
	errors   atomic.Uint64
}

// message is the JSON value of a Kafka message.
type message struct {
	Probe  string           `json:"probe"`
	Record *core.StatRecord `json:"record"`
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		cfg := Config{
			BatchSize:    defaultBatchSize,
			BatchTimeout: defaultBatchTimeout,
			Compression:  defaultCompression,
			MaxAttempts:  defaultMaxAttempts,
		}
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg, env.InstanceID)
	})
}

// New creates the Kafka writer. Brokers are contacted lazily on first write.
func New(cfg Config, instanceID string) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers is required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", core.ErrConfigInvalid)
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	}
	switch cfg.Compression {
	case "none", "":
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, cfg.Compression)
	}

	slog.Info("kafka sink started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return &Sink{cfg: cfg, instanceID: instanceID, writer: kafka.NewWriter(writerConfig)}, nil
}

func (s *Sink) Name() string {
	return Name
}

// Write sends records as one batch.
func (s *Sink) Write(ctx context.Context, records []core.StatRecord) error {
	msgs, err := s.messages(records)
	if err != nil {
		s.errors.Add(1)
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.reported.Add(uint64(len(msgs)))
	return nil
}

func (s *Sink) messages(records []core.StatRecord) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(records))
	for i := range records {
		rec := &records[i]
		value, err := json.Marshal(message{Probe: s.instanceID, Record: rec})
		if err != nil {
			return nil, fmt.Errorf("serialize record failed: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Key.String()),
			Value: value,
			Time:  rec.Time(),
			Headers: []kafka.Header{
				{Key: "proto", Value: []byte(rec.Key.Proto.String())},
			},
		})
	}
	return msgs, nil
}

// Close flushes pending messages.
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka sink stopped",
		"total_reported", s.reported.Load(),
		"total_errors", s.errors.Load(),
	)
	return nil
}
