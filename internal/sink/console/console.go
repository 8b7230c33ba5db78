// Package console prints statistics records to stdout for debugging.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "console"

// Config is the console sink configuration.
type Config struct {
	Format string `mapstructure:"format"` // "text" or "json", default "text"
}

// Sink prints records, one per line.
type Sink struct {
	format  string
	subnets core.Subnets
	out     io.Writer

	written atomic.Uint64
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		var cfg Config
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg, env.Subnets, os.Stdout)
	})
}

// New creates a console sink writing to out.
func New(cfg Config, subnets core.Subnets, out io.Writer) (*Sink, error) {
	switch cfg.Format {
	case "":
		cfg.Format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("%w: invalid format %q, must be json or text", core.ErrConfigInvalid, cfg.Format)
	}
	return &Sink{format: cfg.Format, subnets: subnets, out: out}, nil
}

func (s *Sink) Name() string {
	return Name
}

func (s *Sink) Write(_ context.Context, records []core.StatRecord) error {
	if s.format == "json" {
		enc := json.NewEncoder(s.out)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("json encode failed: %w", err)
			}
		}
	} else {
		for i := range records {
			if _, err := fmt.Fprintln(s.out, stats.FormatLine(&records[i], s.subnets)); err != nil {
				return err
			}
		}
	}
	s.written.Add(uint64(len(records)))
	return nil
}

func (s *Sink) Close() error {
	slog.Info("console sink stopped", "total_written", s.written.Load())
	return nil
}
