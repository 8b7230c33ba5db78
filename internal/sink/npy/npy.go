// Package npy exports statistics records as numpy arrays, one .npy file per
// flush, for offline feature analysis.
//
// Each file holds a float64 matrix of shape (len(records), len(Columns)).
package npy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "npy"

// Columns names the features of one row.
var Columns = []string{
	"timestamp_s", "protocol", "server_port",
	"client_packets", "server_packets",
	"client_bytes", "server_bytes",
	"client_payload", "server_payload",
	"client_duplicates", "server_duplicates",
	"client_out_of_order", "server_out_of_order",
	"client_active_gaps", "server_active_gaps",
	"client_retransmits", "server_retransmits",
	"operations",
	"client_idle_ms", "request_ms", "think_ms", "response_ms", "idle_ms",
	"error_bits", "rtt_ms",
}

// Config is the npy sink configuration.
type Config struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// Sink writes feature matrices.
type Sink struct {
	dir    string
	prefix string
	now    func() time.Time
}

func init() {
	stats.Register(Name, func(opts map[string]any, _ stats.Env) (stats.Sink, error) {
		cfg := Config{Prefix: "features"}
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// New creates the output directory.
func New(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: npy dir is required", core.ErrConfigInvalid)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("npy directory: %w", err)
	}
	return &Sink{dir: cfg.Dir, prefix: cfg.Prefix, now: time.Now}, nil
}

func (s *Sink) Name() string {
	return Name
}

func (s *Sink) Write(_ context.Context, records []core.StatRecord) error {
	if len(records) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.npy", s.prefix, s.now().Format("20060102-15-04-05.000")))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, Matrix(records)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Matrix lays records out one per row, one column per entry of Columns.
// records must not be empty.
func Matrix(records []core.StatRecord) *mat.Dense {
	ms := func(us int64) float64 { return float64(us) / 1000 }
	out := make([]float64, 0, len(records)*len(Columns))
	for i := range records {
		r := &records[i]
		c, s := &r.Client, &r.Server
		out = append(out,
			float64(r.Timestamp)/1e6, float64(r.Key.Proto), float64(r.Key.ServerPort),
			float64(c.Packets), float64(s.Packets),
			float64(c.Bytes), float64(s.Bytes),
			float64(c.Payload), float64(s.Payload),
			float64(c.Duplicates), float64(s.Duplicates),
			float64(c.OutOfOrder), float64(s.OutOfOrder),
			float64(c.ActiveGaps), float64(s.ActiveGaps),
			float64(c.Retransmits), float64(s.Retransmits),
			float64(r.Operations),
			ms(r.ClientIdle), ms(r.Request), ms(r.Think), ms(r.Response), ms(r.Idle),
			float64(r.ErrorBits), ms(r.RTT),
		)
	}
	return mat.NewDense(len(records), len(Columns), out)
}

func (s *Sink) Close() error {
	return nil
}
