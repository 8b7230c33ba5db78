package session

import (
	"time"

	"firestige.xyz/tcpgeek/internal/core"
)

// Recorder receives the statistics records flushed by sessions.
type Recorder interface {
	Enqueue(rec core.StatRecord)
}

// Params is the immutable engine configuration shared by every table and
// session. It is built once at startup.
type Params struct {
	MaxSessions  int           // per table, <= 0 means unbounded
	DedupWindow  int           // fingerprints remembered per direction
	DedupTimeout time.Duration // clean time after which a direction stops deduplicating
	IdleTimeout  time.Duration
	Granularity  time.Duration
	ServicePorts *core.PortSet
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		MaxSessions:  100000,
		DedupWindow:  8,
		DedupTimeout: 2 * time.Second,
		IdleTimeout:  120 * time.Second,
		Granularity:  60 * time.Second,
	}
}

func (p *Params) dedupTimeoutMicros() int64 {
	return p.DedupTimeout.Microseconds()
}

func (p *Params) granularitySeconds() int64 {
	return int64(p.Granularity / time.Second)
}

func (p *Params) idleTimeoutSeconds() int64 {
	return int64(p.IdleTimeout / time.Second)
}
