package pipeline

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/metrics"
	"firestige.xyz/tcpgeek/internal/session"
)

// Counters contains the engine packet counters.
type Counters struct {
	Received     atomic.Uint64
	TCP          atomic.Uint64
	UDP          atomic.Uint64
	DecodeErrors atomic.Uint64
	Ignored      atomic.Uint64 // decoded but not tracked by any flow
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Received     uint64 `json:"received"`
	TCP          uint64 `json:"tcp"`
	UDP          uint64 `json:"udp"`
	DecodeErrors uint64 `json:"decode_errors"`
	Ignored      uint64 `json:"ignored"`
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Received:     c.Received.Load(),
		TCP:          c.TCP.Load(),
		UDP:          c.UDP.Load(),
		DecodeErrors: c.DecodeErrors.Load(),
		Ignored:      c.Ignored.Load(),
	}
}

// packetMetrics resolves the labelled Prometheus children once so the capture
// loop only increments.
type packetMetrics struct {
	decode   [core.BadUDPLength + 1]prometheus.Counter
	tcp      [session.Duplicate + 1]prometheus.Counter
	udp      [session.Duplicate + 1]prometheus.Counter
	sessions struct{ tcp, udp prometheus.Gauge }
}

func newPacketMetrics() *packetMetrics {
	m := &packetMetrics{}
	for r := range m.decode {
		m.decode[r] = metrics.PacketsTotal.WithLabelValues(core.DecodeResult(r).Label())
	}
	for o := range m.tcp {
		m.tcp[o] = metrics.OutcomesTotal.WithLabelValues("tcp", session.Outcome(o).String())
		m.udp[o] = metrics.OutcomesTotal.WithLabelValues("udp", session.Outcome(o).String())
	}
	m.sessions.tcp = metrics.Sessions.WithLabelValues("tcp")
	m.sessions.udp = metrics.Sessions.WithLabelValues("udp")
	return m
}

func (m *packetMetrics) observeDecode(r core.DecodeResult) {
	if int(r) < len(m.decode) {
		m.decode[r].Inc()
	}
}

func (m *packetMetrics) observeOutcome(proto core.Protocol, o session.Outcome) {
	if int(o) >= len(m.tcp) {
		return
	}
	if proto == core.ProtoTCP {
		m.tcp[o].Inc()
	} else {
		m.udp[o].Inc()
	}
}
