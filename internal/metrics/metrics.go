// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts captured packets by decode result
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpgeek_packets_total",
			Help: "Total number of captured packets by decode result",
		},
		[]string{"result"},
	)

	// OutcomesTotal counts session classifications
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpgeek_outcomes_total",
			Help: "Total number of packets by protocol and session classification",
		},
		[]string{"proto", "outcome"},
	)

	// Sessions tracks the flows currently held by each table
	Sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tcpgeek_sessions",
			Help: "Current number of tracked flows",
		},
		[]string{"proto"},
	)

	// EvictedTotal counts flows removed from the tables
	EvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpgeek_evicted_total",
			Help: "Total number of flows removed from the flow tables",
		},
		[]string{"proto", "reason"}, // reason: idle | drain
	)

	// RecordsTotal counts statistics records handed to sinks
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpgeek_records_total",
			Help: "Total number of statistics records written per sink",
		},
		[]string{"sink", "status"}, // status: ok | error
	)

	// QueueDepth tracks statistics records waiting for the next flush
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcpgeek_queue_depth",
			Help: "Number of statistics records waiting to be written",
		},
	)

	// CaptureDropsTotal counts packets dropped by the OS or interface
	CaptureDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpgeek_capture_drops_total",
			Help: "Total number of packets dropped before reaching the engine",
		},
	)
)

// Eviction reasons.
const (
	ReasonIdle  = "idle"
	ReasonDrain = "drain"
)

// ObserveWrite records the outcome of a sink write.
func ObserveWrite(sink string, records int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RecordsTotal.WithLabelValues(sink, status).Add(float64(records))
}
