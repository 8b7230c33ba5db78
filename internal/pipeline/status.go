package pipeline

import (
	"time"

	"firestige.xyz/tcpgeek/internal/session"
	"firestige.xyz/tcpgeek/internal/source"
)

// Status is a snapshot of the engine served over the control socket and at
// /status.
type Status struct {
	Running       bool               `json:"running"`
	Live          bool               `json:"live"`
	StartedAt     time.Time          `json:"started_at"`
	Uptime        string             `json:"uptime"`
	Packets       CounterSnapshot    `json:"packets"`
	TCP           session.TableStats `json:"tcp"`
	UDP           session.TableStats `json:"udp"`
	QueuedRecords int                `json:"queued_records"`
	Capture       *source.Stats      `json:"capture,omitempty"`
	LastPacket    time.Time          `json:"last_packet"`
	Sinks         []string           `json:"sinks"`
}

// Status returns the current engine snapshot. It is safe to call from any
// goroutine.
func (e *Engine) Status() Status {
	st := Status{
		Running:       e.running.Load(),
		Live:          e.src.Live(),
		Packets:       e.counters.Snapshot(),
		TCP:           e.tcp.Stats(),
		UDP:           e.udp.Stats(),
		QueuedRecords: e.queue.Len(),
		Capture:       e.capture.Load(),
	}
	if started := e.startedAt.Load(); started != nil {
		st.StartedAt = *started
		st.Uptime = e.now().Sub(*started).Truncate(time.Second).String()
	}
	if sec := e.captureClock.Load(); sec > 0 {
		st.LastPacket = time.Unix(sec, 0).UTC()
	}
	for _, s := range e.sinks.Sinks() {
		st.Sinks = append(st.Sinks, s.Name())
	}
	return st
}
