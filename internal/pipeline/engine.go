// Package pipeline drives the flow tables: a capture loop feeding decoded
// packets into the TCP and UDP tables and a control loop that sweeps idle
// flows and flushes statistics every granularity interval.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/core/decoder"
	"firestige.xyz/tcpgeek/internal/metrics"
	"firestige.xyz/tcpgeek/internal/session"
	"firestige.xyz/tcpgeek/internal/source"
	"firestige.xyz/tcpgeek/internal/stats"
)

// flushTimeout bounds the final write to the sinks on shutdown.
const flushTimeout = 30 * time.Second

// Config contains engine configuration.
type Config struct {
	Params         *session.Params
	Source         source.Source
	Sinks          *stats.Fanout
	RestartOnDrops bool   // stop when the OS dropped packets during an interval
	MaxMemoryKB    uint64 // 0 disables the memory watchdog
	PacketLog      *slog.Logger
}

// Engine owns the flow tables and the record queue for one capture.
type Engine struct {
	params    *session.Params
	src       source.Source
	sinks     *stats.Fanout
	queue     *stats.Queue
	tcp       *session.Table[*session.TCPSession]
	udp       *session.Table[*session.UDPSession]
	packetLog *slog.Logger

	restartOnDrops bool
	maxMemoryKB    uint64

	counters Counters
	metrics  *packetMetrics

	// latest capture second, the idle clock for offline sources
	captureClock atomic.Int64
	// wall clock, replaced in tests
	now func() time.Time

	// control loop state
	prevDropped  uint64
	prevReceived uint64
	prevRejected uint64
	capture      atomic.Pointer[source.Stats]

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	stopped   bool
	reason    error
	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
}

// New creates an engine. The engine takes ownership of the source and the
// sinks and closes both when Run returns.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, core.ErrNoSource
	}
	if cfg.Params == nil {
		p := session.DefaultParams()
		cfg.Params = &p
	}
	if cfg.Sinks == nil {
		cfg.Sinks = stats.NewFanout(nil, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		params:         cfg.Params,
		src:            cfg.Source,
		sinks:          cfg.Sinks,
		queue:          stats.NewQueue(),
		packetLog:      cfg.PacketLog,
		restartOnDrops: cfg.RestartOnDrops,
		maxMemoryKB:    cfg.MaxMemoryKB,
		metrics:        newPacketMetrics(),
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
	}
	e.tcp = session.NewTCPTable(e.params, e)
	e.udp = session.NewUDPTable(e.params, e)
	return e, nil
}

// Enqueue queues a statistics record for the next flush. Sessions call it
// through the tables.
func (e *Engine) Enqueue(rec core.StatRecord) {
	e.queue.Enqueue(rec)
}

// Run captures until the source is exhausted, ctx is done or Stop is called,
// then drains every flow and writes the last records. It returns the reason
// the engine stopped when that reason is a fault: a capture error,
// core.ErrMemoryLimit or core.ErrCaptureDropped.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.cancel)
	defer stop()

	started := e.now()
	e.startedAt.Store(&started)
	e.running.Store(true)
	slog.Info("engine starting",
		"live", e.src.Live(),
		"granularity", e.params.Granularity,
		"idle_timeout", e.params.IdleTimeout,
		"max_sessions", e.params.MaxSessions,
		"dedup_window", e.params.DedupWindow,
		"dedup_timeout", e.params.DedupTimeout)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.controlLoop()
	}()

	err := e.captureLoop()
	e.cancel()
	wg.Wait()

	e.shutdown()
	e.running.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reason != nil {
		return e.reason
	}
	return err
}

// Stop asks the engine to finish. A nil reason is a regular stop. Only the
// first call counts.
func (e *Engine) Stop(reason error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.reason = reason
	e.mu.Unlock()

	if reason != nil {
		slog.Warn("stopping capture", "reason", reason)
	} else {
		slog.Info("stopping capture")
	}
	e.cancel()
}

// captureLoop reads and processes packets until the source or the engine
// context ends.
func (e *Engine) captureLoop() error {
	var pkt core.Packet
	for {
		raw, err := e.src.ReadPacket(e.ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Info("capture file exhausted", "packets", e.counters.Received.Load())
				return nil
			case e.ctx.Err() != nil:
				return nil
			default:
				slog.Error("capture failed", "error", err)
				return fmt.Errorf("capture: %w", err)
			}
		}
		e.process(raw, &pkt)
	}
}

// process runs one frame through the decoder and the flow tables.
func (e *Engine) process(raw core.RawPacket, pkt *core.Packet) {
	e.counters.Received.Add(1)
	if sec := raw.Timestamp.Unix(); sec > e.captureClock.Load() {
		e.captureClock.Store(sec)
	}

	result := decoder.Decode(raw, pkt)
	e.metrics.observeDecode(result)

	var (
		res  session.Result
		line string
	)
	switch result {
	case core.GoodTCP:
		e.counters.TCP.Add(1)
		res = e.tcp.Update(pkt)
		e.metrics.observeOutcome(core.ProtoTCP, res.Outcome)
		if e.packetLog != nil {
			line = describeTCP(pkt, res)
		}
	case core.GoodUDP:
		e.counters.UDP.Add(1)
		res = e.udp.Update(pkt)
		e.metrics.observeOutcome(core.ProtoUDP, res.Outcome)
		if e.packetLog != nil {
			line = describeUDP(pkt, res)
		}
	default:
		e.counters.DecodeErrors.Add(1)
		if e.packetLog != nil {
			line = result.String()
		}
	}
	if result.OK() && res.Outcome == session.Void {
		e.counters.Ignored.Add(1)
	}

	if e.packetLog != nil {
		e.packetLog.Debug(packetTime(raw.Timestamp) + "; " + line)
	}
}

func (e *Engine) controlLoop() {
	ticker := time.NewTicker(e.params.Granularity)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			slog.Info("control loop stopped")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick is one control interval: report, sweep, flush and self-check.
func (e *Engine) tick() {
	tcpStats, udpStats := e.tcp.Stats(), e.udp.Stats()
	if tcpStats.Rejected > e.prevRejected {
		slog.Warn("maximum of simultaneously monitored TCP sessions reached during last interval, new sessions can't be monitored",
			"max_sessions", e.params.MaxSessions,
			"rejected", tcpStats.Rejected-e.prevRejected)
	}
	e.prevRejected = tcpStats.Rejected

	received := e.counters.Received.Load()
	slog.Info("flow tables",
		"tcp_flows", tcpStats.Flows,
		"udp_flows", udpStats.Flows,
		"packets", received-e.prevReceived,
		"queued_records", e.queue.Len())
	e.prevReceived = received

	dropped := e.checkCapture()

	now := e.clock()
	tcpIdle := e.tcp.CleanIdle(now)
	udpIdle := e.udp.CleanIdle(now)
	metrics.EvictedTotal.WithLabelValues("tcp", metrics.ReasonIdle).Add(float64(tcpIdle))
	metrics.EvictedTotal.WithLabelValues("udp", metrics.ReasonIdle).Add(float64(udpIdle))
	slog.Info("idle sessions aggregated and erased", "tcp", tcpIdle, "udp", udpIdle)

	ctx, cancel := context.WithTimeout(context.Background(), e.params.Granularity)
	e.flush(ctx)
	cancel()
	e.updateGauges()

	if e.maxMemoryKB > 0 {
		if used := memoryKB(); used >= e.maxMemoryKB {
			slog.Warn("memory usage above limit", "used_kb", used, "limit_kb", e.maxMemoryKB)
			e.Stop(fmt.Errorf("%w: %d KB used, limit %d KB", core.ErrMemoryLimit, used, e.maxMemoryKB))
			return
		}
	}
	if e.restartOnDrops && dropped > 0 {
		e.Stop(fmt.Errorf("%w: %d packets dropped by the OS during last interval", core.ErrCaptureDropped, dropped))
	}
}

// checkCapture logs the capture counters of a live source and returns the
// OS drops since the previous interval.
func (e *Engine) checkCapture() uint64 {
	if !e.src.Live() {
		return 0
	}
	st, err := e.src.Stats()
	if err != nil {
		slog.Warn("failed to read capture statistics", "error", err)
		return 0
	}
	e.capture.Store(&st)

	var dropped uint64
	if st.Dropped >= e.prevDropped {
		dropped = st.Dropped - e.prevDropped
	}
	e.prevDropped = st.Dropped
	metrics.CaptureDropsTotal.Add(float64(dropped))

	slog.Info("capture statistics",
		"received", st.Received,
		"if_dropped", st.IfDropped,
		"os_dropped", dropped)
	return dropped
}

// clock returns the second used for the idle sweep: wall time for live
// capture, the latest packet time for capture files.
func (e *Engine) clock() int64 {
	if e.src.Live() {
		return e.now().Unix()
	}
	return e.captureClock.Load()
}

// flush writes every queued record to the sinks.
func (e *Engine) flush(ctx context.Context) {
	records := e.queue.Drain()
	metrics.QueueDepth.Set(0)
	if len(records) == 0 {
		return
	}
	if err := e.sinks.Write(ctx, records); err != nil {
		slog.Error("failed to write statistics", "records", len(records), "error", err)
		return
	}
	slog.Debug("statistics written", "records", len(records))
}

func (e *Engine) updateGauges() {
	e.metrics.sessions.tcp.Set(float64(e.tcp.Len()))
	e.metrics.sessions.udp.Set(float64(e.udp.Len()))
	metrics.QueueDepth.Set(float64(e.queue.Len()))
}

// shutdown drains every flow, writes the last records and releases the
// source and the sinks.
func (e *Engine) shutdown() {
	tcpN := e.tcp.FinalDrain()
	udpN := e.udp.FinalDrain()
	metrics.EvictedTotal.WithLabelValues("tcp", metrics.ReasonDrain).Add(float64(tcpN))
	metrics.EvictedTotal.WithLabelValues("udp", metrics.ReasonDrain).Add(float64(udpN))
	slog.Info("flows drained", "tcp", tcpN, "udp", udpN)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	e.flush(ctx)
	e.updateGauges()

	if e.src.Live() {
		if st, err := e.src.Stats(); err == nil {
			e.capture.Store(&st)
			slog.Info("capture stopped",
				"received", st.Received,
				"dropped", st.Dropped,
				"if_dropped", st.IfDropped)
		}
	}
	if err := e.src.Close(); err != nil {
		slog.Warn("failed to close source", "error", err)
	}
	if err := e.sinks.Close(); err != nil {
		slog.Warn("failed to close sinks", "error", err)
	}

	c := e.counters.Snapshot()
	slog.Info("engine stopped",
		"packets", c.Received,
		"tcp", c.TCP,
		"udp", c.UDP,
		"decode_errors", c.DecodeErrors)
}

// memoryKB returns the memory obtained from the OS by the runtime.
func memoryKB() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys / 1024
}
