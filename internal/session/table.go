package session

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/tcpgeek/internal/core"
)

// Session is the per-flow state kept by a Table.
type Session interface {
	Key() core.FlowKey
	Update(pkt *core.Packet) Result
	LastSeen() int64 // capture seconds of the last packet
	Flush()          // emit pending statistics
	Close()          // finalize and emit the last statistics
}

// TableStats are cumulative table counters.
type TableStats struct {
	Flows    int    `json:"flows"`
	Created  uint64 `json:"created"`
	Rejected uint64 `json:"rejected"` // new flows not tracked because the table was full
	Evicted  uint64 `json:"evicted"`
	Reopened uint64 `json:"reopened"` // flows replaced by a new connection on the same 5-tuple
}

// Table maps flow keys to sessions of one protocol. All methods are safe for
// concurrent use; one mutex guards the whole map.
type Table[S Session] struct {
	mu     sync.Mutex
	flows  map[core.FlowKey]S
	params *Params

	open    func(pkt *core.Packet) (S, bool)
	reopens func(s S, pkt *core.Packet) bool
	admits  func(pkt *core.Packet) bool

	created  atomic.Uint64
	rejected atomic.Uint64
	evicted  atomic.Uint64
	reopened atomic.Uint64
}

// NewTCPTable creates the TCP flow table.
func NewTCPTable(params *Params, rec Recorder) *Table[*TCPSession] {
	return &Table[*TCPSession]{
		flows:  make(map[core.FlowKey]*TCPSession),
		params: params,
		open: func(pkt *core.Packet) (*TCPSession, bool) {
			return NewTCPSession(pkt, params, rec)
		},
		reopens: (*TCPSession).reopens,
		admits: func(pkt *core.Packet) bool {
			return !pkt.Flags.Has(core.FlagRST)
		},
	}
}

// NewUDPTable creates the UDP flow table.
func NewUDPTable(params *Params, rec Recorder) *Table[*UDPSession] {
	return &Table[*UDPSession]{
		flows:  make(map[core.FlowKey]*UDPSession),
		params: params,
		open: func(pkt *core.Packet) (*UDPSession, bool) {
			return NewUDPSession(pkt, params, rec)
		},
	}
}

// lookup tries both role assignments of pkt.
func (t *Table[S]) lookup(pkt *core.Packet) (S, bool) {
	if s, ok := t.flows[core.RequestKey(pkt)]; ok {
		return s, true
	}
	s, ok := t.flows[core.ResponseKey(pkt)]
	return s, ok
}

// Update dispatches pkt to its flow, creating the flow when there is room.
func (t *Table[S]) Update(pkt *core.Packet) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(pkt)
	if ok && t.reopens != nil && t.reopens(s, pkt) {
		s.Flush()
		delete(t.flows, s.Key())
		t.reopened.Add(1)
		ok = false
	}
	if ok {
		return s.Update(pkt)
	}

	if t.admits != nil && !t.admits(pkt) {
		return Result{Outcome: Void}
	}
	if t.params.MaxSessions > 0 && len(t.flows) >= t.params.MaxSessions {
		t.rejected.Add(1)
		return Result{Outcome: Void}
	}
	s, ok = t.open(pkt)
	if !ok {
		return Result{Outcome: Void}
	}
	t.flows[s.Key()] = s
	t.created.Add(1)
	return Result{Outcome: GoodNew}
}

// CleanIdle closes and removes every flow silent for longer than the idle
// timeout at capture second now. It returns the number of flows removed.
func (t *Table[S]) CleanIdle(now int64) int {
	timeout := t.params.idleTimeoutSeconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key, s := range t.flows {
		if now-s.LastSeen() > timeout {
			s.Close()
			delete(t.flows, key)
			n++
		}
	}
	t.evicted.Add(uint64(n))
	return n
}

// FinalDrain closes and removes every flow. It returns the number of flows
// removed.
func (t *Table[S]) FinalDrain() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.flows)
	for key, s := range t.flows {
		s.Close()
		delete(t.flows, key)
	}
	t.evicted.Add(uint64(n))
	return n
}

// Len returns the number of tracked flows.
func (t *Table[S]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Stats returns the table counters.
func (t *Table[S]) Stats() TableStats {
	return TableStats{
		Flows:    t.Len(),
		Created:  t.created.Load(),
		Rejected: t.rejected.Load(),
		Evicted:  t.evicted.Load(),
		Reopened: t.reopened.Load(),
	}
}
