package session

import "firestige.xyz/tcpgeek/internal/core"

// UDPSession is the state of one UDP flow: deduplication and counters only.
type UDPSession struct {
	key    core.FlowKey
	params *Params
	rec    Recorder

	client endpoint
	server endpoint

	lastTs       int64
	lastSavedSec int64
}

// NewUDPSession creates a session from the first datagram of a flow.
func NewUDPSession(pkt *core.Packet, params *Params, rec Recorder) (*UDPSession, bool) {
	key, isRequest := resolveKey(pkt, params.ServicePorts)
	s := &UDPSession{
		key:          key,
		params:       params,
		rec:          rec,
		client:       newEndpoint(params.DedupWindow),
		server:       newEndpoint(params.DedupWindow),
		lastTs:       pkt.Timestamp,
		lastSavedSec: pkt.Seconds(),
	}
	ep := &s.server
	if isRequest {
		ep = &s.client
	}
	ep.duplicate(pkt)
	ep.count(pkt, true)
	return s, true
}

// Key returns the role-resolved flow key.
func (s *UDPSession) Key() core.FlowKey {
	return s.key
}

// LastSeen returns the capture second of the last datagram.
func (s *UDPSession) LastSeen() int64 {
	return s.lastTs / 1_000_000
}

// Update counts pkt unless it duplicates a recent datagram.
func (s *UDPSession) Update(pkt *core.Packet) Result {
	ep := &s.server
	if s.key.IsRequest(pkt) {
		ep = &s.client
	}

	res := Result{Outcome: GoodKnown}
	if ep.duplicate(pkt) {
		res.Outcome = Duplicate
	} else {
		ep.count(pkt, true)
	}
	ep.settleDedup(pkt.Timestamp, s.params.dedupTimeoutMicros())

	s.lastTs = pkt.Timestamp
	if pkt.Seconds()-s.lastSavedSec >= s.params.granularitySeconds() {
		s.aggregate(pkt.Timestamp)
		s.lastSavedSec = pkt.Seconds()
	}
	return res
}

func (s *UDPSession) aggregate(ts int64) {
	s.rec.Enqueue(core.StatRecord{
		Timestamp: ts,
		Key:       s.key,
		Client:    s.client.snapshot(),
		Server:    s.server.snapshot(),
	})
}

// Flush emits the pending counters.
func (s *UDPSession) Flush() {
	s.aggregate(s.lastTs)
}

// Close emits the last counters of the flow.
func (s *UDPSession) Close() {
	s.aggregate(s.lastTs)
}
