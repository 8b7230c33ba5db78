package session

import "firestige.xyz/tcpgeek/internal/core"

// TCPSession is the state of one TCP flow.
type TCPSession struct {
	key    core.FlowKey
	params *Params
	rec    Recorder

	client tcpEndpoint
	server tcpEndpoint

	clientEnded bool
	errBits     uint8

	// RTT components in microseconds, measured once from the handshake
	serverRTT int64
	clientRTT int64
	rttKnown  bool

	// operation timing, microseconds
	phase         Phase
	operations    uint64
	clientIdle    int64
	request       int64
	think         int64
	response      int64
	explained     int64 // cumulative over flushes
	requestStart  int64
	responseStart int64

	firstTs      int64
	lastTs       int64
	lastSavedSec int64
}

// NewTCPSession creates a session from the first packet of a flow. It
// returns false for SYN+FIN and SYN+RST segments, which never open a flow.
func NewTCPSession(pkt *core.Packet, params *Params, rec Recorder) (*TCPSession, bool) {
	if pkt.Flags.Has(core.FlagSYN) && (pkt.Flags.Has(core.FlagFIN) || pkt.Flags.Has(core.FlagRST)) {
		return nil, false
	}

	key, isRequest := resolveKey(pkt, params.ServicePorts)
	s := &TCPSession{
		key:          key,
		params:       params,
		rec:          rec,
		client:       tcpEndpoint{endpoint: newEndpoint(params.DedupWindow)},
		server:       tcpEndpoint{endpoint: newEndpoint(params.DedupWindow)},
		firstTs:      pkt.Timestamp,
		lastTs:       pkt.Timestamp,
		lastSavedSec: pkt.Seconds(),
	}

	if isRequest {
		s.client.duplicate(pkt)
		s.client.count(pkt, true)
		s.client.lastPacket = *pkt
		if pkt.HasPayload() {
			s.client.lastPayload = *pkt
		}
		s.client.last, s.client.next, s.client.ack = pkt.Seq, pkt.NextSeq, pkt.Ack
		s.server.last, s.server.next = pkt.Ack, pkt.Ack
		if pkt.HasPayload() {
			s.initTiming(pkt)
		}
	} else {
		s.server.duplicate(pkt)
		s.server.count(pkt, true)
		s.server.lastPacket = *pkt
		if pkt.HasPayload() {
			s.server.lastPayload = *pkt
		}
		s.server.last, s.server.next, s.server.ack = pkt.Seq, pkt.NextSeq, pkt.Ack
		s.client.last, s.client.next = pkt.Ack, pkt.Ack
	}
	return s, true
}

// Key returns the role-resolved flow key.
func (s *TCPSession) Key() core.FlowKey {
	return s.key
}

// LastSeen returns the capture second of the last packet.
func (s *TCPSession) LastSeen() int64 {
	return s.lastTs / 1_000_000
}

// Phase returns the current operation phase.
func (s *TCPSession) Phase() Phase {
	return s.phase
}

// ErrorBits returns the accumulated session error bits.
func (s *TCPSession) ErrorBits() uint8 {
	return s.errBits
}

// RTT returns the handshake round trip in microseconds, 0 when unknown.
func (s *TCPSession) RTT() int64 {
	return s.serverRTT + s.clientRTT
}

// ActiveGaps returns the unresolved gap counts per direction.
func (s *TCPSession) ActiveGaps() (client, server int) {
	return s.client.gaps.Len(), s.server.gaps.Len()
}

// reopens reports whether pkt starts a new connection on the 5-tuple of
// this flow. A repeated SYN of a connection still in handshake does not.
func (s *TCPSession) reopens(pkt *core.Packet) bool {
	return pkt.SYN() && !s.client.lastPacket.Flags.Has(core.FlagSYN)
}

// Update classifies pkt and folds it into the flow state.
func (s *TCPSession) Update(pkt *core.Packet) Result {
	var res Result
	timeout := s.params.dedupTimeoutMicros()

	if s.key.IsRequest(pkt) {
		res.Outcome = s.updateRequest(pkt, &res)
		s.client.settleDedup(pkt.Timestamp, timeout)
	} else {
		res.Outcome = s.updateResponse(pkt, &res)
		s.server.settleDedup(pkt.Timestamp, timeout)
	}

	s.lastTs = pkt.Timestamp
	if pkt.Seconds()-s.lastSavedSec >= s.params.granularitySeconds() {
		s.aggregate(pkt.Timestamp)
		s.lastSavedSec = pkt.Seconds()
	}

	res.Phase = s.phase
	return res
}

func (s *TCPSession) updateRequest(pkt *core.Packet, res *Result) Outcome {
	if s.client.duplicate(pkt) {
		return Duplicate
	}

	outcome := s.client.classify(pkt, res)
	s.client.count(pkt, outcome != Retransmit)

	if pkt.Flags.Has(core.FlagFIN) || pkt.Flags.Has(core.FlagRST) {
		s.clientEnded = true
	}
	if outcome == GoodKnown {
		s.defineRTT(pkt)
	}

	if pkt.HasPayload() {
		switch s.phase {
		case NotStarted:
			s.initTiming(pkt)
		case RequestStarted:
			if prev := &s.client.lastPayload; prev.Flags.Has(core.FlagPSH) {
				// a new request segment after a pushed one
				s.request += elapsed(s.requestStart, prev.Timestamp)
				s.requestStart = pkt.Timestamp
				s.clientIdle += elapsed(prev.Timestamp, pkt.Timestamp)
			}
		case ResponseStarted:
			s.completeOperation(pkt)
		}
		s.client.lastPayload = *pkt
	}
	s.client.lastPacket = *pkt
	return outcome
}

func (s *TCPSession) updateResponse(pkt *core.Packet, res *Result) Outcome {
	if s.server.duplicate(pkt) {
		return Duplicate
	}

	if pkt.Flags.Has(core.FlagRST) && !s.client.lastPacket.Flags.Has(core.FlagFIN) {
		if s.client.lastPacket.Flags.Has(core.FlagSYN) {
			s.errBits |= core.ErrBitConnRefused
		} else {
			s.errBits |= core.ErrBitServerReset
		}
	}

	outcome := s.server.classify(pkt, res)
	s.server.count(pkt, outcome != Retransmit)

	if pkt.HasPayload() {
		if s.phase == RequestStarted {
			s.startResponse(pkt)
		}
		s.server.lastPayload = *pkt
	}
	s.server.lastPacket = *pkt
	return outcome
}
