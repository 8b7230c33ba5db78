package session

import "firestige.xyz/tcpgeek/internal/core"

// elapsed returns to - from, never negative.
func elapsed(from, to int64) int64 {
	if to > from {
		return to - from
	}
	return 0
}

// splitDelay attributes a measured delay d bordered by two buckets.
// Up to rtt of it is network transit, split evenly; the rest is host time
// and goes to host.
func splitDelay(d, rtt int64, host, before, after *int64) {
	if d >= rtt {
		*host += d - rtt
		*before += rtt / 2
		*after += rtt / 2
		return
	}
	*before += d / 2
	*after += d / 2
}

// defineRTT measures both RTT components on the ACK completing the
// handshake.
func (s *TCPSession) defineRTT(pkt *core.Packet) {
	if s.rttKnown {
		return
	}
	syn := &s.client.lastPacket
	synAck := &s.server.lastPacket
	if s.client.stats.Packets == 2 && s.server.stats.Packets == 1 &&
		syn.Flags.Has(core.FlagSYN) && synAck.SYNACK() &&
		synAck.Timestamp > syn.Timestamp {
		s.serverRTT = synAck.Timestamp - syn.Timestamp
		s.clientRTT = elapsed(synAck.Timestamp, pkt.Timestamp)
		s.rttKnown = true
	}
}

// initTiming starts the first request of the flow.
func (s *TCPSession) initTiming(pkt *core.Packet) {
	if s.server.lastPacket.Flags.Has(core.FlagSYN) {
		// seen from the handshake: everything before the request minus setup
		s.clientIdle = elapsed(s.firstTs+s.serverRTT+s.clientRTT, pkt.Timestamp)
	} else if s.server.lastPayload.Timestamp != 0 {
		// joined mid-flow after a response
		if d := elapsed(s.server.lastPayload.Timestamp, pkt.Timestamp); d >= s.clientRTT {
			s.clientIdle += d - s.clientRTT
		}
	}
	s.request += s.clientRTT / 2
	s.phase = RequestStarted
	s.requestStart = pkt.Timestamp
}

// startResponse closes the request on the first response payload.
func (s *TCPSession) startResponse(pkt *core.Packet) {
	lastReq := s.client.lastPayload.Timestamp
	s.request += elapsed(s.requestStart, lastReq)
	splitDelay(elapsed(lastReq, pkt.Timestamp), s.serverRTT, &s.think, &s.request, &s.response)
	s.responseStart = pkt.Timestamp
	s.phase = ResponseStarted
}

// completeOperation closes the response on a new request payload.
func (s *TCPSession) completeOperation(pkt *core.Packet) {
	lastResp := s.server.lastPayload.Timestamp
	s.operations++
	s.response += elapsed(s.responseStart, lastResp)
	splitDelay(elapsed(lastResp, pkt.Timestamp), s.clientRTT, &s.clientIdle, &s.response, &s.request)
	s.phase = RequestStarted
	s.requestStart = pkt.Timestamp
}

// finalize closes whatever operation is open and derives the error bits of
// a flow that is going away.
func (s *TCPSession) finalize() {
	switch {
	case s.phase == ResponseStarted:
		s.operations++
		s.response += elapsed(s.responseStart, s.server.lastPayload.Timestamp) + s.clientRTT/2
	case s.errBits != 0:
	case s.phase == NotStarted:
		if s.client.lastPacket.Flags.Has(core.FlagSYN) && !s.server.lastPacket.Flags.Has(core.FlagSYN) {
			s.errBits |= core.ErrBitConnTimeout
		}
	case s.phase == RequestStarted:
		s.request += elapsed(s.requestStart, s.client.lastPayload.Timestamp) + s.serverRTT/2
		if !s.clientEnded {
			s.errBits |= core.ErrBitServerNoResponse
		}
	}
	// a finalized flow cannot close the same operation twice
	s.phase = NotStarted
}

// aggregate emits the statistics of the interval ending at ts and resets the
// rolling counters. Gaps, RTT and error bits are kept.
func (s *TCPSession) aggregate(ts int64) {
	s.explained += s.clientIdle + s.request + s.think + s.response
	rec := core.StatRecord{
		Timestamp:  ts,
		Key:        s.key,
		Client:     s.client.snapshot(),
		Server:     s.server.snapshot(),
		Operations: s.operations,
		ClientIdle: s.clientIdle,
		Request:    s.request,
		Think:      s.think,
		Response:   s.response,
		Idle:       elapsed(s.explained, s.lastTs-s.firstTs),
		ErrorBits:  s.errBits,
		RTT:        s.serverRTT + s.clientRTT,
	}
	rec.Client.ActiveGaps = uint64(s.client.gaps.Len())
	rec.Server.ActiveGaps = uint64(s.server.gaps.Len())
	s.rec.Enqueue(rec)

	s.operations = 0
	s.clientIdle, s.request, s.think, s.response = 0, 0, 0, 0
}

// Flush emits the pending statistics without closing operations.
func (s *TCPSession) Flush() {
	s.aggregate(s.lastTs)
}

// Close finalizes the flow and emits its last statistics.
func (s *TCPSession) Close() {
	s.finalize()
	s.aggregate(s.lastTs)
}
