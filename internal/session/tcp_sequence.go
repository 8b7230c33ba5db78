package session

import (
	"math"

	"firestige.xyz/tcpgeek/internal/core"
)

// tcpEndpoint adds sequence tracking to an endpoint.
type tcpEndpoint struct {
	endpoint

	last uint32 // sequence of the last in-order segment
	next uint32 // expected next sequence
	ack  uint32 // last ack number sent by this direction
	gaps GapTracker

	lastPacket  core.Packet
	lastPayload core.Packet // zero Timestamp until a payload is seen
}

func (ep *tcpEndpoint) advance(pkt *core.Packet) {
	ep.last = pkt.Seq
	ep.next = pkt.NextSeq
	ep.ack = pkt.Ack
}

// classify compares pkt against the expected sequence of this direction,
// records and reconciles gaps, and updates the out-of-order and retransmit
// counters.
func (ep *tcpEndpoint) classify(pkt *core.Packet, res *Result) Outcome {
	if pkt.Flags.Has(core.FlagRST) {
		return GoodKnown
	}
	if pkt.Flags.Has(core.FlagSYN) {
		ep.advance(pkt)
		return GoodKnown
	}
	if pkt.PayloadLen == 0 && pkt.Ack != ep.ack {
		// pure ACK
		ep.ack = pkt.Ack
		return GoodKnown
	}

	diff := int64(pkt.Seq) - int64(ep.next)
	switch {
	case diff == 0 || diff == 1 || (diff == -1 && pkt.PayloadLen > 1):
		// +1 shows up after FIN, -1 with data after a keepalive
		ep.advance(pkt)
		return GoodKnown
	case diff == -1:
		ep.ack = pkt.Ack
		return Keepalive
	case diff > 1 && diff < wrapThreshold:
		ep.gaps.Add(ep.next, pkt.Seq)
		res.GapStart, res.GapEnd = ep.next, pkt.Seq
		ep.stats.OutOfOrder++
		ep.advance(pkt)
		return NewGap
	case diff < -wrapThreshold:
		// the sequence wrapped before the expectation did
		ep.gaps.Add(ep.next, math.MaxUint32)
		ep.gaps.Add(0, pkt.Seq)
		res.GapStart, res.GapEnd = 0, pkt.Seq
		ep.stats.OutOfOrder++
		ep.advance(pkt)
		return NewGap
	}

	// the segment starts behind the expectation
	if rec, ok := ep.gaps.Contains(pkt.Seq, pkt.NextSeq); ok {
		ep.stats.OutOfOrder++
		res.GapStart, res.GapEnd = rec.Start, rec.End
		if !rec.Retransmit {
			return GapRecovery
		}
		res.Recovered = true
	}

	ep.stats.Retransmits++
	if grow := int64(pkt.NextSeq) - int64(ep.next); grow > 0 && grow < wrapThreshold {
		// retransmit carrying more data than the original
		ep.next = pkt.NextSeq
	}
	return Retransmit
}
