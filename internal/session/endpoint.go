package session

import "firestige.xyz/tcpgeek/internal/core"

// endpoint is the state of one direction of a flow shared by TCP and UDP.
type endpoint struct {
	stats core.DirectionStats // rolling, reset on every flush

	dedup    *DuplicateWindow
	dedupOff bool // latched once the direction proved clean
	dupTotal uint64
	firstTs  int64
}

func newEndpoint(window int) endpoint {
	return endpoint{dedup: NewDuplicateWindow(window)}
}

// duplicate reports whether pkt repeats a recent packet of this direction and
// counts it if so.
func (ep *endpoint) duplicate(pkt *core.Packet) bool {
	if ep.firstTs == 0 {
		ep.firstTs = pkt.Timestamp
	}
	if ep.dedupOff || !ep.dedup.CheckAndInsert(pkt.DupID) {
		return false
	}
	ep.stats.Duplicates++
	ep.dupTotal++
	return true
}

// settleDedup switches deduplication off for good when the direction has not
// produced a single duplicate within timeout microseconds of its first
// packet.
func (ep *endpoint) settleDedup(ts, timeout int64) {
	if !ep.dedupOff && ep.dupTotal == 0 && ts-ep.firstTs > timeout {
		ep.dedupOff = true
	}
}

// count adds pkt to the packet and byte counters. Payload of retransmitted
// segments is not counted.
func (ep *endpoint) count(pkt *core.Packet, payload bool) {
	ep.stats.Packets++
	ep.stats.Bytes += uint64(pkt.TotalLen)
	if payload {
		ep.stats.Payload += uint64(pkt.PayloadLen)
	}
}

// snapshot returns the rolling counters and resets them.
func (ep *endpoint) snapshot() core.DirectionStats {
	s := ep.stats
	ep.stats = core.DirectionStats{}
	return s
}
