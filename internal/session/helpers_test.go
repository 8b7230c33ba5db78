package session

import (
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/tcpgeek/internal/core"
)

type recorder struct {
	mu      sync.Mutex
	records []core.StatRecord
}

func (r *recorder) Enqueue(rec core.StatRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) all() []core.StatRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.StatRecord(nil), r.records...)
}

var (
	clientAddr = netip.MustParseAddr("10.0.0.1")
	serverAddr = netip.MustParseAddr("10.0.0.2")
)

const baseTs = int64(1_700_000_000_000_000)

func testParams() *Params {
	p := DefaultParams()
	p.Granularity = time.Hour
	p.ServicePorts, _ = core.ParsePortSet("80,443")
	return &p
}

// seg builds a TCP segment. Timestamps are microseconds after baseTs.
type seg struct {
	fromClient bool
	flags      core.TCPFlags
	seq, ack   uint32
	payload    uint32
	at         int64
	dup        uint64 // fingerprint override, derived from seq when zero
}

func (s seg) packet() *core.Packet {
	p := &core.Packet{
		Timestamp:  baseTs + s.at,
		Proto:      core.ProtoTCP,
		Flags:      s.flags,
		Seq:        s.seq,
		Ack:        s.ack,
		PayloadLen: s.payload,
		TotalLen:   54 + s.payload,
	}
	if s.fromClient {
		p.SrcIP, p.DstIP, p.SrcPort, p.DstPort = clientAddr, serverAddr, 50000, 80
	} else {
		p.SrcIP, p.DstIP, p.SrcPort, p.DstPort = serverAddr, clientAddr, 80, 50000
	}
	if s.flags.Has(core.FlagSYN) {
		p.NextSeq = s.seq + 1
	} else {
		p.NextSeq = s.seq + s.payload
	}
	p.DupID = s.dup
	if p.DupID == 0 {
		p.DupID = uint64(s.at)<<32 | uint64(s.seq)
	}
	return p
}

func datagram(fromClient bool, payload uint32, at int64, dup uint64) *core.Packet {
	p := &core.Packet{
		Timestamp:  baseTs + at,
		Proto:      core.ProtoUDP,
		PayloadLen: payload,
		TotalLen:   42 + payload,
		DupID:      dup,
	}
	if fromClient {
		p.SrcIP, p.DstIP, p.SrcPort, p.DstPort = clientAddr, serverAddr, 40000, 53
	} else {
		p.SrcIP, p.DstIP, p.SrcPort, p.DstPort = serverAddr, clientAddr, 53, 40000
	}
	return p
}
