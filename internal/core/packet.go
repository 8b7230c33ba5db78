// Package core defines the packet, flow and statistics records shared by the
// decoder, the session engine and the statistics writers. It has no
// external dependencies.
package core

import (
	"net/netip"
	"time"
)

// LinkType is the capture link-layer type (DLT value) of a RawPacket.
type LinkType uint16

// RawPacket is a captured frame as handed over by a capture source.
type RawPacket struct {
	Data       []byte    // Raw frame data, may alias the capture buffer
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length
	LinkType   LinkType
}

// Packet is the decoded view of one TCP or UDP segment.
//
// A capture loop owns a single Packet and the decoder overwrites it for every
// frame. Sessions copy the value when they need to keep it.
type Packet struct {
	Timestamp  int64 // Microseconds since the epoch
	TotalLen   uint32
	PayloadLen uint32
	Proto      Protocol

	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16

	// TCP-specific fields
	Flags   TCPFlags
	Seq     uint32
	NextSeq uint32
	Ack     uint32

	// DupID fingerprints the segment content for duplicate detection.
	DupID uint64
}

// Seconds returns the whole seconds part of the capture timestamp.
func (p *Packet) Seconds() int64 {
	return p.Timestamp / 1_000_000
}

// Time converts the capture timestamp back to time.Time.
func (p *Packet) Time() time.Time {
	return time.UnixMicro(p.Timestamp)
}

// SYN reports a SYN without ACK.
func (p *Packet) SYN() bool {
	return p.Flags.Has(FlagSYN) && !p.Flags.Has(FlagACK)
}

// SYNACK reports a SYN with ACK.
func (p *Packet) SYNACK() bool {
	return p.Flags.Has(FlagSYN) && p.Flags.Has(FlagACK)
}

// HasPayload reports whether the segment carries data.
func (p *Packet) HasPayload() bool {
	return p.PayloadLen > 0
}
