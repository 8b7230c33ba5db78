package decoder

import (
	"encoding/binary"

	"firestige.xyz/tcpgeek/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

// decodeTCP fills the TCP fields of pkt. seg is the captured part of the IP
// payload; pkt.PayloadLen carries the IP payload length on entry.
func decodeTCP(seg []byte, pkt *core.Packet) core.DecodeResult {
	if len(seg) < tcpHeaderMinLen {
		return core.BadTCPHeaderLength
	}

	// Data Offset (upper 4 bits of byte 12) in 32-bit words
	headerLen := uint32(seg[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || headerLen > pkt.PayloadLen {
		return core.BadTCPHeaderLength
	}

	// Source Port (2 bytes at offset 0)
	pkt.SrcPort = binary.BigEndian.Uint16(seg[0:2])

	// Destination Port (2 bytes at offset 2)
	pkt.DstPort = binary.BigEndian.Uint16(seg[2:4])

	// Sequence Number (4 bytes at offset 4)
	pkt.Seq = binary.BigEndian.Uint32(seg[4:8])

	// Acknowledgment Number (4 bytes at offset 8)
	pkt.Ack = binary.BigEndian.Uint32(seg[8:12])

	// Flags (lower 6 bits of byte 13), URG is not tracked
	pkt.Flags = core.TCPFlags(seg[13]) & (core.FlagFIN | core.FlagSYN | core.FlagRST | core.FlagPSH | core.FlagACK)

	// Checksum (2 bytes at offset 16)
	checksum := binary.BigEndian.Uint16(seg[16:18])

	pkt.PayloadLen -= headerLen
	if pkt.Flags.Has(core.FlagSYN) {
		pkt.NextSeq = pkt.Seq + 1
	} else {
		pkt.NextSeq = pkt.Seq + pkt.PayloadLen
	}

	pkt.DupID = tcpFingerprint(uint16(pkt.DupID), checksum, pkt.Seq)
	return core.GoodTCP
}

// decodeUDP fills the UDP fields of pkt.
func decodeUDP(seg []byte, pkt *core.Packet) core.DecodeResult {
	if len(seg) < udpHeaderLen {
		return core.BadUDPLength
	}

	// Length (2 bytes at offset 4), header included
	length := uint32(binary.BigEndian.Uint16(seg[4:6]))
	if length < udpHeaderLen {
		return core.BadUDPLength
	}

	pkt.SrcPort = binary.BigEndian.Uint16(seg[0:2])
	pkt.DstPort = binary.BigEndian.Uint16(seg[2:4])

	// Checksum (2 bytes at offset 6)
	checksum := binary.BigEndian.Uint16(seg[6:8])

	pkt.PayloadLen = length - udpHeaderLen
	pkt.Flags = 0
	pkt.Seq, pkt.NextSeq, pkt.Ack = 0, 0, 0

	payload := seg[udpHeaderLen:]
	if uint32(len(payload)) > pkt.PayloadLen {
		payload = payload[:pkt.PayloadLen]
	}
	pkt.DupID = udpFingerprint(uint16(pkt.DupID), checksum, payload)
	return core.GoodUDP
}
