package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/tcpgeek/internal/core"
)

const ipv4HeaderMinLen = 20

// decodeIPv4 fills the IP level fields of pkt and returns the transport
// segment. pkt.PayloadLen holds the IP payload length on return and
// pkt.DupID the IP identification, both refined by the transport decoder.
func decodeIPv4(data []byte, pkt *core.Packet) ([]byte, core.DecodeResult) {
	if len(data) < ipv4HeaderMinLen {
		return nil, core.BadIPHeaderLength
	}
	if data[0]>>4 != 4 {
		return nil, core.NotIPPacket
	}

	// IHL (lower 4 bits of byte 0) in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return nil, core.BadIPHeaderLength
	}

	// Total Length (2 bytes at offset 2)
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < headerLen {
		return nil, core.BadIPHeaderLength
	}

	// Identification (2 bytes at offset 4)
	pkt.DupID = uint64(binary.BigEndian.Uint16(data[4:6]))

	// Protocol (1 byte at offset 9)
	pkt.Proto = core.Protocol(data[9])

	// Source and destination addresses (offsets 12 and 16)
	pkt.SrcIP = netip.AddrFrom4([4]byte(data[12:16]))
	pkt.DstIP = netip.AddrFrom4([4]byte(data[16:20]))

	pkt.PayloadLen = uint32(totalLen - headerLen)

	// Trailing link padding is not part of the segment; a snapped frame
	// keeps whatever was captured.
	end := len(data)
	if totalLen < end {
		end = totalLen
	}
	return data[headerLen:end], proceed
}
