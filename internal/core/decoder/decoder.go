// Package decoder turns captured link-layer frames into core.Packet records.
//
// Only IPv4 carrying TCP or UDP is decoded. Every other frame maps to a
// non-fatal core.DecodeResult so the caller can count it and move on.
package decoder

import "firestige.xyz/tcpgeek/internal/core"

// Decode parses raw into pkt and classifies the frame. pkt is overwritten
// field by field so one value can be reused for every frame of a capture
// loop; its content is only meaningful when the result is OK.
func Decode(raw core.RawPacket, pkt *core.Packet) core.DecodeResult {
	pkt.Timestamp = raw.Timestamp.UnixMicro()
	pkt.TotalLen = raw.OrigLen

	l3, res := stripLinkLayer(raw.Data, raw.LinkType)
	if res != proceed {
		return res
	}

	ip, res := decodeIPv4(l3, pkt)
	if res != proceed {
		return res
	}

	switch pkt.Proto {
	case core.ProtoTCP:
		return decodeTCP(ip, pkt)
	case core.ProtoUDP:
		return decodeUDP(ip, pkt)
	default:
		return core.UnknownL3Type
	}
}

// proceed is returned by the layer decoders when the next layer should be
// decoded. It never escapes Decode.
const proceed core.DecodeResult = 0xff
