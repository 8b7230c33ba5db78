package decoder

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tcpgeek/internal/core"
)

const (
	ethernetHeaderLen = 14
	sllHeaderLen      = 16
	vlanHeaderLen     = 4

	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
)

// stripLinkLayer removes the Ethernet or Linux cooked header and at most one
// 802.1Q tag.
func stripLinkLayer(data []byte, linkType core.LinkType) ([]byte, core.DecodeResult) {
	var hdrLen int
	switch layers.LinkType(linkType) {
	case layers.LinkTypeEthernet:
		hdrLen = ethernetHeaderLen
	case layers.LinkTypeLinuxSLL:
		hdrLen = sllHeaderLen
	default:
		return nil, core.UnknownLinkType
	}

	if len(data) < hdrLen {
		return nil, core.NotIPPacket
	}

	// EtherType / protocol field is the last 2 bytes of both headers
	etherType := binary.BigEndian.Uint16(data[hdrLen-2 : hdrLen])

	if etherType == etherTypeVLAN {
		if len(data) < hdrLen+vlanHeaderLen {
			return nil, core.NotIPPacket
		}
		// VLAN header: 2 bytes TCI + 2 bytes inner EtherType
		etherType = binary.BigEndian.Uint16(data[hdrLen+2 : hdrLen+4])
		hdrLen += vlanHeaderLen
	}

	if etherType != etherTypeIPv4 {
		return nil, core.NotIPPacket
	}
	return data[hdrLen:], proceed
}
