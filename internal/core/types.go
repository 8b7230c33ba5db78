package core

import "fmt"

// Protocol is the IP protocol number of a decoded packet.
type Protocol uint8

const (
	ProtoTCP Protocol = 6
	ProtoUDP Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return fmt.Sprintf("IP(%d)", uint8(p))
	}
}

// MarshalText renders the protocol name in JSON and YAML output.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// TCPFlags holds the TCP control bits in wire order.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 0x01
	FlagSYN TCPFlags = 0x02
	FlagRST TCPFlags = 0x04
	FlagPSH TCPFlags = 0x08
	FlagACK TCPFlags = 0x10
)

func (f TCPFlags) Has(flag TCPFlags) bool {
	return f&flag != 0
}

// String renders the flags as "[FSRPA..]" with dots for unset bits.
func (f TCPFlags) String() string {
	b := []byte("[.......]")
	if f.Has(FlagFIN) {
		b[1] = 'F'
	}
	if f.Has(FlagSYN) {
		b[2] = 'S'
	}
	if f.Has(FlagRST) {
		b[3] = 'R'
	}
	if f.Has(FlagPSH) {
		b[4] = 'P'
	}
	if f.Has(FlagACK) {
		b[5] = 'A'
	}
	return string(b)
}

// DecodeResult classifies the outcome of decoding one frame.
type DecodeResult uint8

const (
	GoodTCP DecodeResult = iota
	GoodUDP
	UnknownLinkType
	NotIPPacket
	UnknownL3Type
	BadIPHeaderLength
	BadTCPHeaderLength
	BadUDPLength
)

var decodeResultText = [...]string{
	GoodTCP:            "TCP",
	GoodUDP:            "UDP",
	UnknownLinkType:    "Unknown link type",
	NotIPPacket:        "Not IP packet",
	UnknownL3Type:      "Unknown layer 3",
	BadIPHeaderLength:  "Invalid IP header length",
	BadTCPHeaderLength: "Invalid TCP header length",
	BadUDPLength:       "Invalid UDP packet length",
}

var decodeResultLabel = [...]string{
	GoodTCP:            "tcp",
	GoodUDP:            "udp",
	UnknownLinkType:    "unknown_link_type",
	NotIPPacket:        "not_ip",
	UnknownL3Type:      "unknown_l3",
	BadIPHeaderLength:  "bad_ip_header",
	BadTCPHeaderLength: "bad_tcp_header",
	BadUDPLength:       "bad_udp_length",
}

// String returns the text used in per-packet debug lines.
func (r DecodeResult) String() string {
	if int(r) < len(decodeResultText) {
		return decodeResultText[r]
	}
	return "Really strange packet"
}

// Label returns a metric-friendly name.
func (r DecodeResult) Label() string {
	if int(r) < len(decodeResultLabel) {
		return decodeResultLabel[r]
	}
	return "unknown"
}

// OK reports whether the frame decoded into a trackable segment.
func (r DecodeResult) OK() bool {
	return r == GoodTCP || r == GoodUDP
}
