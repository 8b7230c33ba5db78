package session

import "firestige.xyz/tcpgeek/internal/core"

// privilegedPortLimit bounds the well-known port range.
const privilegedPortLimit = 1024

// senderIsClient decides, from the first packet of a flow, whether its
// sender is the client. Handshake flags win for TCP, then known service
// ports, then the privileged range, then the higher port is the client.
func senderIsClient(pkt *core.Packet, ports *core.PortSet) bool {
	if pkt.Proto == core.ProtoTCP && pkt.Flags.Has(core.FlagSYN) {
		return !pkt.Flags.Has(core.FlagACK)
	}
	switch {
	case ports.Contains(pkt.DstPort):
		return true
	case ports.Contains(pkt.SrcPort):
		return false
	case pkt.DstPort < privilegedPortLimit:
		return true
	case pkt.SrcPort < privilegedPortLimit:
		return false
	default:
		return pkt.SrcPort > pkt.DstPort
	}
}

// resolveKey returns the flow key of a first packet and whether the packet
// is a request.
func resolveKey(pkt *core.Packet, ports *core.PortSet) (core.FlowKey, bool) {
	if senderIsClient(pkt, ports) {
		return core.RequestKey(pkt), true
	}
	return core.ResponseKey(pkt), false
}
