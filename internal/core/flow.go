package core

import (
	"fmt"
	"net/netip"
)

// FlowKey identifies a conversation with resolved client and server roles.
//
// Keys are role-aware: swapping client and server yields a different key.
type FlowKey struct {
	ClientIP   netip.Addr `json:"client_ip"`
	ServerIP   netip.Addr `json:"server_ip"`
	ClientPort uint16     `json:"client_port"`
	ServerPort uint16     `json:"server_port"`
	Proto      Protocol   `json:"protocol"`
}

// RequestKey is the key of p's flow if p travels client to server.
func RequestKey(p *Packet) FlowKey {
	return FlowKey{
		ClientIP:   p.SrcIP,
		ServerIP:   p.DstIP,
		ClientPort: p.SrcPort,
		ServerPort: p.DstPort,
		Proto:      p.Proto,
	}
}

// ResponseKey is the key of p's flow if p travels server to client.
func ResponseKey(p *Packet) FlowKey {
	return FlowKey{
		ClientIP:   p.DstIP,
		ServerIP:   p.SrcIP,
		ClientPort: p.DstPort,
		ServerPort: p.SrcPort,
		Proto:      p.Proto,
	}
}

// IsRequest reports whether p travels from the client to the server of k.
func (k FlowKey) IsRequest(p *Packet) bool {
	return p.DstPort == k.ServerPort && p.DstIP == k.ServerIP
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d > %s:%d/%s", k.ClientIP, k.ClientPort, k.ServerIP, k.ServerPort, k.Proto)
}
