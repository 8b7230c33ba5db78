package core

import (
	"fmt"
	"net/netip"
	"strings"
)

// Topology codes describing where a flow sits relative to the local subnets.
const (
	TopologyInbound  byte = 'i' // server inside, client outside
	TopologyOutbound byte = 'o' // server outside, client inside
	TopologyNeither  byte = 'n'
	TopologyBoth     byte = 'b'
)

// Subnets is the list of networks considered local.
type Subnets []netip.Prefix

// ParseSubnets parses a comma-separated CIDR list. Any invalid entry fails the
// whole list.
func ParseSubnets(list string) (Subnets, error) {
	var out Subnets
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(field)
		if err != nil || !prefix.Addr().Is4() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSubnet, field)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

// Contains reports whether addr belongs to any local subnet.
func (s Subnets) Contains(addr netip.Addr) bool {
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Topology classifies a client/server pair.
func (s Subnets) Topology(client, server netip.Addr) byte {
	clientIn := s.Contains(client)
	serverIn := s.Contains(server)
	switch {
	case serverIn && clientIn:
		return TopologyBoth
	case serverIn:
		return TopologyInbound
	case clientIn:
		return TopologyOutbound
	default:
		return TopologyNeither
	}
}

func (s Subnets) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
