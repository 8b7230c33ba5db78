package core

import (
	"fmt"
	"strconv"
	"strings"
)

// PortSet is a set of well-known service ports used for role resolution.
type PortSet struct {
	bits [1024]uint64
	n    int
}

// ParsePortSet parses a comma-separated port list. Entries outside 1..65535
// are skipped and reported in the returned error slice.
func ParsePortSet(list string) (*PortSet, []error) {
	ps := &PortSet{}
	var errs []error
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPort, field))
			continue
		}
		ps.Add(uint16(port))
	}
	return ps, errs
}

// Add inserts a port into the set.
func (ps *PortSet) Add(port uint16) {
	if !ps.Contains(port) {
		ps.bits[port>>6] |= 1 << (port & 63)
		ps.n++
	}
}

// Contains reports whether port is a known service port. A nil set is empty.
func (ps *PortSet) Contains(port uint16) bool {
	if ps == nil {
		return false
	}
	return ps.bits[port>>6]&(1<<(port&63)) != 0
}

// Len returns the number of ports in the set.
func (ps *PortSet) Len() int {
	if ps == nil {
		return 0
	}
	return ps.n
}

// Ports lists the set in ascending order.
func (ps *PortSet) Ports() []uint16 {
	out := make([]uint16, 0, ps.Len())
	for p := 1; p <= 65535; p++ {
		if ps.Contains(uint16(p)) {
			out = append(out, uint16(p))
		}
	}
	return out
}
