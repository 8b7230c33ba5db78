package decoder

// tcpFingerprint identifies a TCP segment by IP id, checksum and sequence.
func tcpFingerprint(ipID, checksum uint16, seq uint32) uint64 {
	return (uint64(ipID)<<16+uint64(checksum))<<32 + uint64(seq)
}

// udpFingerprint identifies a datagram by IP id, checksum and up to four
// leading payload bytes read big-endian.
func udpFingerprint(ipID, checksum uint16, payload []byte) uint64 {
	var lead uint32
	for i := 0; i < len(payload) && i < 4; i++ {
		lead = lead<<8 | uint32(payload[i])
	}
	return (uint64(ipID)<<16+uint64(checksum))<<32 + uint64(lead)
}
