package core

import "time"

// DirectionStats are the rolling counters of one direction of a flow.
type DirectionStats struct {
	Packets     uint64 `json:"packets"`
	Bytes       uint64 `json:"bytes"`
	Payload     uint64 `json:"payload"`
	Duplicates  uint64 `json:"duplicates"`
	OutOfOrder  uint64 `json:"out_of_order"`
	ActiveGaps  uint64 `json:"active_gaps"`
	Retransmits uint64 `json:"retransmits"`
}

// Session error bits carried by StatRecord.ErrorBits.
const (
	ErrBitConnRefused      uint8 = 1 << 0 // RST answering a SYN
	ErrBitServerReset      uint8 = 1 << 1 // RST from the server during the session
	ErrBitConnTimeout      uint8 = 1 << 2 // SYN never answered
	ErrBitServerNoResponse uint8 = 1 << 3 // request left unanswered
)

// StatRecord is one aggregation interval of one flow. Durations are in
// microseconds.
type StatRecord struct {
	Timestamp  int64          `json:"timestamp_us"`
	Key        FlowKey        `json:"flow"`
	Client     DirectionStats `json:"client"`
	Server     DirectionStats `json:"server"`
	Operations uint64         `json:"operations"`
	ClientIdle int64          `json:"client_idle_us"`
	Request    int64          `json:"request_us"`
	Think      int64          `json:"think_us"`
	Response   int64          `json:"response_us"`
	Idle       int64          `json:"idle_us"`
	ErrorBits  uint8          `json:"error_bits"`
	RTT        int64          `json:"rtt_us"`
}

// Time returns the record timestamp.
func (r *StatRecord) Time() time.Time {
	return time.UnixMicro(r.Timestamp)
}

// Explained is the time attributed to the four timing buckets.
func (r *StatRecord) Explained() int64 {
	return r.ClientIdle + r.Request + r.Think + r.Response
}
