package session

// Outcome classifies one packet with respect to its flow.
type Outcome uint8

const (
	Void        Outcome = iota // not tracked: no flow and none created
	GoodNew                    // created a flow
	GoodKnown                  // in sequence, pure ACK, SYN or RST
	NewGap                     // sequence jumped forward, a gap was recorded
	GapRecovery                // filled a recorded gap
	Retransmit                 // repeated sequence space
	Keepalive
	Duplicate // exact copy of a recent packet
)

var outcomeNames = [...]string{
	Void:        "void",
	GoodNew:     "new",
	GoodKnown:   "known",
	NewGap:      "new_gap",
	GapRecovery: "gap_recovery",
	Retransmit:  "retransmit",
	Keepalive:   "keepalive",
	Duplicate:   "duplicate",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Phase is the operation timing state of a TCP flow.
type Phase uint8

const (
	NotStarted Phase = iota
	RequestStarted
	ResponseStarted
)

func (p Phase) String() string {
	switch p {
	case RequestStarted:
		return "request"
	case ResponseStarted:
		return "response"
	default:
		return "not_started"
	}
}

// Result describes how a flow consumed one packet.
type Result struct {
	Outcome Outcome
	Phase   Phase

	// GapStart and GapEnd are set for NewGap, GapRecovery, and for a
	// Retransmit that recovered a gap (Recovered).
	GapStart  uint32
	GapEnd    uint32
	Recovered bool
}
