package pipeline

import (
	"fmt"
	"strings"
	"time"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/session"
)

const packetTimeLayout = "2006-01-02 15:04:05.000000"

// describeTCP renders one classified TCP segment for the packet log.
func describeTCP(pkt *core.Packet, res session.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TCP; %s.%d > %s.%d; %s; seq %d -> %d; ack %d; length %d (%d)",
		pkt.SrcIP, pkt.SrcPort, pkt.DstIP, pkt.DstPort, pkt.Flags,
		pkt.Seq, pkt.NextSeq, pkt.Ack, pkt.PayloadLen, pkt.TotalLen)

	switch res.Phase {
	case session.RequestStarted:
		b.WriteString("; Request Started")
	case session.ResponseStarted:
		b.WriteString("; Response Started")
	}

	switch res.Outcome {
	case session.Void:
		b.WriteString("; Ignored")
	case session.GoodNew:
		b.WriteString("; New session")
	case session.Retransmit:
		if res.Recovered {
			fmt.Fprintf(&b, "; Retransmit with %d - %d gap recovery", res.GapStart, res.GapEnd)
		} else {
			b.WriteString("; Retransmit")
		}
	case session.Duplicate:
		b.WriteString("; Duplicate")
	case session.NewGap:
		fmt.Fprintf(&b, "; Out-of-order - new TCP sequence gap %d - %d", res.GapStart, res.GapEnd)
	case session.GapRecovery:
		fmt.Fprintf(&b, "; Out-of-order - recovers TCP sequence gap %d - %d", res.GapStart, res.GapEnd)
	case session.Keepalive:
		b.WriteString("; Keepalive")
	}
	return b.String()
}

// describeUDP renders one classified UDP datagram for the packet log.
func describeUDP(pkt *core.Packet, res session.Result) string {
	line := fmt.Sprintf("UDP; %s.%d > %s.%d; payload length %d",
		pkt.SrcIP, pkt.SrcPort, pkt.DstIP, pkt.DstPort, pkt.PayloadLen)
	switch res.Outcome {
	case session.Void:
		line += "; Ignored"
	case session.GoodNew:
		line += "; New session"
	case session.Duplicate:
		line += "; Duplicate"
	}
	return line
}

func packetTime(ts time.Time) string {
	return ts.UTC().Format(packetTimeLayout)
}
