package stats

import (
	"strconv"
	"strings"
	"time"

	"firestige.xyz/tcpgeek/internal/core"
)

// TimeLayout is the layout of the record timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

// excessiveGaps is the active gap count above which a record is reported as
// suspicious.
const excessiveGaps = 1000

// FormatLine renders rec as one tab-separated statistics line. Timing columns
// are milliseconds, RTT is microseconds.
func FormatLine(rec *core.StatRecord, subnets core.Subnets) string {
	var b strings.Builder
	b.Grow(256)

	b.WriteString(time.Unix(rec.Timestamp/1_000_000, 0).UTC().Format(TimeLayout))
	col := func(s string) {
		b.WriteByte('\t')
		b.WriteString(s)
	}
	num := func(v uint64) {
		col(strconv.FormatUint(v, 10))
	}
	ms := func(us int64) {
		col(strconv.FormatInt(us/1000, 10))
	}

	num(uint64(rec.Key.Proto))
	col(rec.Key.ClientIP.String())
	num(uint64(rec.Key.ClientPort))
	col(rec.Key.ServerIP.String())
	num(uint64(rec.Key.ServerPort))
	col(string(subnets.Topology(rec.Key.ClientIP, rec.Key.ServerIP)))

	c, s := &rec.Client, &rec.Server
	num(c.Packets)
	num(s.Packets)
	num(c.Bytes)
	num(s.Bytes)
	num(c.Payload)
	num(s.Payload)
	num(c.Duplicates)
	num(s.Duplicates)
	num(c.OutOfOrder)
	num(s.OutOfOrder)
	num(c.ActiveGaps)
	num(s.ActiveGaps)
	num(c.Retransmits)
	num(s.Retransmits)
	num(rec.Operations)

	ms(rec.ClientIdle)
	ms(rec.Request)
	ms(rec.Think)
	ms(rec.Response)
	ms(rec.Idle)
	num(uint64(rec.ErrorBits))
	col(strconv.FormatInt(rec.RTT, 10))

	return b.String()
}

// ExcessiveGaps reports whether either direction of rec carries an
// implausible number of unresolved gaps.
func ExcessiveGaps(rec *core.StatRecord) bool {
	return rec.Client.ActiveGaps > excessiveGaps || rec.Server.ActiveGaps > excessiveGaps
}
