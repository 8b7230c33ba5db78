package clickhouse

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/tcpgeek/internal/core"
)

func TestRowMatchesTable(t *testing.T) {
	rec := core.StatRecord{
		Timestamp: 1_700_000_000_500_000,
		Key: core.FlowKey{
			ClientIP:   netip.MustParseAddr("192.168.0.5"),
			ServerIP:   netip.MustParseAddr("10.0.0.2"),
			ClientPort: 50000,
			ServerPort: 443,
			Proto:      core.ProtoTCP,
		},
		Client:    core.DirectionStats{Packets: 7},
		ErrorBits: core.ErrBitServerNoResponse,
		RTT:       1500,
	}
	subnets, _ := core.ParseSubnets("10.0.0.0/8")

	r := row(&rec, "probe-1", subnets)

	columns := 0
	for _, line := range strings.Split(createTableStatement, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && !strings.HasPrefix(fields[0], "CREATE") {
			columns++
		}
	}
	assert.Len(t, r, columns)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), r[0])
	assert.Equal(t, "probe-1", r[1])
	assert.Equal(t, uint8(6), r[2])
	assert.Equal(t, "i", r[7])
	assert.Equal(t, uint64(7), r[8])
	assert.Equal(t, core.ErrBitServerNoResponse, r[len(r)-2])
	assert.Equal(t, int64(1500), r[len(r)-1])
}
