package session

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/core"
)

func TestTableHandshakeSharesFlow(t *testing.T) {
	table := NewTCPTable(testParams(), &recorder{})

	assert.Equal(t, GoodNew, table.Update(seg{fromClient: true, flags: core.FlagSYN, seq: 1000}.packet()).Outcome)
	assert.Equal(t, GoodKnown, table.Update(seg{flags: core.FlagSYN | core.FlagACK, seq: 5000, ack: 1001, at: 1000}.packet()).Outcome)
	assert.Equal(t, GoodKnown, table.Update(seg{fromClient: true, flags: core.FlagACK, seq: 1001, ack: 5001, at: 2000}.packet()).Outcome)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, uint64(1), table.Stats().Created)
}

func TestTableRSTNeverCreates(t *testing.T) {
	table := NewTCPTable(testParams(), &recorder{})
	res := table.Update(seg{fromClient: true, flags: core.FlagRST, seq: 1}.packet())
	assert.Equal(t, Void, res.Outcome)
	assert.Zero(t, table.Len())
}

func TestTableCapacity(t *testing.T) {
	rec := &recorder{}
	params := testParams()
	params.MaxSessions = 1
	table := NewTCPTable(params, rec)

	first := seg{fromClient: true, flags: core.FlagSYN, seq: 1000}.packet()
	second := seg{fromClient: true, flags: core.FlagSYN, seq: 2000}.packet()
	second.SrcPort = 50001

	assert.Equal(t, GoodNew, table.Update(first).Outcome)
	assert.Equal(t, Void, table.Update(second).Outcome)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, uint64(1), table.Stats().Rejected)

	table.FinalDrain()
	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, uint16(50000), records[0].Key.ClientPort)
}

func TestTableUnbounded(t *testing.T) {
	params := testParams()
	params.MaxSessions = 0
	table := NewUDPTable(params, &recorder{})
	for i := 0; i < 50; i++ {
		d := datagram(true, 10, int64(i), uint64(i))
		d.SrcPort = uint16(40000 + i)
		table.Update(d)
	}
	assert.Equal(t, 50, table.Len())
}

func TestTableCleanIdle(t *testing.T) {
	rec := &recorder{}
	params := testParams()
	params.IdleTimeout = 10 * time.Second
	table := NewUDPTable(params, rec)

	table.Update(datagram(true, 10, 0, 1))
	other := datagram(true, 10, 8_000_000, 2)
	other.SrcPort = 40001
	table.Update(other)

	now := baseTs/1_000_000 + 11
	assert.Equal(t, 1, table.CleanIdle(now))
	assert.Equal(t, 0, table.CleanIdle(now), "a second sweep at the same instant removes nothing")
	assert.Equal(t, 1, table.Len())
	require.Len(t, rec.all(), 1)
	assert.Equal(t, uint16(40000), rec.all()[0].Key.ClientPort)

	// exactly at the timeout the flow is kept
	assert.Equal(t, 0, table.CleanIdle(baseTs/1_000_000+8+10))
	assert.Equal(t, 1, table.CleanIdle(baseTs/1_000_000+8+11))
	assert.Equal(t, uint64(2), table.Stats().Evicted)
}

func TestTableSYNReuse(t *testing.T) {
	rec := &recorder{}
	table := NewTCPTable(testParams(), rec)

	table.Update(seg{fromClient: true, flags: core.FlagSYN, seq: 1000}.packet())
	table.Update(seg{flags: core.FlagSYN | core.FlagACK, seq: 5000, ack: 1001, at: 1000}.packet())
	table.Update(seg{fromClient: true, flags: core.FlagACK, seq: 1001, ack: 5001, at: 2000}.packet())

	// a retransmitted SYN during the handshake keeps the flow
	table2 := NewTCPTable(testParams(), &recorder{})
	table2.Update(seg{fromClient: true, flags: core.FlagSYN, seq: 1000}.packet())
	assert.Equal(t, GoodKnown, table2.Update(seg{fromClient: true, flags: core.FlagSYN, seq: 1000, at: 500_000, dup: 9}.packet()).Outcome)
	assert.Zero(t, table2.Stats().Reopened)

	res := table.Update(seg{fromClient: true, flags: core.FlagSYN, seq: 90000, at: 10_000}.packet())
	assert.Equal(t, GoodNew, res.Outcome)
	assert.Equal(t, uint64(1), table.Stats().Reopened)
	assert.Equal(t, 1, table.Len())

	records := rec.all()
	require.Len(t, records, 1, "the replaced flow flushes its counters")
	assert.Equal(t, uint64(2), records[0].Client.Packets)
}

func TestTableFinalDrain(t *testing.T) {
	rec := &recorder{}
	table := NewUDPTable(testParams(), rec)
	for i := 0; i < 3; i++ {
		d := datagram(true, 10, int64(i), uint64(i))
		d.SrcIP = netip.AddrFrom4([4]byte{10, 1, 0, byte(i)})
		table.Update(d)
	}
	assert.Equal(t, 3, table.FinalDrain())
	assert.Zero(t, table.Len())
	assert.Len(t, rec.all(), 3)
}

func TestTableWrappedSequenceStaysOneFlow(t *testing.T) {
	table := NewTCPTable(testParams(), &recorder{})
	var isn uint32 = 4294967290
	table.Update(seg{fromClient: true, flags: core.FlagSYN, seq: isn}.packet())
	table.Update(seg{flags: core.FlagSYN | core.FlagACK, seq: 5000, ack: isn + 1, at: 1000}.packet())
	table.Update(seg{fromClient: true, flags: core.FlagACK, seq: isn + 1, ack: 5001, at: 2000}.packet())

	res := table.Update(seg{fromClient: true, flags: core.FlagPSH | core.FlagACK, seq: isn + 1, ack: 5001, payload: 100, at: 3000}.packet())
	assert.Equal(t, GoodKnown, res.Outcome)
	res = table.Update(seg{fromClient: true, flags: core.FlagPSH | core.FlagACK, seq: isn + 101, ack: 5001, payload: 100, at: 4000}.packet())
	assert.Equal(t, GoodKnown, res.Outcome)
	assert.Equal(t, 1, table.Len())
}

func TestTableConcurrentUpdateAndSweep(t *testing.T) {
	params := testParams()
	params.IdleTimeout = time.Second
	table := NewUDPTable(params, &recorder{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			d := datagram(true, 10, int64(i)*1000, uint64(i))
			d.SrcPort = uint16(40000 + i%50)
			table.Update(d)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			table.CleanIdle(baseTs/1_000_000 + 5)
		}
	}()
	wg.Wait()

	table.FinalDrain()
	st := table.Stats()
	assert.Zero(t, st.Flows)
	assert.Equal(t, st.Created, st.Evicted)
}
