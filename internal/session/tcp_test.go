package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/core"
)

const (
	fSYN    = core.FlagSYN
	fSYNACK = core.FlagSYN | core.FlagACK
	fACK    = core.FlagACK
	fPSH    = core.FlagPSH | core.FlagACK
	fFIN    = core.FlagFIN | core.FlagACK
	fRST    = core.FlagRST
)

// handshake opens a session with SYN at 0, SYN-ACK at 1000 and ACK at 2000.
func handshake(t *testing.T, rec *recorder) *TCPSession {
	t.Helper()
	s, ok := NewTCPSession(seg{fromClient: true, flags: fSYN, seq: 1000}.packet(), testParams(), rec)
	require.True(t, ok)
	require.Equal(t, GoodKnown, s.Update(seg{flags: fSYNACK, seq: 5000, ack: 1001, at: 1000}.packet()).Outcome)
	require.Equal(t, GoodKnown, s.Update(seg{fromClient: true, flags: fACK, seq: 1001, ack: 5001, at: 2000}.packet()).Outcome)
	return s
}

func TestTCPSessionRoleFromSyn(t *testing.T) {
	rec := &recorder{}
	s, ok := NewTCPSession(seg{fromClient: true, flags: fSYN, seq: 1}.packet(), testParams(), rec)
	require.True(t, ok)

	assert.Equal(t, clientAddr, s.Key().ClientIP)
	assert.Equal(t, uint16(50000), s.Key().ClientPort)
	assert.Equal(t, serverAddr, s.Key().ServerIP)
	assert.Equal(t, uint16(80), s.Key().ServerPort)
}

func TestTCPSessionRoleFromSynAck(t *testing.T) {
	s, ok := NewTCPSession(seg{flags: fSYNACK, seq: 1}.packet(), testParams(), &recorder{})
	require.True(t, ok)
	assert.Equal(t, clientAddr, s.Key().ClientIP)
	assert.Equal(t, uint16(80), s.Key().ServerPort)
}

func TestTCPSessionDiscardsInvalidSyn(t *testing.T) {
	for _, flags := range []core.TCPFlags{fSYN | core.FlagFIN, fSYN | core.FlagRST} {
		_, ok := NewTCPSession(seg{fromClient: true, flags: flags}.packet(), testParams(), &recorder{})
		assert.False(t, ok, "flags %s", flags)
	}
}

func TestTCPSessionRTT(t *testing.T) {
	s := handshake(t, &recorder{})
	assert.Equal(t, int64(1000), s.serverRTT)
	assert.Equal(t, int64(1000), s.clientRTT)
	assert.Equal(t, int64(2000), s.RTT())
}

func TestTCPSessionOperationTiming(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 3000}.packet())
	assert.Equal(t, GoodKnown, res.Outcome)
	assert.Equal(t, RequestStarted, res.Phase)

	// the server thinks for 4ms beyond its RTT
	res = s.Update(seg{flags: fPSH, seq: 5001, ack: 1101, payload: 200, at: 8000}.packet())
	assert.Equal(t, GoodKnown, res.Outcome)
	assert.Equal(t, ResponseStarted, res.Phase)

	s.Update(seg{fromClient: true, flags: fFIN, seq: 1101, ack: 5201, at: 8100}.packet())
	s.Update(seg{flags: fFIN, seq: 5201, ack: 1102, at: 8200}.packet())
	s.Close()

	records := rec.all()
	require.Len(t, records, 1)
	r := records[0]

	assert.Equal(t, uint64(1), r.Operations)
	assert.Equal(t, uint8(0), r.ErrorBits)
	assert.Equal(t, int64(1000), r.ClientIdle)
	assert.Equal(t, int64(1000), r.Request)
	assert.Equal(t, int64(4000), r.Think)
	assert.Equal(t, int64(1000), r.Response)
	assert.Equal(t, int64(1200), r.Idle)
	assert.Equal(t, int64(8200), r.Explained()+r.Idle, "buckets and idle add up to the flow duration")
	assert.Equal(t, int64(2000), r.RTT)

	assert.Equal(t, uint64(4), r.Client.Packets)
	assert.Equal(t, uint64(3), r.Server.Packets)
	assert.Equal(t, uint64(100), r.Client.Payload)
	assert.Equal(t, uint64(200), r.Server.Payload)
	assert.Equal(t, uint64(4*54+100), r.Client.Bytes)
	assert.Equal(t, baseTs+8200, r.Timestamp)
}

func TestTCPSessionShortThinkIsSplit(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 3000}.packet())
	s.Update(seg{flags: fPSH, seq: 5001, ack: 1101, payload: 200, at: 3600}.packet())
	s.Close()

	r := rec.all()[0]
	assert.Equal(t, int64(0), r.Think)
	assert.Equal(t, int64(500+300), r.Request)
	assert.Equal(t, int64(300+500), r.Response)
}

func TestTCPSessionSecondOperation(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 3000}.packet())
	s.Update(seg{flags: fPSH, seq: 5001, ack: 1101, payload: 200, at: 5000}.packet())
	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 1101, ack: 5201, payload: 50, at: 9000}.packet())
	assert.Equal(t, RequestStarted, res.Phase)
	assert.Equal(t, uint64(1), s.operations)
	// client idle: 1000 before the first request plus 4000 - crtt
	assert.Equal(t, int64(1000+3000), s.clientIdle)
}

func TestTCPSessionDuplicate(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	p := seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 3000}.packet()
	require.Equal(t, GoodKnown, s.Update(p).Outcome)
	dup := *p
	dup.Timestamp += 10
	assert.Equal(t, Duplicate, s.Update(&dup).Outcome)

	s.Close()
	r := rec.all()[0]
	assert.Equal(t, uint64(1), r.Client.Duplicates)
	assert.Equal(t, uint64(100), r.Client.Payload, "duplicates are not counted")
	assert.Zero(t, r.Client.Retransmits)
}

func TestTCPSessionRetransmitPayloadNotCounted(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 3000}.packet())
	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 100, at: 4000, dup: 99}.packet())
	assert.Equal(t, Retransmit, res.Outcome)

	s.Close()
	r := rec.all()[0]
	assert.Equal(t, uint64(1), r.Client.Retransmits)
	assert.Equal(t, uint64(100), r.Client.Payload)
	assert.Equal(t, uint64(4), r.Client.Packets)
}

func TestTCPSessionGapCountsInRecord(t *testing.T) {
	rec := &recorder{}
	s := handshake(t, rec)

	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 1101, ack: 5001, payload: 100, at: 3000}.packet())
	assert.Equal(t, NewGap, res.Outcome)
	assert.Equal(t, uint32(1001), res.GapStart)
	assert.Equal(t, uint32(1101), res.GapEnd)

	s.Flush()
	r := rec.all()[0]
	assert.Equal(t, uint64(1), r.Client.ActiveGaps)
	assert.Equal(t, uint64(1), r.Client.OutOfOrder)

	res = s.Update(seg{fromClient: true, flags: fACK, seq: 1001, ack: 5001, payload: 100, at: 3100}.packet())
	assert.Equal(t, GapRecovery, res.Outcome)
	s.Flush()
	r = rec.all()[1]
	assert.Zero(t, r.Client.ActiveGaps)
	assert.Equal(t, uint64(1), r.Client.OutOfOrder)
}

func TestTCPSessionErrorBits(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		rec := &recorder{}
		s, _ := NewTCPSession(seg{fromClient: true, flags: fSYN, seq: 1000}.packet(), testParams(), rec)
		s.Update(seg{flags: fRST | fACK, ack: 1001, at: 100}.packet())
		s.Close()
		assert.Equal(t, core.ErrBitConnRefused, rec.all()[0].ErrorBits)
	})

	t.Run("server reset", func(t *testing.T) {
		rec := &recorder{}
		s := handshake(t, rec)
		s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 10, at: 3000}.packet())
		s.Update(seg{flags: fRST, seq: 5001, at: 3100}.packet())
		s.Close()
		assert.Equal(t, core.ErrBitServerReset, rec.all()[0].ErrorBits)
	})

	t.Run("reset after client fin", func(t *testing.T) {
		rec := &recorder{}
		s := handshake(t, rec)
		s.Update(seg{fromClient: true, flags: fFIN, seq: 1001, ack: 5001, at: 3000}.packet())
		s.Update(seg{flags: fRST, seq: 5001, at: 3100}.packet())
		s.Close()
		assert.Zero(t, rec.all()[0].ErrorBits)
	})

	t.Run("connection timeout", func(t *testing.T) {
		rec := &recorder{}
		s, _ := NewTCPSession(seg{fromClient: true, flags: fSYN, seq: 1000}.packet(), testParams(), rec)
		s.Update(seg{fromClient: true, flags: fSYN, seq: 1000, at: 3_000_000, dup: 7}.packet())
		s.Close()
		assert.Equal(t, core.ErrBitConnTimeout, rec.all()[0].ErrorBits)
	})

	t.Run("server not responding", func(t *testing.T) {
		rec := &recorder{}
		s := handshake(t, rec)
		s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 10, at: 3000}.packet())
		s.Close()
		r := rec.all()[0]
		assert.Equal(t, core.ErrBitServerNoResponse, r.ErrorBits)
		assert.Equal(t, int64(500+500), r.Request)
	})

	t.Run("request then client close", func(t *testing.T) {
		rec := &recorder{}
		s := handshake(t, rec)
		s.Update(seg{fromClient: true, flags: fPSH, seq: 1001, ack: 5001, payload: 10, at: 3000}.packet())
		s.Update(seg{fromClient: true, flags: fFIN, seq: 1011, ack: 5001, at: 4000}.packet())
		s.Close()
		assert.Zero(t, rec.all()[0].ErrorBits)
	})
}

func TestTCPSessionGranularityFlush(t *testing.T) {
	rec := &recorder{}
	params := testParams()
	params.Granularity = time.Second

	s, _ := NewTCPSession(seg{fromClient: true, flags: fPSH, seq: 1, ack: 1, payload: 10}.packet(), params, rec)
	s.Update(seg{fromClient: true, flags: fPSH, seq: 11, ack: 1, payload: 10, at: 500_000}.packet())
	assert.Empty(t, rec.all())

	s.Update(seg{fromClient: true, flags: fPSH, seq: 21, ack: 1, payload: 10, at: 1_000_000}.packet())
	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, uint64(3), records[0].Client.Packets)
	assert.Equal(t, baseTs+1_000_000, records[0].Timestamp)

	s.Update(seg{fromClient: true, flags: fPSH, seq: 31, ack: 1, payload: 10, at: 1_200_000}.packet())
	assert.Len(t, rec.all(), 1)
}

func TestTCPSessionDedupLatch(t *testing.T) {
	rec := &recorder{}
	params := testParams()
	params.DedupTimeout = time.Millisecond

	s, _ := NewTCPSession(seg{fromClient: true, flags: fPSH, seq: 1, ack: 1, payload: 10, dup: 42}.packet(), params, rec)
	s.Update(seg{fromClient: true, flags: fPSH, seq: 11, ack: 1, payload: 10, at: 2000}.packet())
	require.True(t, s.client.dedupOff, "clean direction stops deduplicating")
	assert.False(t, s.server.dedupOff)

	// the same fingerprint is no longer reported as duplicate
	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 21, ack: 1, payload: 10, at: 3000, dup: 42}.packet())
	assert.NotEqual(t, Duplicate, res.Outcome)
}

func TestTCPSessionMidFlowStart(t *testing.T) {
	rec := &recorder{}
	// first packet seen is a response from a known service port
	s, ok := NewTCPSession(seg{flags: fPSH, seq: 9000, ack: 300, payload: 100}.packet(), testParams(), rec)
	require.True(t, ok)
	assert.Equal(t, uint16(80), s.Key().ServerPort)

	res := s.Update(seg{fromClient: true, flags: fPSH, seq: 300, ack: 9100, payload: 20, at: 5000}.packet())
	assert.Equal(t, GoodKnown, res.Outcome)
	assert.Equal(t, RequestStarted, res.Phase)
	assert.Equal(t, int64(5000), s.clientIdle)
}
