package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/core"
)

func TestSinkStreamsRecords(t *testing.T) {
	s := New("probe-1")
	defer s.Close()
	srv := httptest.NewServer(s.Hub())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Write(context.Background(), []core.StatRecord{{Operations: 5}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Probe   string `json:"probe"`
		Records []struct {
			Operations uint64 `json:"operations"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "probe-1", got.Probe)
	require.Len(t, got.Records, 1)
	assert.Equal(t, uint64(5), got.Records[0].Operations)
}

func TestSinkWithoutClients(t *testing.T) {
	s := New("probe-1")
	defer s.Close()
	assert.NoError(t, s.Write(context.Background(), []core.StatRecord{{}}))
	assert.Zero(t, s.dropped)
}

func TestHubDisconnect(t *testing.T) {
	h := NewHub()
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
