package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkConfig(t *testing.T) {
	tests := []struct {
		name    string
		opts    map[string]any
		wantErr bool
	}{
		{name: "missing brokers", opts: map[string]any{"topic": "t"}, wantErr: true},
		{name: "missing topic", opts: map[string]any{"brokers": []any{"localhost:9092"}}, wantErr: true},
		{
			name: "valid minimal config",
			opts: map[string]any{"brokers": []any{"localhost:9092"}, "topic": "tcpgeek"},
		},
		{
			name: "valid full config",
			opts: map[string]any{
				"brokers":       []any{"broker1:9092", "broker2:9092"},
				"topic":         "tcpgeek",
				"batch_size":    200,
				"batch_timeout": "200ms",
				"compression":   "gzip",
				"max_attempts":  5,
			},
		},
		{
			name:    "invalid compression",
			opts:    map[string]any{"brokers": []any{"localhost:9092"}, "topic": "t", "compression": "zip"},
			wantErr: true,
		},
		{
			name:    "invalid batch_timeout",
			opts:    map[string]any{"brokers": []any{"localhost:9092"}, "topic": "t", "batch_timeout": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := stats.New(Name, tt.opts, stats.Env{InstanceID: "probe-1"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}

func TestKafkaSinkWrite(t *testing.T) {
	fw := &fakeWriter{}
	s := &Sink{instanceID: "probe-1", writer: fw}
	rec := core.StatRecord{
		Timestamp: 1_700_000_000_000_000,
		Key: core.FlowKey{
			ClientIP:   netip.MustParseAddr("10.0.0.1"),
			ServerIP:   netip.MustParseAddr("10.0.0.2"),
			ClientPort: 50000,
			ServerPort: 80,
			Proto:      core.ProtoTCP,
		},
		Operations: 2,
	}

	require.NoError(t, s.Write(context.Background(), []core.StatRecord{rec}))
	require.Len(t, fw.msgs, 1)
	msg := fw.msgs[0]
	assert.Equal(t, "10.0.0.1:50000 > 10.0.0.2:80/TCP", string(msg.Key))
	assert.Equal(t, rec.Time(), msg.Time)

	var got struct {
		Probe  string `json:"probe"`
		Record struct {
			Operations uint64 `json:"operations"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "probe-1", got.Probe)
	assert.Equal(t, uint64(2), got.Record.Operations)
	assert.Equal(t, uint64(1), s.reported.Load())

	fw.err = errors.New("broker down")
	assert.Error(t, s.Write(context.Background(), []core.StatRecord{rec}))
	assert.Equal(t, uint64(1), s.errors.Load())
}
