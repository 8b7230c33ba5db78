package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/command"
	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
)

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, TTL: 64, Id: uint16(i + 1),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(10, 0, 0, 2),
		}
		udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		payload := gopacket.Payload([]byte(fmt.Sprintf("query-%d", i)))
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload))

		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		require.NoError(t, w.WritePacket(ci, buf.Bytes()))
	}
	return path
}

func testConfig(t *testing.T) (*config.GlobalConfig, string) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Log.Format = "text"
	cfg.Capture.File = writeCapture(t, dir)
	cfg.Engine.ServicePorts = "53"
	cfg.Control.Socket = filepath.Join(dir, "ctl.sock")
	cfg.Control.PIDFile = filepath.Join(dir, "run", "tcpgeek.pid")
	cfg.Metrics.Enabled = false
	cfg.Stats.Sinks = []config.SinkConfig{{
		Type:    "file",
		Options: map[string]any{"template": filepath.Join(dir, "stats", "stat.log")},
	}}
	return cfg, dir
}

func TestDaemonOfflineRun(t *testing.T) {
	cfg, dir := testConfig(t)

	d := NewWithConfig(cfg, "test")
	require.NoError(t, d.Start())

	pid, err := os.ReadFile(cfg.Control.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(pid))

	require.NoError(t, d.Run())

	files, err := filepath.Glob(filepath.Join(dir, "stats", "stat_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "10.0.0.1\t5353\t10.0.0.2\t53")

	_, err = os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file removed on stop")
}

func TestDaemonServesStatusAndFeed(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Stats.Sinks = append(cfg.Stats.Sinks, config.SinkConfig{Type: "websocket"})

	d := NewWithConfig(cfg, "test")
	require.NoError(t, d.Start())

	resp, err := http.Get("http://" + d.metricsServer.Addr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st command.StatusResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, []string{"file", "websocket"}, st.Engine.Sinks)

	require.NoError(t, d.Run())
}

func TestDaemonStartFailsOnUnknownSink(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Stats.Sinks = []config.SinkConfig{{Type: "carrier-pigeon"}}

	d := NewWithConfig(cfg, "test")
	err := d.Start()
	assert.ErrorIs(t, err, core.ErrSinkNotFound)

	_, statErr := os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(statErr), "pid file removed after failed start")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 167, ExitCode(fmt.Errorf("watchdog: %w", core.ErrMemoryLimit)))
	assert.Equal(t, 168, ExitCode(core.ErrCaptureDropped))
	assert.Equal(t, 1, ExitCode(os.ErrClosed))
}
