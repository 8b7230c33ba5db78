package libpcap

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/source"
)

func tcpFrame(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: 1000, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func udpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("query"))))
	return buf.Bytes()
}

func writeCapture(t *testing.T, start time.Time, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestOfflineReadsAllFrames(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := [][]byte{
		tcpFrame(t, 40000, 80, []byte("GET /")),
		tcpFrame(t, 80, 40000, []byte("200 OK")),
		udpFrame(t),
	}
	path := writeCapture(t, start, frames...)

	src, err := OpenOffline(path, "")
	require.NoError(t, err)
	defer src.Close()

	assert.False(t, src.Live())
	assert.Equal(t, core.LinkType(layers.LinkTypeEthernet), src.LinkType())

	ctx := context.Background()
	for i, want := range frames {
		raw, err := src.ReadPacket(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, raw.Data)
		assert.Equal(t, uint32(len(want)), raw.CaptureLen)
		assert.Equal(t, uint32(len(want)), raw.OrigLen)
		assert.True(t, start.Add(time.Duration(i)*time.Millisecond).Equal(raw.Timestamp))
	}

	_, err = src.ReadPacket(ctx)
	assert.ErrorIs(t, err, io.EOF)

	st, err := src.Stats()
	require.NoError(t, err)
	assert.Equal(t, source.Stats{}, st)
}

func TestOfflineFilter(t *testing.T) {
	path := writeCapture(t, time.Unix(1700000000, 0),
		tcpFrame(t, 40000, 80, nil),
		udpFrame(t),
		tcpFrame(t, 80, 40000, nil),
	)

	src, err := OpenOffline(path, "udp")
	require.NoError(t, err)
	defer src.Close()

	raw, err := src.ReadPacket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, udpFrame(t), raw.Data)

	_, err = src.ReadPacket(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestOfflineBadFilter(t *testing.T) {
	path := writeCapture(t, time.Unix(1700000000, 0), udpFrame(t))
	_, err := OpenOffline(path, "not a (valid filter")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestOfflineMissingFile(t *testing.T) {
	_, err := OpenOffline(filepath.Join(t.TempDir(), "missing.pcap"), "")
	assert.Error(t, err)
}

func TestReadPacketHonoursContext(t *testing.T) {
	path := writeCapture(t, time.Unix(1700000000, 0), udpFrame(t))
	src, err := OpenOffline(path, "")
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ReadPacket(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOpenPrefersFile(t *testing.T) {
	path := writeCapture(t, time.Unix(1700000000, 0), udpFrame(t))

	src, err := source.Open(config.CaptureConfig{File: path, Device: "does-not-exist0", Engine: Name})
	require.NoError(t, err)
	defer src.Close()
	assert.False(t, src.Live())

	_, err = source.Open(config.CaptureConfig{Engine: Name})
	assert.ErrorIs(t, err, core.ErrNoSource)

	_, err = source.Open(config.CaptureConfig{Device: "eth0", Engine: "netmap"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	assert.Contains(t, source.Engines(), Name)
	assert.Contains(t, source.Engines(), source.FileEngine)
}
