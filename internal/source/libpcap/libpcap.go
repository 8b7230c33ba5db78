// Package libpcap reads packets through libpcap, from capture files or live
// devices.
package libpcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/source"
)

const Name = "pcap"

func init() {
	source.Register(Name, func(cfg config.CaptureConfig) (source.Source, error) {
		return OpenLive(cfg)
	})
	source.Register(source.FileEngine, func(cfg config.CaptureConfig) (source.Source, error) {
		return OpenOffline(cfg.File, cfg.BPFFilter)
	})
}

// Source wraps a pcap handle.
type Source struct {
	handle *pcap.Handle
	live   bool
	name   string
}

// OpenOffline opens a capture file.
func OpenOffline(path, filter string) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, filter, err)
		}
	}
	slog.Info("reading capture file", "file", path, "link_type", handle.LinkType().String())
	return &Source{handle: handle, name: path}, nil
}

// OpenLive activates a capture on cfg.Device.
func OpenLive(cfg config.CaptureConfig) (*Source, error) {
	inactive, err := pcap.NewInactiveHandle(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle on %s: %w", cfg.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if cfg.BufferSizeMB > 0 {
		if err := inactive.SetBufferSize(cfg.BufferSizeMB * 1024 * 1024); err != nil {
			return nil, fmt.Errorf("set buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate capture on %s: %w", cfg.Device, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, cfg.BPFFilter, err)
		}
	}

	slog.Info("pcap capture started",
		"device", cfg.Device,
		"snap_len", cfg.SnapLen,
		"promiscuous", cfg.Promiscuous,
		"buffer_size_mb", cfg.BufferSizeMB,
		"bpf_filter", cfg.BPFFilter)
	return &Source{handle: handle, live: true, name: cfg.Device}, nil
}

// ReadPacket returns the next frame. Read timeouts on a live handle are
// retried until ctx is done.
func (s *Source) ReadPacket(ctx context.Context) (core.RawPacket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.RawPacket{}, err
		}
		data, ci, err := s.handle.ReadPacketData()
		switch {
		case err == nil:
			return core.RawPacket{
				Data:       data,
				Timestamp:  ci.Timestamp,
				CaptureLen: uint32(ci.CaptureLength),
				OrigLen:    uint32(ci.Length),
				LinkType:   s.LinkType(),
			}, nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return core.RawPacket{}, io.EOF
		default:
			return core.RawPacket{}, fmt.Errorf("failed to read packet from %s: %w", s.name, err)
		}
	}
}

func (s *Source) LinkType() core.LinkType {
	return core.LinkType(s.handle.LinkType())
}

// Stats returns the libpcap counters. Capture files have none.
func (s *Source) Stats() (source.Stats, error) {
	if !s.live {
		return source.Stats{}, nil
	}
	st, err := s.handle.Stats()
	if err != nil {
		return source.Stats{}, fmt.Errorf("pcap stats: %w", err)
	}
	return source.Stats{
		Received:  uint64(st.PacketsReceived),
		Dropped:   uint64(st.PacketsDropped),
		IfDropped: uint64(st.PacketsIfDropped),
	}, nil
}

func (s *Source) Live() bool {
	return s.live
}

func (s *Source) Close() error {
	s.handle.Close()
	return nil
}
