//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/tcpgeek/internal/config"
	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/source"
)

func init() {
	source.Register(Name, func(cfg config.CaptureConfig) (source.Source, error) {
		return NewSource(cfg)
	})
}

// Source reads frames from a TPACKET_V3 ring.
type Source struct {
	handle *afpacket.TPacket

	device    string
	frameSize int
	blockSize int
	numBlocks int
	fanoutID  uint16
	bpfFilter string
}

// NewSource sizes the ring from cfg.BufferSizeMB and opens it on cfg.Device.
func NewSource(cfg config.CaptureConfig) (*Source, error) {
	frameSize, blockSize, numBlocks, err := recomputeSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: afpacket ring: %v", core.ErrConfigInvalid, err)
	}
	s := &Source{
		device:    cfg.Device,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		fanoutID:  cfg.FanoutID,
		bpfFilter: cfg.BPFFilter,
	}
	if !cfg.Promiscuous {
		slog.Debug("afpacket ignores promiscuous=false, the interface flag is left unchanged", "device", cfg.Device)
	}
	if err := s.open(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) open(cfg config.CaptureConfig) error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle on %s: %w", s.device, err)
	}

	if s.fanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.fanoutID); err != nil {
			tp.Close()
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}

	if s.bpfFilter != "" {
		if err := applyBPF(tp, s.frameSize, s.bpfFilter); err != nil {
			tp.Close()
			return err
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	slog.Info("afpacket capture started",
		"device", s.device,
		"frame_size", s.frameSize,
		"block_size", s.blockSize,
		"num_blocks", s.numBlocks,
		"fanout_id", s.fanoutID,
		"bpf_filter", s.bpfFilter)
	s.handle = tp
	return nil
}

// applyBPF compiles filter with libpcap and loads it into the socket.
func applyBPF(tp *afpacket.TPacket, snapLen int, filter string) error {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return fmt.Errorf("%w: bpf filter %q: %v", core.ErrConfigInvalid, filter, err)
	}
	rawBPF := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		rawBPF[i] = bpf.RawInstruction{
			Op: inst.Code,
			Jt: inst.Jt,
			Jf: inst.Jf,
			K:  inst.K,
		}
	}
	if err := tp.SetBPF(rawBPF); err != nil {
		return fmt.Errorf("failed to set bpf filter: %w", err)
	}
	return nil
}

// ReadPacket copies the next frame out of the ring. Poll timeouts are retried
// until ctx is done.
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
				LinkType:   core.LinkType(layers.LinkTypeEthernet),
			}, nil
		case errors.Is(err, afpacket.ErrTimeout):
			continue
		default:
			return core.RawPacket{}, fmt.Errorf("failed to read packet from %s: %w", s.device, err)
		}
	}
}

func (s *Source) LinkType() core.LinkType {
	return core.LinkType(layers.LinkTypeEthernet)
}

// Stats returns the cumulative socket counters.
func (s *Source) Stats() (source.Stats, error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return source.Stats{}, fmt.Errorf("afpacket socket stats: %w", err)
	}
	return source.Stats{
		Received: uint64(v3.Packets()),
		Dropped:  uint64(v3.Drops()),
	}, nil
}

func (s *Source) Live() bool {
	return true
}

// Close releases the ring. It must not race with ReadPacket.
func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
