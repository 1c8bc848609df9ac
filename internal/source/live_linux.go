//go:build linux && cgo

package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

type liveSource struct {
	tp  *afpacket.TPacket
	cfg LiveConfig

	// mu is held for a single poll so Close never unmaps the ring under a
	// reader.
	mu     sync.Mutex
	closed atomic.Bool
}

// OpenLive starts a TPACKET_V3 capture on cfg.Device.
func OpenLive(cfg LiveConfig) (Source, error) {
	cfg.applyDefaults()
	if cfg.Device == "" {
		return nil, errors.New("live capture needs a device")
	}
	ring, err := computeRing(cfg.BufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Device, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Device),
		afpacket.OptFrameSize(ring.FrameSize),
		afpacket.OptBlockSize(ring.BlockSize),
		afpacket.OptNumBlocks(ring.NumBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Device, err)
	}

	var filter []bpf.RawInstruction
	switch {
	case cfg.Filter != "":
		filter, err = CompileFilter(cfg.Filter, cfg.SnapLen)
	case cfg.ControlOnly:
		filter, err = ControlFilter(cfg.SnapLen)
	}
	if err == nil && filter != nil {
		err = tp.SetBPF(filter)
	}
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("%s: install filter: %w", cfg.Device, err)
	}
	return &liveSource{tp: tp, cfg: cfg}, nil
}

// CompileFilter compiles a tcpdump expression for Ethernet frames.
func CompileFilter(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

func (s *liveSource) Next() (Frame, error) {
	for {
		if s.closed.Load() {
			return Frame{}, io.EOF
		}
		data, ci, err := s.read()
		if errors.Is(err, afpacket.ErrTimeout) {
			continue
		}
		if err != nil {
			return Frame{}, err
		}
		return Frame{Data: data, InPort: s.cfg.Port, Timestamp: ci.Timestamp}, nil
	}
}

func (s *liveSource) read() ([]byte, gopacket.CaptureInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	return s.tp.ReadPacketData()
}

// Close waits for an in-flight poll, at most PollTimeout, then releases the
// ring.
func (s *liveSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tp.Close()
	return nil
}
