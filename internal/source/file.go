package source

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowgate/internal/core"
)

// DefaultFilePort is the ingress port of classic pcap frames when none is
// configured.
const DefaultFilePort core.Port = 1

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

type fileSource struct {
	f    *os.File
	r    packetReader
	ng   bool
	port core.Port
}

// OpenFile opens a pcap or pcapng capture of Ethernet frames. Frames from a
// pcapng file take their ingress port from the interface they were captured
// on (interface index + 1). Classic pcap has no interfaces, so every frame
// arrives on port, or DefaultFilePort when port is zero.
func OpenFile(path string, port core.Port) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if port == core.NoPort {
		port = DefaultFilePort
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: read capture header: %w", path, err)
	}

	s := &fileSource{f: f, port: port}
	var link layers.LinkType
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.NgReaderOptions{})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.r, s.ng, link = ng, true, ng.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.r, link = r, r.LinkType()
	}

	if link != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported link type %s", path, link)
	}
	return s, nil
}

func (s *fileSource) Next() (Frame, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		return Frame{}, err
	}
	port := s.port
	if s.ng {
		port = core.Port(ci.InterfaceIndex + 1)
	}
	return Frame{Data: data, InPort: port, Timestamp: ci.Timestamp}, nil
}

func (s *fileSource) Close() error {
	return s.f.Close()
}
