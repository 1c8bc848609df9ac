package source

import "fmt"

const (
	tpacketAlignment = 16
	// TPACKET_V3 header plus sockaddr_ll, rounded up.
	tpacketHdrLen = 52
	maxBlockSize  = 4 << 20
)

// ringGeometry sizes an AF_PACKET mmap ring of about bufferMB megabytes.
// Frames are aligned to TPACKET_ALIGNMENT and blocks are a whole number of
// pages holding a whole number of frames.
type ringGeometry struct {
	FrameSize int
	BlockSize int
	NumBlocks int
}

func computeRing(bufferMB, snapLen, pageSize int) (ringGeometry, error) {
	switch {
	case bufferMB <= 0:
		return ringGeometry{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	case snapLen <= 0:
		return ringGeometry{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return ringGeometry{}, fmt.Errorf("page size %d is not a multiple of %d", pageSize, tpacketAlignment)
	}

	frame := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	block := lcm(pageSize, frame)
	if block > maxBlockSize {
		// Give up exact alignment: as many frames as fit, padded to pages.
		block = alignUp((maxBlockSize/frame)*frame, pageSize)
		if block < frame {
			block = alignUp(frame, pageSize)
		}
	}

	blocks := (bufferMB << 20) / block
	if blocks < 1 {
		blocks = 1
	}
	return ringGeometry{FrameSize: frame, BlockSize: block, NumBlocks: blocks}, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
