// Package afpacket captures from a Linux AF_PACKET TPACKET_V3 ring with
// optional fanout and a kernel BPF filter. On other systems the package only
// provides the ring sizing helper and registers no engine.
package afpacket

import "fmt"

const Name = "afpacket"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded
	maxBlockSize     = 4 * 1024 * 1024
)

// recomputeSize derives a ring layout for a target buffer of bufferMB.
// PACKET_MMAP requires the frame size to be TPACKET_ALIGNMENT aligned and the
// block size to be a multiple of both the page size and the frame size.
func recomputeSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snaplen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// fit as many frames as possible into the largest block, then round
		// up to whole pages
		blockSize = alignUp((maxBlockSize/frameSize)*frameSize, pageSize)
	}
	if blockSize < frameSize {
		blockSize = alignUp(frameSize, pageSize)
	}

	numBlocks = bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
