package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// errReadTimeout is returned by socket handles when no packet arrived
// within the poll timeout, the reader just tries again.
var errReadTimeout = errors.New("socket poll timeout expired")

// Socket is a raw AF_PACKET handle used by the raw_socket engine.
type Socket interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	SetBPFFilter(string) error
	SetPromiscuous(bool) error
	SetSnapLen(int) error
	GetSnapLen() int
	SetTimeout(time.Duration) error
	// SetLoopback drops the outgoing copy of every packet, a loopback
	// device reports each packet in both directions
	SetLoopback(bool)
	Close() error
}

// compileBPF turns a filter expression into classic BPF instructions for
// an ethernet socket.
func compileBPF(snaplen int, expr string) ([]pcap.BPFInstruction, error) {
	insts, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snaplen, expr)
	if err != nil {
		return nil, errors.Wrapf(err, "compile BPF filter %q", expr)
	}
	if len(insts) > int(^uint16(0)) {
		return nil, errors.Errorf("filters out of range 0-%d", ^uint16(0))
	}
	return insts, nil
}

// afpacketComputeSize picks a ring layout holding about targetSizeMb
// megabytes of frames of at least snaplen bytes.
func afpacketComputeSize(targetSizeMb int, snaplen int, pageSize int) (
	frameSize int, blockSize int, numBlocks int, err error) {
	if snaplen < pageSize {
		frameSize = pageSize / (pageSize / snaplen)
	} else {
		frameSize = (snaplen/pageSize + 1) * pageSize
	}

	// 128 frames per block, the afpacket default
	blockSize = frameSize * 128
	numBlocks = (targetSizeMb << 20) / blockSize
	if numBlocks == 0 {
		return 0, 0, 0, errors.Errorf("buffer of %dMB is too small for frames of %d bytes", targetSizeMb, frameSize)
	}
	return frameSize, blockSize, numBlocks, nil
}
