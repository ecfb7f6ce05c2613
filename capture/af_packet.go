//go:build !linux
// +build !linux

package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
)

type afpacketHandle struct{}

func newAfpacketHandle(device string, frameSize int, blockSize int, numBlocks int,
	timeout time.Duration) (*afpacketHandle, error) {
	return nil, errors.New("af_packet is only available on linux")
}

// ReadPacketData satisfies PacketDataSource interface
func (h *afpacketHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return nil, gopacket.CaptureInfo{}, errors.New("not implemented")
}

// SetBPFFilter translates a BPF filter string into BPF RawInstruction and applies them.
func (h *afpacketHandle) SetBPFFilter(filter string, snaplen int) error {
	return errors.New("not implemented")
}

func (h *afpacketHandle) Close() error {
	return nil
}
