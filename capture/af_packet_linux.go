//go:build linux
// +build linux

package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/pkg/errors"
	"golang.org/x/net/bpf"
)

type afpacketHandle struct {
	TPacket *afpacket.TPacket
}

func newAfpacketHandle(device string, frameSize int, blockSize int, numBlocks int,
	timeout time.Duration) (*afpacketHandle, error) {
	h, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3)
	if err != nil {
		return nil, errors.Wrapf(err, "af_packet, interface: %q", device)
	}
	return &afpacketHandle{TPacket: h}, nil
}

// ReadPacketData satisfies PacketDataSource interface
func (h *afpacketHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = h.TPacket.ReadPacketData()
	if err == afpacket.ErrTimeout {
		err = errReadTimeout
	}
	return
}

// SetBPFFilter translates a BPF filter string into BPF RawInstruction and applies them.
func (h *afpacketHandle) SetBPFFilter(filter string, snaplen int) error {
	insts, err := compileBPF(snaplen, filter)
	if err != nil {
		return err
	}
	raw := make([]bpf.RawInstruction, len(insts))
	for i, inst := range insts {
		raw[i] = bpf.RawInstruction{Op: inst.Code, Jt: inst.Jt, Jf: inst.Jf, K: inst.K}
	}
	if len(raw) == 0 {
		return nil
	}
	return h.TPacket.SetBPF(raw)
}

func (h *afpacketHandle) Close() error {
	h.TPacket.Close()
	return nil
}
