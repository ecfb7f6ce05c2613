//go:build linux
// +build linux

package capture

import (
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// ETHALL htons(ETH_P_ALL)
	ETHALL uint16 = unix.ETH_P_ALL<<8 | unix.ETH_P_ALL>>8
	// BLOCKSIZE ring buffer block_size
	BLOCKSIZE = 64 << 10
	// BLOCKNR ring buffer block_nr
	BLOCKNR = (2 << 20) / BLOCKSIZE // 2mb / 64kb
	// FRAMESIZE ring buffer frame_size
	FRAMESIZE = BLOCKSIZE
	// FRAMENR ring buffer frame_nr
	FRAMENR = BLOCKNR * BLOCKSIZE / FRAMESIZE
)

var tpacket2hdrlen = tpAlign(int(unsafe.Sizeof(unix.Tpacket2Hdr{})))

// SockRaw is a linux M'maped af_packet socket
type SockRaw struct {
	mu      sync.Mutex
	fd      int
	ifindex int
	snaplen int
	// poll timeout in milliseconds, negative blocks
	pollTimeout int
	frame       uint32 // current frame
	buf         []byte // points to the memory space of the ring buffer shared with the kernel.
	loopback    bool
}

// NewSocket returns new M'maped sock_raw on packet version 2.
func NewSocket(ifi net.Interface) (Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(ETHALL))
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	sock := &SockRaw{
		fd:          fd,
		ifindex:     ifi.Index,
		snaplen:     FRAMESIZE,
		pollTimeout: -1,
	}

	err = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt packet_version")
	}

	err = unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: ETHALL, Ifindex: ifi.Index})
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind to %v", ifi.Name)
	}

	// shared-memory ring buffer
	tp := &unix.TpacketReq{
		Block_size: BLOCKSIZE,
		Block_nr:   BLOCKNR,
		Frame_size: FRAMESIZE,
		Frame_nr:   FRAMENR,
	}
	err = unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, tp)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt packet_rx_ring")
	}
	sock.buf, err = unix.Mmap(fd, 0, BLOCKSIZE*BLOCKNR,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "socket mmap")
	}
	return sock, nil
}

// ReadPacketData implements gopacket.PacketDataSource.
func (sock *SockRaw) ReadPacketData() (buf []byte, ci gopacket.CaptureInfo, err error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.fd == -1 {
		return nil, ci, errors.WithStack(net.ErrClosed)
	}

	for {
		i := int(sock.frame * FRAMESIZE)
		tpHdr := (*unix.Tpacket2Hdr)(unsafe.Pointer(&sock.buf[i]))
		if tpHdr.Status&unix.TP_STATUS_USER == 0 {
			fds := []unix.PollFd{{Fd: int32(sock.fd), Events: unix.POLLIN}}
			_, err = unix.Poll(fds, sock.pollTimeout)
			if err != nil && err != unix.EINTR {
				return nil, ci, err
			}
			if tpHdr.Status&unix.TP_STATUS_USER == 0 {
				return nil, ci, errReadTimeout
			}
		}
		sock.frame = (sock.frame + 1) % FRAMENR

		sockAddr := (*unix.RawSockaddrLinklayer)(unsafe.Pointer(&sock.buf[i+tpacket2hdrlen]))
		if sock.loopback && sockAddr.Pkttype == unix.PACKET_OUTGOING {
			tpHdr.Status = unix.TP_STATUS_KERNEL
			continue
		}

		ci.Length = int(tpHdr.Len)
		ci.Timestamp = time.Unix(int64(tpHdr.Sec), int64(tpHdr.Nsec))
		ci.InterfaceIndex = int(sockAddr.Ifindex)
		buf = make([]byte, tpHdr.Snaplen)
		ci.CaptureLength = copy(buf, sock.buf[i+int(tpHdr.Mac):])
		// hand the frame back to the kernel
		tpHdr.Status = unix.TP_STATUS_KERNEL
		return buf, ci, nil
	}
}

// Close closes the underlying socket
func (sock *SockRaw) Close() (err error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.fd != -1 {
		_ = unix.Munmap(sock.buf)
		sock.buf = nil
		err = unix.Close(sock.fd)
		sock.fd = -1
	}
	return
}

// SetSnapLen sets the maximum capture length to the given value.
// for this to take effects on the kernel level SetBPFilter should be called too.
func (sock *SockRaw) SetSnapLen(snap int) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if snap < 0 {
		return errors.Errorf("expected %d snap length to be at least 0", snap)
	}
	if snap > FRAMESIZE {
		snap = FRAMESIZE
	}
	sock.snaplen = snap
	return nil
}

// SetTimeout sets poll wait timeout for the socket.
// negative value will block forever
func (sock *SockRaw) SetTimeout(t time.Duration) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if t < 0 {
		sock.pollTimeout = -1
		return nil
	}
	sock.pollTimeout = int(t / time.Millisecond)
	return nil
}

// GetSnapLen returns the maximum capture length
func (sock *SockRaw) GetSnapLen() int {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.snaplen
}

// SetBPFFilter compiles and sets a BPF filter for the socket handle.
func (sock *SockRaw) SetBPFFilter(expr string) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if expr == "" {
		return unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0)
	}
	insts, err := compileBPF(sock.snaplen, expr)
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		return unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0)
	}
	filter := make([]unix.SockFilter, len(insts))
	for i, inst := range insts {
		filter[i] = unix.SockFilter{Code: inst.Code, Jt: inst.Jt, Jf: inst.Jf, K: inst.K}
	}
	fprog := &unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	return unix.SetsockoptSockFprog(sock.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
}

// SetPromiscuous sets promiscuous mode to the required value. for better result capture on all interfaces instead.
// If it is enabled, traffic not destined for the interface will also be captured.
func (sock *SockRaw) SetPromiscuous(b bool) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	mreq := unix.PacketMreq{
		Ifindex: int32(sock.ifindex),
		Type:    unix.PACKET_MR_PROMISC,
	}

	opt := unix.PACKET_ADD_MEMBERSHIP
	if !b {
		opt = unix.PACKET_DROP_MEMBERSHIP
	}

	return unix.SetsockoptPacketMreq(sock.fd, unix.SOL_PACKET, opt, &mreq)
}

func (sock *SockRaw) SetLoopback(b bool) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	sock.loopback = b
}

func tpAlign(x int) int {
	return int((uint(x) + unix.TPACKET_ALIGNMENT - 1) &^ (unix.TPACKET_ALIGNMENT - 1))
}
