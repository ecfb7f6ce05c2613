package capture

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/size"
	slog "github.com/vearne/simplelog"
)

var stats *expvar.Map

func init() {
	stats = expvar.NewMap("raw")
	stats.Init()
}

// PacketHandler is called for every captured packet, from the goroutine
// reading the handle.
type PacketHandler func(packet gopacket.Packet)

type PcapStatProvider interface {
	Stats() (*pcap.Stats, error)
}

type PcapSetFilter interface {
	SetBPFFilter(string) error
}

// PcapOptions options that can be set on a pcap capture handle,
// these options take effect on inactive pcap handles
type PcapOptions struct {
	BufferTimeout   time.Duration `json:"input-raw-buffer-timeout"`
	BPFFilter       string        `json:"input-raw-bpf-filter"`
	BufferSize      size.Size     `json:"input-raw-buffer-size"`
	Promiscuous     bool          `json:"input-raw-promisc"`
	Snaplen         bool          `json:"input-raw-override-snaplen"`
	Engine          EngineType    `json:"input-raw-engine"`
	IgnoreInterface []string      `json:"input-raw-ignore-interface"`
}

// Listener handle traffic capture, this is its representation.
type Listener struct {
	sync.Mutex

	config PcapOptions

	Activate   func() error // function is used to activate the engine. it must be called before reading packets
	Handles    map[string]packetHandle
	Interfaces []pcap.Interface
	Reading    chan bool // this channel is closed when the listener has started reading packets

	handler PacketHandler
	ports   []uint16
	host    string // pcap file name, interface name, ip address or k8s:// selector
	podIPs  []string

	closeDone chan struct{}
	quit      chan struct{}
	closed    bool
}

type packetHandle struct {
	source  gopacket.PacketDataSource
	decoder gopacket.Decoder
}

// EngineType ...
type EngineType uint8

// Available engines for intercepting traffic
const (
	EnginePcap EngineType = 1 << iota
	EnginePcapFile
	EngineRawSocket
	EngineAFPacket
)

// Set is here so that EngineType can implement flag.Var
func (eng *EngineType) Set(v string) error {
	switch v {
	case "", "libpcap":
		*eng = EnginePcap
	case "pcap_file":
		*eng = EnginePcapFile
	case "raw_socket":
		*eng = EngineRawSocket
	case "af_packet":
		*eng = EngineAFPacket
	default:
		return fmt.Errorf("invalid engine %s", v)
	}
	return nil
}

func (eng *EngineType) String() (e string) {
	switch *eng {
	case EnginePcapFile:
		e = "pcap_file"
	case EnginePcap:
		e = "libpcap"
	case EngineRawSocket:
		e = "raw_socket"
	case EngineAFPacket:
		e = "af_packet"
	default:
		e = ""
	}
	return e
}

// NewListener creates and initialize a new Listener. Interfaces are
// looked up for live capture; a pcap file is only opened by Activate.
func NewListener(host string, ports []uint16, config PcapOptions, handler PacketHandler) (l *Listener, err error) {
	l = &Listener{}

	l.host = host
	if l.host == "localhost" {
		l.host = "127.0.0.1"
	}
	l.ports = ports
	l.config = config
	l.handler = handler
	l.Handles = make(map[string]packetHandle)

	l.closeDone = make(chan struct{})
	l.quit = make(chan struct{})
	l.Reading = make(chan bool)

	if IsK8sAddress(l.host) {
		l.podIPs, err = k8sIPs(l.host[len(k8sScheme):])
		if err != nil {
			return nil, err
		}
		l.config.BPFFilter = l.Filter(pcap.Interface{}, l.podIPs...)
	}

	switch config.Engine {
	case EnginePcapFile:
		l.Activate = l.activatePcapFile
		return
	case EngineRawSocket:
		l.Activate = l.activateRawSocket
	case EngineAFPacket:
		l.Activate = l.activateAFPacket
	default:
		l.Activate = l.activatePcap
	}

	err = l.setInterfaces()
	if err != nil {
		return nil, err
	}
	return
}

// TargetIPs are the server addresses being watched, empty when any
// address on the captured interfaces counts.
func (l *Listener) TargetIPs() []string {
	l.Lock()
	defer l.Unlock()
	if IsK8sAddress(l.host) {
		return append([]string(nil), l.podIPs...)
	}
	if l.config.Engine == EnginePcapFile || listenAll(l.host) {
		return nil
	}
	if net.ParseIP(l.host) != nil {
		return []string{l.host}
	}
	// an interface name
	var ips []string
	for _, ifi := range l.Interfaces {
		ips = append(ips, interfaceAddresses(ifi)...)
	}
	return ips
}

// Listen listens for packets from the handles, and call handler on every packet received
// until the context done signal is sent or there is unrecoverable error on all handles.
// this function must be called after activating pcap handles
func (l *Listener) Listen(ctx context.Context) (err error) {
	l.Lock()
	for key, handle := range l.Handles {
		go l.readHandle(key, handle)
	}
	l.Unlock()

	if IsK8sAddress(l.host) {
		go l.watchPods()
	}

	close(l.Reading)
	done := ctx.Done()
	select {
	case <-done:
		close(l.quit) // signal close on all handles
		<-l.closeDone // wait all handles to be closed
		err = ctx.Err()
	case <-l.closeDone: // all handles closed voluntarily
	}

	l.Lock()
	l.closed = true
	l.Unlock()
	return
}

// ListenBackground is like listen but can run concurrently and signal error through channel
func (l *Listener) ListenBackground(ctx context.Context) chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if e := l.Listen(ctx); e != nil {
			errCh <- e
		}
	}()
	return errCh
}

// watchPods follows pod IP changes and updates the BPF filter.
func (l *Listener) watchPods() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.quit:
			return
		case <-l.closeDone:
			return
		case <-ticker.C:
		}

		ips, err := k8sIPs(l.host[len(k8sScheme):])
		if err != nil {
			slog.Warn("refresh pod IPs, host:%v, error:%v", l.host, err)
			continue
		}
		newFilter := l.Filter(pcap.Interface{}, ips...)

		l.Lock()
		if newFilter != l.config.BPFFilter {
			slog.Info("k8s pods configuration changed, new filter:%v", newFilter)
			for _, h := range l.Handles {
				if f, ok := h.source.(PcapSetFilter); ok {
					if err = f.SetBPFFilter(newFilter); err != nil {
						slog.Error("SetBPFFilter:%v", err)
					}
				}
			}
			l.config.BPFFilter = newFilter
			l.podIPs = ips
		}
		l.Unlock()
	}
}

// Filter returns the BPF filter applied to a pcap handle of a specific
// interface. Both directions of the target ports are captured.
func (l *Listener) Filter(ifi pcap.Interface, hosts ...string) (filter string) {
	// https://www.tcpdump.org/manpages/pcap-filter.7.html

	if len(hosts) == 0 && !IsK8sAddress(l.host) && l.host != "" {
		hosts = []string{l.host}
		if listenAll(l.host) || isDevice(l.host, ifi) {
			hosts = interfaceAddresses(ifi)
		}
	}

	requestFilter := portsFilter("tcp", "dst", l.ports)
	responseFilter := portsFilter("tcp", "src", l.ports)
	if len(hosts) != 0 && !l.config.Promiscuous {
		requestFilter = fmt.Sprintf("((%s) and (%s))", requestFilter, hostsFilter("dst", hosts))
		responseFilter = fmt.Sprintf("((%s) and (%s))", responseFilter, hostsFilter("src", hosts))
	} else {
		requestFilter = fmt.Sprintf("(%s)", requestFilter)
		responseFilter = fmt.Sprintf("(%s)", responseFilter)
	}
	return requestFilter + " or " + responseFilter
}

// PcapHandle returns new pcap Handle from dev on success.
// this function should be called after setting all necessary options for this listener
func (l *Listener) PcapHandle(ifi pcap.Interface) (handle *pcap.Handle, err error) {
	var inactive *pcap.InactiveHandle
	inactive, err = pcap.NewInactiveHandle(ifi.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "inactive handle, interface: %q", ifi.Name)
	}
	defer inactive.CleanUp()

	if l.config.Promiscuous {
		if err = inactive.SetPromisc(l.config.Promiscuous); err != nil {
			return nil, errors.Wrapf(err, "promiscuous mode, interface: %q", ifi.Name)
		}
	}

	var snap int
	if !l.config.Snaplen {
		infs, _ := net.Interfaces()
		for _, i := range infs {
			if i.Name == ifi.Name {
				snap = i.MTU + 200
			}
		}
	}
	if snap == 0 {
		snap = 64<<10 + 200
	}

	err = inactive.SetSnapLen(snap)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot length, interface: %q", ifi.Name)
	}
	if l.config.BufferSize > 0 {
		err = inactive.SetBufferSize(int(l.config.BufferSize))
		if err != nil {
			return nil, errors.Wrapf(err, "handle buffer size, interface: %q", ifi.Name)
		}
	}
	err = inactive.SetTimeout(l.bufferTimeout())
	if err != nil {
		return nil, errors.Wrapf(err, "handle buffer timeout, interface: %q", ifi.Name)
	}
	handle, err = inactive.Activate()
	if err != nil {
		return nil, errors.Wrapf(err, "PCAP Activate device, interface: %q", ifi.Name)
	}

	bpfFilter := l.config.BPFFilter
	if bpfFilter == "" {
		bpfFilter = l.Filter(ifi)
	}
	slog.Info("Interface:%v, BPF Filter:%v", ifi.Name, bpfFilter)
	err = handle.SetBPFFilter(bpfFilter)
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "BPF filter %q, interface: %q", bpfFilter, ifi.Name)
	}
	return
}

// SocketHandle returns new unix ethernet handle associated with this listener settings
func (l *Listener) SocketHandle(ifi pcap.Interface) (handle Socket, err error) {
	ni, err := net.InterfaceByName(ifi.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "interface: %q", ifi.Name)
	}
	handle, err = NewSocket(*ni)
	if err != nil {
		return nil, errors.Wrapf(err, "sock raw, interface: %q", ifi.Name)
	}
	if err = handle.SetPromiscuous(l.config.Promiscuous); err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "promiscuous mode, interface: %q", ifi.Name)
	}
	if err = handle.SetTimeout(l.bufferTimeout()); err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "handle buffer timeout, interface: %q", ifi.Name)
	}

	bpfFilter := l.config.BPFFilter
	if bpfFilter == "" {
		bpfFilter = l.Filter(ifi)
	}
	slog.Info("Interface:%v, BPF Filter:%v", ifi.Name, bpfFilter)
	if err = handle.SetBPFFilter(bpfFilter); err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "BPF filter %q, interface: %q", bpfFilter, ifi.Name)
	}
	handle.SetLoopback(ni.Flags&net.FlagLoopback != 0)
	return handle, nil
}

func (l *Listener) bufferTimeout() time.Duration {
	if l.config.BufferTimeout == 0 {
		return 2000 * time.Millisecond
	}
	return l.config.BufferTimeout
}

func (l *Listener) readHandle(key string, hndl packetHandle) {
	defer l.closeHandles(key)
	l.readSource(key, hndl)
}

// readSource delivers packets until the source is exhausted or the
// listener quits.
func (l *Listener) readSource(key string, hndl packetHandle) {
	timer := time.NewTicker(1 * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-l.quit:
			return
		case <-timer.C:
			if h, ok := hndl.source.(PcapStatProvider); ok {
				s, err := h.Stats()
				if err == nil {
					stats.Add("packets_received", int64(s.PacketsReceived))
					stats.Add("packets_dropped", int64(s.PacketsDropped))
					stats.Add("packets_if_dropped", int64(s.PacketsIfDropped))
				}
			}
		default:
			data, ci, err := hndl.source.ReadPacketData()
			if err == nil {
				packet := gopacket.NewPacket(data, hndl.decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
				md := packet.Metadata()
				md.CaptureInfo = ci
				stats.Add("packets_read", 1)
				l.handler(packet)
				continue
			}
			if enext, ok := err.(pcap.NextError); ok && enext == pcap.NextErrorTimeoutExpired {
				continue
			}
			if err == errReadTimeout {
				continue
			}
			if eno, ok := err.(syscall.Errno); ok && eno.Temporary() {
				continue
			}
			if enet, ok := err.(*net.OpError); ok && enet.Timeout() {
				continue
			}
			if err == io.EOF || err == io.ErrClosedPipe {
				slog.Info("stopped reading from %v, %v", key, err)
				return
			}

			slog.Error("stopped reading from %v interface with error %v", key, err)
			return
		}
	}
}

func (l *Listener) closeHandles(key string) {
	l.Lock()
	defer l.Unlock()
	if handle, ok := l.Handles[key]; ok {
		if c, ok := handle.source.(io.Closer); ok {
			c.Close()
		}
		if h, ok := handle.source.(*pcap.Handle); ok {
			h.Close()
		}

		delete(l.Handles, key)
		if len(l.Handles) == 0 {
			close(l.closeDone)
		}
	}
}

func (l *Listener) activatePcap() error {
	var msg string
	for _, ifi := range l.Interfaces {
		if _, found := l.Handles[ifi.Name]; found {
			continue
		}

		handle, e := l.PcapHandle(ifi)
		if e != nil {
			msg += "\n" + e.Error()
			continue
		}
		l.Handles[ifi.Name] = packetHandle{
			source:  handle,
			decoder: handle.LinkType(),
		}
	}
	if len(l.Handles) == 0 {
		return errors.Errorf("pcap handles error:%s", msg)
	}
	return nil
}

func (l *Listener) activateRawSocket() error {
	if runtime.GOOS != "linux" {
		return errors.New("sock_raw is not stabilized on OS other than linux")
	}
	var msg string
	for _, ifi := range l.Interfaces {
		if _, found := l.Handles[ifi.Name]; found {
			continue
		}
		handle, e := l.SocketHandle(ifi)
		if e != nil {
			msg += "\n" + e.Error()
			continue
		}
		l.Handles[ifi.Name] = packetHandle{
			source:  handle,
			decoder: layers.LinkTypeEthernet,
		}
	}
	if len(l.Handles) == 0 {
		return errors.Errorf("raw socket handles error:%s", msg)
	}
	return nil
}

func (l *Listener) activateAFPacket() error {
	targetMb := 32
	if l.config.BufferSize > 0 {
		targetMb = int(l.config.BufferSize >> 20)
	}
	frameSize, blockSize, numBlocks, err := afpacketComputeSize(targetMb, 64<<10, os.Getpagesize())
	if err != nil {
		return err
	}

	var msg string
	for _, ifi := range l.Interfaces {
		if _, found := l.Handles[ifi.Name]; found {
			continue
		}

		handle, e := newAfpacketHandle(ifi.Name, frameSize, blockSize, numBlocks, l.bufferTimeout())
		if e != nil {
			msg += "\n" + e.Error()
			continue
		}

		bpfFilter := l.config.BPFFilter
		if bpfFilter == "" {
			bpfFilter = l.Filter(ifi)
		}
		slog.Info("Interface:%v, BPF Filter:%v", ifi.Name, bpfFilter)
		if e = handle.SetBPFFilter(bpfFilter, frameSize); e != nil {
			handle.Close()
			msg += "\n" + e.Error()
			continue
		}

		l.Handles[ifi.Name] = packetHandle{
			source:  handle,
			decoder: layers.LinkTypeEthernet,
		}
	}

	if len(l.Handles) == 0 {
		return errors.Errorf("af_packet handles error:%s", msg)
	}
	return nil
}

func (l *Listener) activatePcapFile() (err error) {
	var handle *pcap.Handle
	var e error
	if handle, e = pcap.OpenOffline(l.host); e != nil {
		return errors.Wrap(e, "open pcap file")
	}

	tmp := l.host
	l.host = ""
	if l.config.BPFFilter == "" {
		l.config.BPFFilter = l.Filter(pcap.Interface{})
	}
	l.host = tmp

	if e = handle.SetBPFFilter(l.config.BPFFilter); e != nil {
		handle.Close()
		return errors.Wrapf(e, "BPF filter %q", l.config.BPFFilter)
	}
	slog.Info("pcap file:%v, BPF Filter:%v", l.host, l.config.BPFFilter)

	l.Handles["pcap_file"] = packetHandle{
		source:  handle,
		decoder: handle.LinkType(),
	}
	return
}

func (l *Listener) setInterfaces() (err error) {
	var pifis []pcap.Interface
	pifis, err = pcap.FindAllDevs()
	ifis, _ := net.Interfaces()
	l.Interfaces = []pcap.Interface{}

	if err != nil {
		return
	}

	for _, pi := range pifis {
		ignore := false
		for _, ig := range l.config.IgnoreInterface {
			if pi.Name == ig {
				ignore = true
				break
			}
		}
		if ignore {
			continue
		}

		if IsK8sAddress(l.host) && !strings.HasPrefix(pi.Name, "veth") {
			continue
		}

		if isDevice(l.host, pi) {
			l.Interfaces = []pcap.Interface{pi}
			return
		}

		var ni net.Interface
		for _, i := range ifis {
			if i.Name == pi.Name {
				ni = i
				break
			}
		}

		if runtime.GOOS != "windows" {
			if len(pi.Addresses) == 0 {
				continue
			}
			if ni.Flags&net.FlagUp == 0 {
				continue
			}
		}

		l.Interfaces = append(l.Interfaces, pi)
	}
	return
}

func isDevice(addr string, ifi pcap.Interface) bool {
	if addr == ifi.Name {
		return true
	}

	if strings.HasSuffix(addr, "*") {
		if strings.HasPrefix(ifi.Name, addr[:len(addr)-1]) {
			return true
		}
	}

	for _, _addr := range ifi.Addresses {
		if _addr.IP.String() == addr {
			return true
		}
	}
	return false
}

func interfaceAddresses(ifi pcap.Interface) []string {
	var hosts []string
	for _, addr := range ifi.Addresses {
		hosts = append(hosts, addr.IP.String())
	}
	return hosts
}

func listenAll(addr string) bool {
	switch addr {
	case "", "0.0.0.0", "[::]", "::":
		return true
	}
	return false
}

func portsFilter(transport string, direction string, ports []uint16) string {
	if len(ports) == 0 || ports[0] == 0 {
		return fmt.Sprintf("%s %s portrange 0-%d", transport, direction, 1<<16-1)
	}

	var filters []string
	for _, port := range ports {
		filters = append(filters, fmt.Sprintf("%s %s port %d", transport, direction, port))
	}
	return strings.Join(filters, " or ")
}

func hostsFilter(direction string, hosts []string) string {
	var hostsFilters []string
	for _, host := range hosts {
		hostsFilters = append(hostsFilters, fmt.Sprintf("%s host %s", direction, host))
	}
	return strings.Join(hostsFilters, " or ")
}
