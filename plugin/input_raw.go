package plugin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/capture"
	"github.com/vearne/httpsniffer/http1"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/size"
	"github.com/vearne/httpsniffer/tcp"
	"github.com/vearne/httpsniffer/util"
	slog "github.com/vearne/simplelog"
)

// ErrorStopped is the error returned when the go routines reading the input is stopped.
var ErrorStopped = errors.New("reading stopped")

// RAWInputConfig represents configuration that can be applied on raw input
type RAWInputConfig struct {
	capture.PcapOptions
	Expire     time.Duration `json:"input-raw-expire"`
	MaxPending size.Size     `json:"input-raw-max-pending"`
}

// RAWInput used for intercepting traffic for given address
type RAWInput struct {
	sync.Mutex
	config         RAWInputConfig
	listener       *capture.Listener
	processor      *http1.Processor
	target         *tcp.Target
	cancelListener context.CancelFunc
	closed         bool

	quit  chan struct{} // closed by Close, unblocks the packet handler
	host  string
	ports []uint16
}

// NewRAWInput constructor for RAWInput. Accepts raw input config as arguments.
func NewRAWInput(address string, config RAWInputConfig) (*RAWInput, error) {
	slog.Debug("address:%q", address)
	host, ports, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(host, "pcap") {
		config.Engine = capture.EnginePcapFile
	}

	i := newRAWInput(config, host, ports)
	i.listener, err = capture.NewListener(host, ports, i.config.PcapOptions, i.handlePacket)
	if err != nil {
		return nil, errors.Wrap(err, "input-raw")
	}
	i.target = i.buildTarget()

	err = i.listener.Activate()
	if err != nil {
		return nil, errors.Wrap(err, "input-raw")
	}
	i.listen()
	return i, nil
}

func newRAWInput(config RAWInputConfig, host string, ports []uint16) *RAWInput {
	i := new(RAWInput)
	i.config = config
	i.host = host
	i.ports = ports
	i.quit = make(chan struct{})
	i.target = &tcp.Target{IPSet: util.NewStringSet(), Ports: ports}

	pc := http1.DefaultProcessorConfig()
	if config.Expire > 0 {
		pc.Expire = config.Expire
	}
	if config.MaxPending > 0 {
		pc.MaxPending = int64(config.MaxPending)
	}
	i.processor = http1.NewProcessor(make(chan *tcp.NetPkg, 1000), pc)
	go i.processor.ProcessTCPPkg()
	return i
}

// parseAddress splits "host:port[,port]". The host part is an interface
// name, an IP, a pcap file or a k8s:// selector.
func parseAddress(address string) (host string, ports []uint16, err error) {
	portIndex := strings.LastIndex(address, ":")
	if portIndex < 0 {
		// If we are reading pcap file, no port needed
		if strings.HasSuffix(address, "pcap") {
			return address, nil, nil
		}
		return "", nil, errors.Errorf("input-raw: missing port in address %q", address)
	}
	host = address[:portIndex]
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		host = "0.0.0.0"
	}

	for _, portStr := range strings.Split(address[portIndex+1:], ",") {
		port, err := strconv.Atoi(strings.TrimSpace(portStr))
		if err != nil || port <= 0 || port > 65535 {
			return "", nil, errors.Errorf("input-raw: invalid port %q in address %q", portStr, address)
		}
		ports = append(ports, uint16(port))
	}
	return host, ports, nil
}

// buildTarget decides which side of a flow is the server.
func (i *RAWInput) buildTarget() *tcp.Target {
	target := &tcp.Target{IPSet: util.NewStringSet(), Ports: i.ports}
	switch {
	case capture.IsK8sAddress(i.host):
		// pod IPs change over time, the BPF filter already restricts hosts
	case i.host == "0.0.0.0" || i.host == "::":
		ips, err := util.LocalIPs()
		if err != nil {
			slog.Warn("input-raw: list local addresses, %v", err)
		}
		target.IPSet = ips
	default:
		target.IPSet.AddAll(i.listener.TargetIPs())
	}
	slog.Debug("input-raw target, ips:%v, ports:%v", target.IPSet.ToArray(), target.Ports)
	return target
}

func (i *RAWInput) handlePacket(packet gopacket.Packet) {
	pkg, err := tcp.ProcessPacket(packet, i.target)
	if err != nil {
		slog.Debug("input-raw: skip packet, %v", err)
		return
	}
	select {
	case i.processor.InputChan <- pkg:
	case <-i.quit:
	}
}

// Read returns the next reconstructed exchange.
func (i *RAWInput) Read() (*model.Exchange, error) {
	ex, ok := <-i.processor.OutputChan
	if !ok {
		return nil, ErrorStopped
	}
	return ex, nil
}

func (i *RAWInput) listen() {
	var ctx context.Context
	ctx, i.cancelListener = context.WithCancel(context.Background())
	errCh := i.listener.ListenBackground(ctx)
	<-i.listener.Reading

	slog.Debug("RAWInput.listen")
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("input-raw: listener stopped, %v", err)
		}
		// every handle has stopped reading, flush the flows
		i.stopProcessor()
	}()
}

func (i *RAWInput) stopProcessor() {
	close(i.processor.InputChan)
}

func (i *RAWInput) String() string {
	return fmt.Sprintf("Intercepting traffic from: %s:%s",
		i.host, strings.Join(strings.Fields(fmt.Sprint(i.ports)), ","))
}

// Close stops capturing. Exchanges still held by open flows are
// flushed and can be drained with Read until it returns ErrorStopped.
func (i *RAWInput) Close() error {
	i.Lock()
	defer i.Unlock()
	if i.closed {
		return nil
	}
	close(i.quit)
	if i.cancelListener != nil {
		i.cancelListener()
	}
	i.closed = true
	return nil
}
