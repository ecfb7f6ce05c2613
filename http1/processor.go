package http1

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	fsm "github.com/smallnest/gofsm"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/proto"
	"github.com/vearne/httpsniffer/tcp"
	slog "github.com/vearne/simplelog"
)

const (
	DefaultExpire     = 2 * time.Minute
	DefaultCloseGrace = 2 * time.Second
	DefaultMaxPending = 16 << 20
)

type ProcessorConfig struct {
	// idle time after which a flow is closed
	Expire time.Duration
	// how long a closed flow still accepts retransmissions
	CloseGrace time.Duration
	// out-of-order bytes a flow may hold before it is evicted, 0 means no limit
	MaxPending int64
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Expire:     DefaultExpire,
		CloseGrace: DefaultCloseGrace,
		MaxPending: DefaultMaxPending,
	}
}

// Processor demultiplexes TCP packets into per-flow sessions and
// publishes finished exchanges on OutputChan.
type Processor struct {
	InputChan  chan *tcp.NetPkg
	OutputChan chan *model.Exchange

	config ProcessorConfig
	// client -> server connection string => *Session
	flows *cache.Cache
	fsm   *fsm.StateMachine

	emitMu  sync.RWMutex
	stopped bool
}

func NewProcessor(input chan *tcp.NetPkg, config ProcessorConfig) *Processor {
	var p Processor
	p.InputChan = input
	p.OutputChan = make(chan *model.Exchange, 100)
	p.config = config
	if p.config.Expire <= 0 {
		p.config.Expire = DefaultExpire
	}
	if p.config.CloseGrace <= 0 {
		p.config.CloseGrace = DefaultCloseGrace
	}

	cleanup := p.config.Expire / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	p.flows = cache.New(p.config.Expire, cleanup)
	p.flows.OnEvicted(func(key string, v interface{}) {
		v.(*Session).Close()
	})
	p.fsm = tcp.InitFlowFSM(&tcp.FlowEventProcessor{})

	slog.Info("create new Processor, expire:%v, maxPending:%v", p.config.Expire, p.config.MaxPending)
	return &p
}

func (p *Processor) ProcessTCPPkg() {
	for pkg := range p.InputChan {
		p.Handle(pkg)
	}
	p.Close()
}

// Handle routes one packet to its flow.
func (p *Processor) Handle(pkg *tcp.NetPkg) {
	seg := pkg.TCP
	fromClient, ok := p.classify(pkg)
	if !ok {
		dc := pkg.DirectConn()
		slog.Debug("unknown direction, drop pkg:%v, flags:%v", dc.String(), pkg.TCPFlags())
		return
	}

	conn := pkg.DirectConn()
	if !fromClient {
		conn = conn.Reverse()
	}
	key := conn.String()

	sess := p.lookup(key)
	if sess != nil && seg.SYN && !seg.ACK && sess.FlowState.State == tcp.StateClosed {
		// the port pair is reused by a new connection
		p.flows.Delete(key)
		sess = nil
	}
	if sess == nil {
		if !seg.SYN && len(seg.Payload) == 0 {
			return
		}
		sess = NewSession(conn, p.emit)
	}
	if sess.FlowState.State != tcp.StateClosed {
		p.flows.Set(key, sess, cache.DefaultExpiration)
	}

	dir := model.DirRequest
	if !fromClient {
		dir = model.DirResponse
	}
	ts := sess.FlowState

	switch {
	case seg.RST:
		p.trigger(key, sess, tcp.EventRST)
		return
	case seg.SYN && !seg.ACK:
		ts.ClientISN = seg.Seq
		ts.HasClientISN = true
		p.trigger(key, sess, tcp.EventSYN)
	case seg.SYN:
		ts.ServerISN = seg.Seq
		ts.HasServerISN = true
		if !ts.HasClientISN {
			ts.ClientISN = seg.Ack - 1
			ts.HasClientISN = true
		}
		p.trigger(key, sess, tcp.EventSYNACK)
	}

	seq := seg.Seq
	if seg.SYN {
		seq++
	}
	if len(seg.Payload) > 0 {
		p.trigger(key, sess, tcp.EventData)
		// parse failures are logged by the adapter
		_, _ = sess.Absorb(dir, seq, seg.Payload)
	}
	if seg.FIN {
		sess.EndOfStream(dir, seq+uint32(len(seg.Payload)))
		if ts.MarkFIN(fromClient) {
			p.trigger(key, sess, tcp.EventFIN)
		}
	}

	if p.config.MaxPending > 0 && int64(sess.PendingBytes()) > p.config.MaxPending {
		slog.Warn("too many out-of-order bytes, evict DirectConn:%v", key)
		p.flows.Delete(key)
	}
}

// classify reports whether the packet was sent by the client.
func (p *Processor) classify(pkg *tcp.NetPkg) (fromClient bool, ok bool) {
	seg := pkg.TCP
	if seg.SYN {
		return !seg.ACK, true
	}

	dc := pkg.DirectConn()
	if _, found := p.flows.Get(dc.String()); found {
		return true, true
	}
	if _, found := p.flows.Get(dc.Reverse().String()); found {
		return false, true
	}

	switch pkg.Direction {
	case model.DirRequest:
		return true, true
	case model.DirResponse:
		return false, true
	}

	switch {
	case proto.HasRequestTitle(seg.Payload):
		return true, true
	case proto.HasResponseTitle(seg.Payload):
		return false, true
	}
	return false, false
}

func (p *Processor) lookup(key string) *Session {
	v, found := p.flows.Get(key)
	if !found {
		return nil
	}
	sess := v.(*Session)
	if sess.Closed() {
		return nil
	}
	return sess
}

func (p *Processor) trigger(key string, sess *Session, event string) {
	ts := sess.FlowState
	err := p.fsm.Trigger(ts.State, event, ts, &flowEvents{p: p, key: key, session: sess})
	if err != nil {
		slog.Debug("DirectConn:%v, state:%v, event:%v, %v", key, ts.State, event, err)
	}
}

func (p *Processor) emit(ex *model.Exchange) {
	p.emitMu.RLock()
	defer p.emitMu.RUnlock()
	if p.stopped {
		slog.Debug("processor stopped, drop exchange:%v", ex.ID)
		return
	}
	p.OutputChan <- ex
}

// Flows is the number of tracked connections.
func (p *Processor) Flows() int {
	return p.flows.ItemCount()
}

// Close flushes every flow and closes OutputChan.
func (p *Processor) Close() {
	p.flows.DeleteExpired()
	for key := range p.flows.Items() {
		p.flows.Delete(key)
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.OutputChan)
	}
}

// flowEvents applies flow lifecycle changes to a session.
type flowEvents struct {
	p       *Processor
	key     string
	session *Session
}

func (e *flowEvents) OnEstablished(ts *tcp.FlowState) {
	if ts.HasClientISN {
		e.session.SetBaseline(model.DirRequest, ts.ClientISN+1)
	}
	if ts.HasServerISN {
		e.session.SetBaseline(model.DirResponse, ts.ServerISN+1)
	}
}

func (e *flowEvents) OnClosed(ts *tcp.FlowState) {
	slog.Debug("flow closed, DirectConn:%v, states:%v", e.key, ts.States)
	e.p.flows.Set(e.key, e.session, e.p.config.CloseGrace)
}
