package http1

import (
	"sync"
	"time"

	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/tcp"
	slog "github.com/vearne/simplelog"
)

// EmitFunc receives exchanges as soon as they are finished. It is called
// with the session lock held and must not call back into the session.
type EmitFunc func(ex *model.Exchange)

// Session is the HTTP/1.x state of one TCP flow: a segment buffer and a
// parser per direction, and the exchanges waiting for their response.
type Session struct {
	sync.Mutex
	// client -> server
	Conn      tcp.DirectConn
	FlowState *tcp.FlowState

	buffers  [2]*tcp.SegmentBuffer
	adapters [2]*Adapter
	// in request order; pipelined requests queue up here
	queue []*model.Exchange
	emit  EmitFunc

	// sequence number right after a FIN, kept until the data before it
	// has been reassembled
	eofSeq [2]uint32
	eofSet [2]bool
	eof    [2]bool

	closed   bool
	LastSeen time.Time
}

func NewSession(conn tcp.DirectConn, emit EmitFunc) *Session {
	var s Session
	s.Conn = conn
	s.FlowState = tcp.NewFlowState(conn)
	s.emit = emit
	s.LastSeen = time.Now()
	for _, dir := range []model.Dir{model.DirRequest, model.DirResponse} {
		s.buffers[dir] = tcp.NewSegmentBuffer()
		s.adapters[dir] = newAdapter(dir, s.buffers[dir], &s)
	}
	slog.Debug("create Session, DirectConn:%v", conn.String())
	return &s
}

// Absorb adds one segment to the direction's stream and, if the stream
// grew, parses the new bytes. A ParseFailure is returned when the
// direction is not (or no longer) HTTP.
func (s *Session) Absorb(dir model.Dir, seq uint32, payload []byte) (tcp.Outcome, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed || dir > model.DirResponse {
		return tcp.DroppedDuplicate, nil
	}
	s.LastSeen = time.Now()

	outcome := s.buffers[dir].Absorb(seq, payload)
	if outcome != tcp.Appended {
		return outcome, nil
	}
	err := s.adapters[dir].Pump()
	if err == nil {
		s.checkEOF(dir)
	}
	return outcome, err
}

// SetBaseline seeds the direction's first expected sequence number,
// normally ISN+1 from the handshake.
func (s *Session) SetBaseline(dir model.Dir, seq uint32) {
	s.Lock()
	defer s.Unlock()
	s.buffers[dir].SetBaseline(seq)
}

// EndOfStream records that the direction was closed with a FIN at seq.
// The parser gets EOF once every byte before seq is reassembled.
func (s *Session) EndOfStream(dir model.Dir, seq uint32) {
	s.Lock()
	defer s.Unlock()

	if s.closed || s.eof[dir] {
		return
	}
	s.eofSeq[dir] = seq
	s.eofSet[dir] = true
	s.checkEOF(dir)
}

func (s *Session) checkEOF(dir model.Dir) {
	if !s.eofSet[dir] || s.eof[dir] {
		return
	}
	buf := s.buffers[dir]
	if buf.BaselineSet() && tcp.SeqBefore(buf.ExpectedNext(), s.eofSeq[dir]) {
		return
	}
	s.eof[dir] = true
	_ = s.adapters[dir].Finish()
}

func (s *Session) PendingBytes() int {
	s.Lock()
	defer s.Unlock()
	return s.buffers[model.DirRequest].PendingBytes() +
		s.buffers[model.DirResponse].PendingBytes()
}

// Buffer exposes a direction's segment buffer, mostly for inspection.
func (s *Session) Buffer(dir model.Dir) *tcp.SegmentBuffer {
	return s.buffers[dir]
}

func (s *Session) Adapter(dir model.Dir) *Adapter {
	return s.adapters[dir]
}

// Outstanding is the number of exchanges still waiting for a response.
func (s *Session) Outstanding() int {
	s.Lock()
	defer s.Unlock()
	return len(s.queue)
}

func (s *Session) Closed() bool {
	s.Lock()
	defer s.Unlock()
	return s.closed
}

// Close ends both streams. Responses delimited by the connection close
// are completed; other exchanges that got as far as a request header are
// emitted incomplete.
func (s *Session) Close() {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return
	}
	for _, dir := range []model.Dir{model.DirRequest, model.DirResponse} {
		if !s.eof[dir] {
			s.eof[dir] = true
			_ = s.adapters[dir].Finish()
		}
	}
	s.closed = true

	for _, ex := range s.queue {
		if !ex.HasRequestHeader() {
			slog.Debug("drop exchange without request header, DirectConn:%v", s.Conn.String())
			continue
		}
		ex.EndTime = s.LastSeen
		s.emit(ex)
	}
	s.queue = nil
	slog.Debug("close Session, DirectConn:%v", s.Conn.String())
}

func (s *Session) newExchange() *model.Exchange {
	ex := model.NewExchange(s.Conn.Src(), s.Conn.Dst())
	s.queue = append(s.queue, ex)
	return ex
}

func (s *Session) beginRequest() *model.Exchange {
	return s.newExchange()
}

// beginResponse binds a response to the oldest exchange still waiting,
// or to a new one when the request was never seen.
func (s *Session) beginResponse() *model.Exchange {
	if len(s.queue) > 0 {
		return s.queue[0]
	}
	return s.newExchange()
}

func (s *Session) finish(ex *model.Exchange) {
	for i, item := range s.queue {
		if item == ex {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	// a response may finish before its request did
	if req := s.adapters[model.DirRequest]; req.exchange == ex {
		req.exchange = nil
	}
	ex.EndTime = time.Now()
	s.emit(ex)
}
