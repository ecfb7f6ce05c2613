package tcp

import (
	fsm "github.com/smallnest/gofsm"
	slog "github.com/vearne/simplelog"
)

const (
	StateListen = "LISTEN"
	// client SYN seen
	StateSynSent = "SYN-SENT"
	// SYN+ACK seen, or data seen on a flow whose handshake was missed
	StateEstablished = "ESTABLISHED"
	// FIN seen from one side
	StateClosing = "CLOSING"
	// FIN seen from both sides, or RST
	StateClosed = "CLOSED"
)

const (
	EventSYN    = "SYN"
	EventSYNACK = "SYN_ACK"
	EventData   = "DATA"
	EventFIN    = "FIN"
	EventRST    = "RST"
)

const (
	actionChangeState = "change-state"
	actionDoNothing   = "do-nothing"
)

// FlowState tracks the lifecycle of one TCP connection, keyed by its
// client -> server direction.
type FlowState struct {
	Conn   DirectConn
	State  string
	States []string

	// initial sequence numbers, when the handshake was captured
	ClientISN    uint32
	HasClientISN bool
	ServerISN    uint32
	HasServerISN bool

	finSeen [2]bool
}

func NewFlowState(dc DirectConn) *FlowState {
	var t FlowState
	t.Conn = dc
	t.State = StateListen
	t.States = []string{StateListen}
	return &t
}

// MarkFIN records a FIN from the given side and reports whether it is
// the first one from that side; retransmitted FINs must not advance the
// state machine twice.
func (t *FlowState) MarkFIN(fromClient bool) bool {
	idx := 1
	if fromClient {
		idx = 0
	}
	if t.finSeen[idx] {
		return false
	}
	t.finSeen[idx] = true
	return true
}

// FlowHandler receives lifecycle notifications for a flow.
type FlowHandler interface {
	OnEstablished(ts *FlowState)
	OnClosed(ts *FlowState)
}

// FlowEventProcessor bridges state machine callbacks to a FlowHandler.
// Trigger must be called with args (ts *FlowState, handler FlowHandler).
type FlowEventProcessor struct{}

func (p *FlowEventProcessor) Action(action string, fromState string, toState string, args []interface{}) error {
	ts := args[0].(*FlowState)
	switch action {
	case actionChangeState:
		slog.Debug("change-state, DirectConn:%v, fromState:[%v] -> toState:[%v]",
			ts.Conn.String(), fromState, toState)
	case actionDoNothing:
	default:
		slog.Debug("unknow action: %v, DirectConn:%v", action, ts.Conn.String())
	}
	return nil
}

func (p *FlowEventProcessor) OnActionFailure(action string, fromState string, toState string, args []interface{}, err error) {
	ts := args[0].(*FlowState)
	slog.Warn("action failure, DirectConn:%v, action:%v, %v -> %v, error:%v",
		ts.Conn.String(), action, fromState, toState, err)
}

func (p *FlowEventProcessor) OnExit(fromState string, args []interface{}) {
}

func (p *FlowEventProcessor) OnEnter(toState string, args []interface{}) {
	ts := args[0].(*FlowState)
	ts.State = toState
	ts.States = append(ts.States, toState)

	var handler FlowHandler
	if len(args) > 1 {
		handler, _ = args[1].(FlowHandler)
	}
	if handler == nil {
		return
	}
	switch toState {
	case StateEstablished:
		handler.OnEstablished(ts)
	case StateClosed:
		handler.OnClosed(ts)
	}
}

func InitFlowFSM(processor fsm.EventProcessor) *fsm.StateMachine {
	delegate := &fsm.DefaultDelegate{P: processor}
	transitions := []fsm.Transition{
		// handshake
		{From: StateListen, Event: EventSYN, To: StateSynSent, Action: actionChangeState},
		{From: StateSynSent, Event: EventSYN, To: StateSynSent, Action: actionDoNothing},
		{From: StateSynSent, Event: EventSYNACK, To: StateEstablished, Action: actionChangeState},
		{From: StateListen, Event: EventSYNACK, To: StateEstablished, Action: actionChangeState},

		// capture started after the handshake
		{From: StateListen, Event: EventData, To: StateEstablished, Action: actionChangeState},
		{From: StateSynSent, Event: EventData, To: StateEstablished, Action: actionChangeState},

		{From: StateEstablished, Event: EventData, To: StateEstablished, Action: actionDoNothing},
		{From: StateEstablished, Event: EventSYN, To: StateEstablished, Action: actionDoNothing},
		{From: StateEstablished, Event: EventSYNACK, To: StateEstablished, Action: actionDoNothing},

		// teardown
		{From: StateListen, Event: EventFIN, To: StateClosing, Action: actionChangeState},
		{From: StateSynSent, Event: EventFIN, To: StateClosing, Action: actionChangeState},
		{From: StateEstablished, Event: EventFIN, To: StateClosing, Action: actionChangeState},
		{From: StateClosing, Event: EventData, To: StateClosing, Action: actionDoNothing},
		{From: StateClosing, Event: EventSYNACK, To: StateClosing, Action: actionDoNothing},
		{From: StateClosing, Event: EventFIN, To: StateClosed, Action: actionChangeState},

		{From: StateListen, Event: EventRST, To: StateClosed, Action: actionChangeState},
		{From: StateSynSent, Event: EventRST, To: StateClosed, Action: actionChangeState},
		{From: StateEstablished, Event: EventRST, To: StateClosed, Action: actionChangeState},
		{From: StateClosing, Event: EventRST, To: StateClosed, Action: actionChangeState},

		// late retransmissions while the flow drains
		{From: StateClosed, Event: EventData, To: StateClosed, Action: actionDoNothing},
		{From: StateClosed, Event: EventFIN, To: StateClosed, Action: actionDoNothing},
		{From: StateClosed, Event: EventRST, To: StateClosed, Action: actionDoNothing},
	}

	return fsm.NewStateMachine(delegate, transitions...)
}
