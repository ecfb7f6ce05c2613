package tcp

import (
	"github.com/huandu/skiplist"
	slog "github.com/vearne/simplelog"
)

type Outcome uint8

const (
	Appended Outcome = iota
	BufferedOutOfOrder
	DroppedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "Appended"
	case BufferedOutOfOrder:
		return "BufferedOutOfOrder"
	case DroppedDuplicate:
		return "DroppedDuplicate"
	default:
		return "UNKNOW"
	}
}

// SegmentBuffer rebuilds one direction of a TCP stream.
// contiguous only ever grows; segments that arrive ahead of
// expectedNext wait in pending until the gap before them is filled.
type SegmentBuffer struct {
	baselineSet  bool
	expectedNext uint32
	contiguous   []byte
	// the number of bytes of contiguous already handed to a parser
	consumed int

	pending      *skiplist.SkipList
	pendingBytes int
}

func NewSegmentBuffer() *SegmentBuffer {
	var sb SegmentBuffer
	sb.pending = skiplist.New(skiplist.Uint32)
	sb.contiguous = make([]byte, 0, 4096)
	return &sb
}

// SetBaseline fixes the sequence number of the first stream byte,
// typically ISN+1 taken from a SYN. It has no effect once data has
// been seen.
func (sb *SegmentBuffer) SetBaseline(seq uint32) {
	if sb.baselineSet {
		return
	}
	sb.baselineSet = true
	sb.expectedNext = seq
}

func (sb *SegmentBuffer) Absorb(seq uint32, payload []byte) Outcome {
	if !sb.baselineSet {
		if len(payload) == 0 {
			return DroppedDuplicate
		}
		sb.baselineSet = true
		sb.expectedNext = seq
	}

	if len(payload) == 0 {
		return DroppedDuplicate
	}

	switch {
	case seq == sb.expectedNext:
		sb.appendAndAdvance(payload)
		sb.drain()
		slog.Debug("SegmentBuffer.Absorb, seq:%v, appended:%v bytes, expectedNext:%v, pending:%v",
			seq, len(payload), sb.expectedNext, sb.pending.Len())
		return Appended
	case SeqBefore(seq, sb.expectedNext):
		slog.Debug("SegmentBuffer.Absorb-duplicate package, seq:%v, expectedNext:%v",
			seq, sb.expectedNext)
		return DroppedDuplicate
	default:
		if ele := sb.pending.Get(seq); ele != nil {
			if len(ele.Value.([]byte)) >= len(payload) {
				return DroppedDuplicate
			}
			// a longer retransmission replaces the shorter pending copy
			sb.pending.RemoveElement(ele)
			sb.pendingBytes -= len(ele.Value.([]byte))
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		sb.pending.Set(seq, data)
		sb.pendingBytes += len(data)
		slog.Debug("SegmentBuffer.Absorb-out of order, seq:%v, expectedNext:%v, pending:%v",
			seq, sb.expectedNext, sb.pending.Len())
		return BufferedOutOfOrder
	}
}

func (sb *SegmentBuffer) appendAndAdvance(payload []byte) {
	sb.contiguous = append(sb.contiguous, payload...)
	// sequence numbers may wrap around
	sb.expectedNext += uint32(len(payload))
}

// drain moves pending segments that now line up into contiguous.
// A segment overtaken by expectedNext only contributes the bytes past it.
func (sb *SegmentBuffer) drain() {
	for ele := sb.overtaken(); ele != nil; ele = sb.overtaken() {
		data := ele.Value.([]byte)
		skip := int(SeqDiff(sb.expectedNext, ele.Key().(uint32)))
		sb.pending.RemoveElement(ele)
		sb.pendingBytes -= len(data)
		if skip < len(data) {
			sb.appendAndAdvance(data[skip:])
		}
	}
}

// overtaken returns a pending segment that no longer waits for a
// predecessor, nil if there is none.
func (sb *SegmentBuffer) overtaken() *skiplist.Element {
	if ele := sb.pending.Get(sb.expectedNext); ele != nil {
		return ele
	}
	// keys are ordered numerically, not in sequence space
	for ele := sb.pending.Front(); ele != nil; ele = ele.Next() {
		if SeqBefore(ele.Key().(uint32), sb.expectedNext) {
			return ele
		}
	}
	return nil
}

func (sb *SegmentBuffer) BaselineSet() bool {
	return sb.baselineSet
}

func (sb *SegmentBuffer) ExpectedNext() uint32 {
	return sb.expectedNext
}

// Bytes returns the contiguous stream; callers must not modify it.
func (sb *SegmentBuffer) Bytes() []byte {
	return sb.contiguous
}

func (sb *SegmentBuffer) Len() int {
	return len(sb.contiguous)
}

func (sb *SegmentBuffer) Consumed() int {
	return sb.consumed
}

// Unconsumed returns the bytes not yet handed to a parser.
func (sb *SegmentBuffer) Unconsumed() []byte {
	return sb.contiguous[sb.consumed:]
}

func (sb *SegmentBuffer) Advance(n int) {
	sb.consumed += n
	if sb.consumed > len(sb.contiguous) {
		sb.consumed = len(sb.contiguous)
	}
}

func (sb *SegmentBuffer) PendingCount() int {
	return sb.pending.Len()
}

func (sb *SegmentBuffer) PendingBytes() int {
	return sb.pendingBytes
}

// PendingSeqs lists the keys of pending segments in ascending order.
func (sb *SegmentBuffer) PendingSeqs() []uint32 {
	seqs := make([]uint32, 0, sb.pending.Len())
	for ele := sb.pending.Front(); ele != nil; ele = ele.Next() {
		seqs = append(seqs, ele.Key().(uint32))
	}
	return seqs
}
