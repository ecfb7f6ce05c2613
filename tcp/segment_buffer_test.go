package tcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	slog "github.com/vearne/simplelog"
)

type segment struct {
	seq     uint32
	payload []byte
}

func makeSegment(seq uint32, c byte, n int) segment {
	return segment{seq: seq, payload: bytes.Repeat([]byte{c}, n)}
}

func permutations(segs []segment) [][]segment {
	if len(segs) <= 1 {
		return [][]segment{append([]segment(nil), segs...)}
	}
	result := make([][]segment, 0)
	for i := range segs {
		rest := make([]segment, 0, len(segs)-1)
		rest = append(rest, segs[:i]...)
		rest = append(rest, segs[i+1:]...)
		for _, p := range permutations(rest) {
			result = append(result, append([]segment{segs[i]}, p...))
		}
	}
	return result
}

func TestSegmentBufferInOrder(t *testing.T) {
	slog.SetLevel(slog.DebugLevel)
	buffer := NewSegmentBuffer()

	assert.Equal(t, Appended, buffer.Absorb(1000, bytes.Repeat([]byte{'a'}, 50)))
	assert.Equal(t, Appended, buffer.Absorb(1050, bytes.Repeat([]byte{'b'}, 30)))

	assert.Equal(t, 80, buffer.Len())
	assert.Equal(t, uint32(1080), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestSegmentBufferFirstSeenIsBaseline(t *testing.T) {
	buffer := NewSegmentBuffer()
	segA := makeSegment(1000, 'a', 50)
	segB := makeSegment(1050, 'b', 30)

	assert.Equal(t, Appended, buffer.Absorb(segB.seq, segB.payload))
	assert.True(t, buffer.BaselineSet())
	assert.Equal(t, segB.payload, buffer.Bytes())
	assert.Equal(t, uint32(1080), buffer.ExpectedNext())

	assert.Equal(t, DroppedDuplicate, buffer.Absorb(segA.seq, segA.payload))
	assert.Equal(t, segB.payload, buffer.Bytes())
	assert.Equal(t, uint32(1080), buffer.ExpectedNext())
}

func TestSegmentBufferGap(t *testing.T) {
	buffer := NewSegmentBuffer()
	seg1 := makeSegment(1000, 'a', 50)
	seg2 := makeSegment(1100, 'c', 20)
	seg3 := makeSegment(1050, 'b', 50)

	assert.Equal(t, Appended, buffer.Absorb(seg1.seq, seg1.payload))
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(seg2.seq, seg2.payload))
	assert.Equal(t, []uint32{1100}, buffer.PendingSeqs())
	assert.Equal(t, 20, buffer.PendingBytes())
	assert.Equal(t, uint32(1050), buffer.ExpectedNext())
	assert.Equal(t, 50, buffer.Len())

	assert.Equal(t, Appended, buffer.Absorb(seg3.seq, seg3.payload))
	assert.Equal(t, uint32(1120), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingCount())
	assert.Equal(t, 0, buffer.PendingBytes())

	expected := append(append(append([]byte{}, seg1.payload...), seg3.payload...), seg2.payload...)
	assert.Equal(t, expected, buffer.Bytes())
}

func TestSegmentBufferPermutations(t *testing.T) {
	segs := []segment{
		makeSegment(1000, 'a', 10),
		makeSegment(1010, 'b', 7),
		makeSegment(1017, 'c', 13),
		makeSegment(1030, 'd', 1),
	}
	expected := []byte("aaaaaaaaaabbbbbbbcccccccccccccd")

	for _, perm := range permutations(segs) {
		buffer := NewSegmentBuffer()
		buffer.SetBaseline(1000)
		for _, s := range perm {
			buffer.Absorb(s.seq, s.payload)
		}
		assert.Equal(t, expected, buffer.Bytes())
		assert.Equal(t, uint32(1031), buffer.ExpectedNext())
		assert.Equal(t, 0, buffer.PendingCount())
	}

	// first-seen baseline: any order of the segments after the first
	for _, perm := range permutations(segs[1:]) {
		buffer := NewSegmentBuffer()
		buffer.Absorb(segs[0].seq, segs[0].payload)
		for _, s := range perm {
			buffer.Absorb(s.seq, s.payload)
		}
		assert.Equal(t, expected, buffer.Bytes())
	}
}

func TestSegmentBufferRetransmission(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1000, []byte("aaaaaaaaaa"))
	buffer.Absorb(1010, []byte("bbbbbbbbbb"))
	before := append([]byte(nil), buffer.Bytes()...)

	// exact duplicates
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1000, []byte("aaaaaaaaaa")))
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1010, []byte("bbbbbbbbbb")))
	// strict prefix
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1000, []byte("aaaa")))
	// pure ACK
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1020, nil))

	assert.Equal(t, before, buffer.Bytes())
	assert.Equal(t, uint32(1020), buffer.ExpectedNext())

	// duplicate of a pending segment
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(1030, []byte("dddddddddd")))
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1030, []byte("dddddddddd")))
	assert.Equal(t, 10, buffer.PendingBytes())
}

func TestSegmentBufferNoEarlyAppend(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1000, []byte("aaaaaaaaaa"))

	buffer.Absorb(1030, []byte("dddddddddd"))
	buffer.Absorb(1020, []byte("cccccccccc"))
	assert.Equal(t, 10, buffer.Len())
	assert.Equal(t, []uint32{1020, 1030}, buffer.PendingSeqs())

	buffer.Absorb(1010, []byte("bbbbbbbbbb"))
	assert.Equal(t, "aaaaaaaaaabbbbbbbbbbccccccccccdddddddddd", string(buffer.Bytes()))
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestSegmentBufferWrapAround(t *testing.T) {
	cases := [][]int{
		{0, 1, 2},
		{0, 2, 1},
		{1, 0, 2},
		{2, 1, 0},
	}
	for _, order := range cases {
		segs := []segment{
			{seq: 4294967290, payload: []byte("aaaaaaaaaa")},
			{seq: 4, payload: []byte("bbbbbbbbbb")},
			{seq: 14, payload: []byte("cccccccccc")},
		}
		buffer := NewSegmentBuffer()
		buffer.SetBaseline(4294967290)
		for _, i := range order {
			buffer.Absorb(segs[i].seq, segs[i].payload)
		}
		// a stale retransmission from before the wrap
		assert.Equal(t, DroppedDuplicate, buffer.Absorb(segs[0].seq, segs[0].payload))
		assert.Equal(t, "aaaaaaaaaabbbbbbbbbbcccccccccc", string(buffer.Bytes()), "order %v", order)
		assert.Equal(t, uint32(24), buffer.ExpectedNext())
	}
}

func TestSegmentBufferConsumed(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1, []byte("GET / HTTP/1.1\r\n"))
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(buffer.Unconsumed()))

	buffer.Advance(len(buffer.Unconsumed()))
	assert.Equal(t, 0, len(buffer.Unconsumed()))

	buffer.Absorb(17, []byte("Host: a\r\n\r\n"))
	assert.Equal(t, "Host: a\r\n\r\n", string(buffer.Unconsumed()))
	assert.Equal(t, 16, buffer.Consumed())

	buffer.Advance(1000)
	assert.Equal(t, buffer.Len(), buffer.Consumed())
}

func TestSegmentBufferSetBaselineAfterData(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(500, []byte("xyz"))
	buffer.SetBaseline(100)
	assert.Equal(t, uint32(503), buffer.ExpectedNext())
}

func TestSeqCompare(t *testing.T) {
	testCases := []struct {
		a, b   uint32
		before bool
		after  bool
	}{
		{1000, 1080, true, false},
		{1080, 1000, false, true},
		{4294967290, 4, true, false},
		{4, 4294967290, false, true},
		{7, 7, false, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.before, SeqBefore(tc.a, tc.b), "%v before %v", tc.a, tc.b)
		assert.Equal(t, tc.after, SeqAfter(tc.a, tc.b), "%v after %v", tc.a, tc.b)
	}
}

func TestSegmentBufferCoalescedRetransmission(t *testing.T) {
	buffer := NewSegmentBuffer()
	assert.Equal(t, Appended, buffer.Absorb(1000, bytes.Repeat([]byte{'a'}, 50)))
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(1100, bytes.Repeat([]byte{'c'}, 20)))

	// one segment covering the gap and the pending one
	coalesced := append(bytes.Repeat([]byte{'b'}, 50), bytes.Repeat([]byte{'c'}, 20)...)
	assert.Equal(t, Appended, buffer.Absorb(1050, coalesced))

	assert.Equal(t, uint32(1120), buffer.ExpectedNext())
	assert.Equal(t, 120, buffer.Len())
	assert.Empty(t, buffer.PendingSeqs())
	assert.Equal(t, 0, buffer.PendingBytes())
}

func TestSegmentBufferOverlappingPending(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1000, []byte("aaaaaaaaaa"))
	// starts inside the gap that 1010 will fill and runs past it
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(1015, []byte("bbbbbcccccccccc")))
	assert.Equal(t, Appended, buffer.Absorb(1010, []byte("bbbbbbbbbb")))

	assert.Equal(t, "aaaaaaaaaabbbbbbbbbbcccccccccc", string(buffer.Bytes()))
	assert.Equal(t, uint32(1030), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingCount())
	assert.Equal(t, 0, buffer.PendingBytes())

	// the direction keeps advancing
	assert.Equal(t, Appended, buffer.Absorb(1030, []byte("dd")))
	assert.Equal(t, uint32(1032), buffer.ExpectedNext())
}

func TestSegmentBufferStartBeforeExpectedIsDropped(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1000, []byte("aaaaaaaaaa"))
	// starts inside what was already appended
	assert.Equal(t, DroppedDuplicate, buffer.Absorb(1005, []byte("aaaaabbbbb")))
	assert.Equal(t, uint32(1010), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestSegmentBufferOverlapAcrossWrap(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.SetBaseline(4294967290)
	buffer.Absorb(4294967290, []byte("aa"))
	// pending entry straddling the wrap point, its key is numerically large
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(4294967294, []byte("bbbbbb")))
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(4, []byte("dd")))
	// covers both the gap and the straddling entry
	assert.Equal(t, Appended, buffer.Absorb(4294967292, []byte("xxxxxxxx")))

	assert.Equal(t, "aaxxxxxxxxdd", string(buffer.Bytes()))
	assert.Equal(t, uint32(6), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingCount())
	assert.Equal(t, 0, buffer.PendingBytes())
}

func TestSegmentBufferLongerPendingRetransmission(t *testing.T) {
	buffer := NewSegmentBuffer()
	buffer.Absorb(1000, []byte("aaaaaaaaaa"))
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(1020, []byte("cc")))
	assert.Equal(t, BufferedOutOfOrder, buffer.Absorb(1020, []byte("cccc")))
	assert.Equal(t, 4, buffer.PendingBytes())
	assert.Equal(t, 1, buffer.PendingCount())

	buffer.Absorb(1010, []byte("bbbbbbbbbb"))
	assert.Equal(t, uint32(1024), buffer.ExpectedNext())
	assert.Equal(t, 0, buffer.PendingBytes())
}
