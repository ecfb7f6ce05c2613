package tcp

// SeqDiff returns a-b as a signed distance in sequence space, so that
// numbers on either side of a 2^32 wraparound still compare correctly.
func SeqDiff(a, b uint32) int32 {
	return int32(a - b)
}

// SeqBefore reports whether a precedes b.
func SeqBefore(a, b uint32) bool {
	return SeqDiff(a, b) < 0
}

// SeqAfter reports whether a follows b.
func SeqAfter(a, b uint32) bool {
	return SeqDiff(a, b) > 0
}
