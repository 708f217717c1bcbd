package media

import "bytes"

// startCode is the long-form Annex-B NAL delimiter. Both 3- and 4-byte start
// codes are recognised on input; emitted units are normalised to the 4-byte
// form, which every decoder accepts.
var startCode = []byte{0, 0, 0, 1}

// AnnexBAccumulator reassembles an H.264 Annex-B byte stream arriving in
// arbitrary fragments into complete NAL units. Packet boundaries carry no
// meaning: a NAL may span many packets and a packet may hold several NALs.
//
// A unit is complete only once the next start code (or more input beyond it)
// arrives, so the final NAL of a stream is emitted together with the start
// of the following access unit — acceptable for a continuous stream.
type AnnexBAccumulator struct {
	buf []byte
}

// Write appends stream bytes and returns the NAL units completed by them,
// each prefixed with a 4-byte start code. Returned slices are copies.
func (a *AnnexBAccumulator) Write(p []byte) [][]byte {
	a.buf = append(a.buf, p...)

	var units [][]byte
	for {
		start, startLen := findStartCode(a.buf, 0)
		if start < 0 {
			// No start code yet; retain at most 3 bytes, enough to complete
			// a code split across the fragment boundary.
			if len(a.buf) > 3 {
				a.buf = a.buf[len(a.buf)-3:]
			}
			return units
		}

		next, _ := findStartCode(a.buf, start+startLen)
		if next < 0 {
			// The unit beginning at start is still incomplete. Drop any
			// garbage before it and wait for more input.
			if start > 0 {
				a.buf = append(a.buf[:0], a.buf[start:]...)
			}
			return units
		}

		nal := make([]byte, 0, 4+(next-start-startLen))
		nal = append(nal, startCode...)
		nal = append(nal, a.buf[start+startLen:next]...)
		units = append(units, nal)

		a.buf = append(a.buf[:0], a.buf[next:]...)
	}
}

// Reset discards any partially accumulated unit (e.g. after a stall escape
// abandoned part of the stream).
func (a *AnnexBAccumulator) Reset() {
	a.buf = a.buf[:0]
}

// findStartCode returns the index and length of the first start code at or
// after from, or (-1, 0).
func findStartCode(b []byte, from int) (int, int) {
	i := bytes.Index(b[from:], []byte{0, 0, 1})
	if i < 0 {
		return -1, 0
	}
	i += from
	if i > 0 && b[i-1] == 0 {
		return i - 1, 4
	}
	return i, 3
}
