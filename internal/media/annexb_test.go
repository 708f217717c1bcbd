package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// nal builds a start-code-prefixed NAL unit with the given body.
func nal(body ...byte) []byte {
	return append([]byte{0, 0, 0, 1}, body...)
}

func TestAnnexBTwoUnitsOneWrite(t *testing.T) {
	a := &AnnexBAccumulator{}

	stream := append(nal(0x65, 1, 2, 3), nal(0x41, 4, 5)...)
	// The second unit is only known complete once more input follows it;
	// append a third start code to flush it.
	stream = append(stream, 0, 0, 0, 1)

	units := a.Write(stream)
	require.Len(t, units, 2)
	require.Equal(t, nal(0x65, 1, 2, 3), units[0])
	require.Equal(t, nal(0x41, 4, 5), units[1])
}

func TestAnnexBUnitSpanningManyPackets(t *testing.T) {
	a := &AnnexBAccumulator{}

	body := bytes.Repeat([]byte{0x7F}, 5000)
	stream := append(nal(body...), nal(0x41)...)

	// Feed in 1400-byte fragments, as the depacketizer would.
	var units [][]byte
	for off := 0; off < len(stream); off += 1400 {
		end := off + 1400
		if end > len(stream) {
			end = len(stream)
		}
		units = append(units, a.Write(stream[off:end])...)
	}

	require.Len(t, units, 1, "only the first unit is complete")
	require.Equal(t, nal(body...), units[0])
}

func TestAnnexBStartCodeSplitAcrossPackets(t *testing.T) {
	a := &AnnexBAccumulator{}

	first := nal(0x65, 0xAA)
	second := nal(0x41, 0xBB)
	stream := append(append([]byte{}, first...), second...)

	// Split right in the middle of the second start code.
	cut := len(first) + 2
	units := a.Write(stream[:cut])
	require.Empty(t, units)
	units = a.Write(stream[cut:])
	require.Len(t, units, 1)
	require.Equal(t, first, units[0])
}

func TestAnnexBShortStartCode(t *testing.T) {
	a := &AnnexBAccumulator{}

	// 3-byte start codes are recognised and normalised to 4-byte output.
	stream := []byte{0, 0, 1, 0x65, 9, 9, 0, 0, 1, 0x41, 8, 0, 0, 1}
	units := a.Write(stream)
	require.Len(t, units, 2)
	require.Equal(t, nal(0x65, 9, 9), units[0])
	require.Equal(t, nal(0x41, 8), units[1])
}

func TestAnnexBReset(t *testing.T) {
	a := &AnnexBAccumulator{}
	a.Write(nal(0x65, 1, 2, 3)) // incomplete: no following start code
	a.Reset()

	// After a reset, the old partial unit is gone.
	units := a.Write(append(nal(0x41, 7), 0, 0, 0, 1))
	require.Len(t, units, 1)
	require.Equal(t, nal(0x41, 7), units[0])
}
