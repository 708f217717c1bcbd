package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/superkooks/smoothmirror/internal/protocol"
)

const testFrameDur = time.Second / 60

// recvHarness wires a receiver to a recorded NACK list and a settable clock.
type recvHarness struct {
	r     *Receiver
	nacks []int64
	now   time.Time
}

func newRecvHarness() *recvHarness {
	h := &recvHarness{now: time.Unix(1000, 0)}
	h.r = NewReceiver(testFrameDur, func(seq int64) { h.nacks = append(h.nacks, seq) })
	h.r.now = func() time.Time { return h.now }
	h.r.lastInSeq = h.now
	return h
}

func (h *recvHarness) recv(seq int64) []int64 {
	out := h.r.Recv(protocol.MediaPacket{Seq: seq, Data: []byte{byte(seq)}})
	seqs := make([]int64, 0, len(out))
	for _, p := range out {
		seqs = append(seqs, p.Seq)
	}
	return seqs
}

func TestInOrderStream(t *testing.T) {
	h := newRecvHarness()

	var delivered []int64
	for seq := int64(0); seq < 4; seq++ {
		delivered = append(delivered, h.recv(seq)...)
	}

	require.Equal(t, []int64{0, 1, 2, 3}, delivered)
	require.Empty(t, h.nacks)
	require.Zero(t, h.r.Pending())
}

func TestSinglePacketLossAndRecovery(t *testing.T) {
	h := newRecvHarness()

	require.Equal(t, []int64{0}, h.recv(0))

	// Seq 1 is lost; 2 and 3 arrive and are held out.
	require.Empty(t, h.recv(2))
	require.Equal(t, []int64{1}, h.nacks)
	require.Empty(t, h.recv(3))
	require.Equal(t, []int64{1}, h.nacks, "no duplicate NACK while waiting")
	require.Equal(t, 2, h.r.Pending())

	// The sender replays seq 1; the whole run flushes.
	require.Equal(t, []int64{1, 2, 3}, h.recv(1))
	require.Zero(t, h.r.Pending())
}

func TestOutOfOrderWithoutLoss(t *testing.T) {
	h := newRecvHarness()

	require.Equal(t, []int64{0}, h.recv(0))

	// 2 overtakes 1 in flight: a NACK for 1 goes out anyway.
	require.Empty(t, h.recv(2))
	require.Equal(t, []int64{1}, h.nacks)

	// 1 arrives; both deliver. No second NACK for 1.
	require.Equal(t, []int64{1, 2}, h.recv(1))
	require.Equal(t, []int64{3}, h.recv(3))
	require.Equal(t, []int64{1}, h.nacks)
}

func TestNACKRangeSkipsHeldPackets(t *testing.T) {
	h := newRecvHarness()

	require.Equal(t, []int64{0}, h.recv(0))
	require.Empty(t, h.recv(5))
	require.Equal(t, []int64{1, 2, 3, 4}, h.nacks)

	// 7 arrives: only 6 is newly missing — 5 is already held.
	require.Empty(t, h.recv(7))
	require.Equal(t, []int64{1, 2, 3, 4, 6}, h.nacks)
}

func TestDuplicateNeverDeliveredTwice(t *testing.T) {
	h := newRecvHarness()

	require.Equal(t, []int64{0}, h.recv(0))
	require.Empty(t, h.recv(0), "retransmission racing the original is dropped")

	require.Empty(t, h.recv(2))
	require.Empty(t, h.recv(2), "duplicate held-out packet is dropped")
	require.Equal(t, []int64{1, 2}, h.recv(1))
}

func TestProlongedLossEscape(t *testing.T) {
	h := newRecvHarness()

	// Delivered through seq 10 at t=0.
	for seq := int64(0); seq <= 10; seq++ {
		h.recv(seq)
	}

	// 900 ms of silence, then seq 200 arrives: past the 50-frame threshold
	// (833 ms at 60 fps), so the gap is abandoned and 200 delivers.
	h.now = h.now.Add(900 * time.Millisecond)
	require.Equal(t, []int64{200}, h.recv(200))
	require.Equal(t, int64(201), h.r.NextSeq())
}

func TestNoEscapeBeforeThreshold(t *testing.T) {
	h := newRecvHarness()
	h.recv(0)

	// 500 ms < 50 frames: still inside the recovery window, hold out.
	h.now = h.now.Add(500 * time.Millisecond)
	require.Empty(t, h.recv(200))
	require.Equal(t, int64(1), h.r.NextSeq())
}

func TestNoEscapeForAdjacentSeq(t *testing.T) {
	h := newRecvHarness()
	h.recv(0)

	// Long stall but the gap is trivial (next expected packet): the
	// in-order path handles it without a resync.
	h.now = h.now.Add(2 * time.Second)
	require.Equal(t, []int64{1}, h.recv(1))
}

func TestEscapeDropsStaleHeldPackets(t *testing.T) {
	h := newRecvHarness()
	h.recv(0)
	h.recv(5) // held out

	h.now = h.now.Add(2 * time.Second)
	require.Equal(t, []int64{200}, h.recv(200))
	require.Zero(t, h.r.Pending(), "abandoned gap packets are discarded")
}

// TestLosslessShuffleDelivery checks the ordering invariants under arbitrary
// reordering with no loss: every packet is delivered exactly once, in
// strictly increasing seq order.
func TestLosslessShuffleDelivery(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		order := rapid.Permutation(seqRange(n)).Draw(t, "order")

		h := newRecvHarness()
		var delivered []int64
		for _, seq := range order {
			delivered = append(delivered, h.recv(seq)...)
		}

		if len(delivered) != n {
			t.Fatalf("delivered %d of %d packets", len(delivered), n)
		}
		for i, seq := range delivered {
			if seq != int64(i) {
				t.Fatalf("delivery out of order at %d: got seq %d", i, seq)
			}
		}
	})
}

func seqRange(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}
