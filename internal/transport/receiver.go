package transport

import (
	"log"
	"time"

	"github.com/superkooks/smoothmirror/internal/protocol"
	"github.com/superkooks/smoothmirror/internal/stats"
)

// StallEscapeFrames is how many frame durations may pass without an in-order
// delivery before the receiver abandons an unrecoverable gap. At 60 fps this
// is ~833 ms: shorter than the sender's 1 s history would suggest is safe,
// but long enough that every plausible retransmission has already failed.
const StallEscapeFrames = 50

// NACKFunc transmits a retransmission request for seq back to the sender.
// The wire form is a media packet with empty data on the same UDP socket.
type NACKFunc func(seq int64)

// Receiver reorders received media packets into strictly increasing seq
// order. Not safe for concurrent use; the single UDP receive goroutine owns
// it.
type Receiver struct {
	nextSeq   int64
	lastInSeq time.Time
	rearrange map[int64]protocol.MediaPacket
	nackedSeq int64 // highest held-out seq whose gap below was NACKed; suppresses duplicates

	frameDur time.Duration
	nack     NACKFunc
	now      func() time.Time
}

// NewReceiver creates a receiver expecting seq 0 first. frameDur is the
// capture period (1/FRAME_RATE); nack is invoked once per missing seq.
func NewReceiver(frameDur time.Duration, nack NACKFunc) *Receiver {
	r := &Receiver{
		rearrange: make(map[int64]protocol.MediaPacket),
		frameDur:  frameDur,
		nack:      nack,
		now:       time.Now,
	}
	r.lastInSeq = r.now()
	return r
}

// Recv feeds one received packet through the reorder buffer and returns the
// packets now deliverable, in strictly increasing seq order. Duplicates and
// late arrivals return nothing.
func (r *Receiver) Recv(pkt protocol.MediaPacket) []protocol.MediaPacket {
	now := r.now()

	// Stall escape: when nothing has been delivered for StallEscapeFrames
	// frame durations and the incoming packet is beyond a trivial gap, the
	// outstanding gap is unrecoverable. Resync onto the incoming seq.
	if now.Sub(r.lastInSeq) > StallEscapeFrames*r.frameDur && pkt.Seq-r.nextSeq > 1 {
		log.Printf("[udp] stall escape: abandoning seqs [%d, %d)", r.nextSeq, pkt.Seq)
		stats.StallEscapes.Inc()
		r.nextSeq = pkt.Seq
		for seq := range r.rearrange {
			if seq < r.nextSeq {
				delete(r.rearrange, seq)
			}
		}
	}

	var out []protocol.MediaPacket

	switch {
	case pkt.Seq < r.nextSeq:
		// Already delivered (e.g. a retransmission racing the original).
		stats.LateDrops.Inc()
		return nil

	case pkt.Seq > r.nextSeq:
		// Gap: hold the packet and request everything missing below it.
		// NACKs start at nackedSeq, below which every missing seq has
		// already been requested, so a burst of out-of-order arrivals
		// doesn't re-request the same packets.
		if _, dup := r.rearrange[pkt.Seq]; !dup {
			r.rearrange[pkt.Seq] = pkt
		}
		from := r.nextSeq
		if r.nackedSeq > from {
			from = r.nackedSeq
		}
		for seq := from; seq < pkt.Seq; seq++ {
			if _, held := r.rearrange[seq]; held {
				continue // already have it; nothing to request
			}
			r.nack(seq)
			stats.NACKsSent.Inc()
		}
		if pkt.Seq > r.nackedSeq {
			r.nackedSeq = pkt.Seq
		}
		return nil

	default:
		// In order: deliver and stamp the stall clock.
		out = append(out, pkt)
		r.nextSeq++
		r.lastInSeq = now
	}

	// Flush everything now contiguous from the rearrange buffer.
	for {
		held, ok := r.rearrange[r.nextSeq]
		if !ok {
			break
		}
		delete(r.rearrange, r.nextSeq)
		out = append(out, held)
		r.nextSeq++
	}

	return out
}

// NextSeq reports the next seq expected in order.
func (r *Receiver) NextSeq() int64 { return r.nextSeq }

// Pending reports how many future packets are held in the rearrange buffer.
func (r *Receiver) Pending() int { return len(r.rearrange) }
