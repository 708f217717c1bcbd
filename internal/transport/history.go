package transport

import (
	"sort"
	"time"

	"github.com/gammazero/deque"
)

// HistoryWindow is the wall-clock age beyond which retransmission history
// entries are evicted. At 8 Mb/s this bounds the history near 1 MB.
const HistoryWindow = time.Second

// historyEntry retains the serialized bytes of a sent packet so a NACK can be
// answered with a verbatim retransmission.
type historyEntry struct {
	seq      int64
	wire     []byte
	enqueued time.Time
}

// history is the sender's bounded retransmission queue. Entries are strictly
// increasing in seq, so lookup is a binary search. Not safe for concurrent
// use; the Sender serialises access.
type history struct {
	q deque.Deque[historyEntry]
}

// push appends an entry. Seqs are assigned monotonically by the sender, so
// ordering holds by construction.
func (h *history) push(seq int64, wire []byte, now time.Time) {
	h.q.PushBack(historyEntry{seq: seq, wire: wire, enqueued: now})
}

// evict pops entries whose age has reached HistoryWindow.
func (h *history) evict(now time.Time) {
	for h.q.Len() > 0 && now.Sub(h.q.Front().enqueued) >= HistoryWindow {
		h.q.PopFront()
	}
}

// lookup returns the serialized bytes for seq, or nil if the entry has been
// evicted (or was never sent).
func (h *history) lookup(seq int64) []byte {
	n := h.q.Len()
	i := sort.Search(n, func(i int) bool { return h.q.At(i).seq >= seq })
	if i < n && h.q.At(i).seq == seq {
		return h.q.At(i).wire
	}
	return nil
}

func (h *history) len() int { return h.q.Len() }
