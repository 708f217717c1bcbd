// Package transport implements the UDP media transport: a sender with a
// bounded retransmission history answering NACKs, and a receiver that
// reorders datagrams into strict seq order, requests retransmission of gaps,
// and escapes prolonged stalls.
package transport

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/superkooks/smoothmirror/internal/protocol"
	"github.com/superkooks/smoothmirror/internal/stats"
)

// Sender fragments nothing itself — callers packetize first — it assigns
// sequence numbers from a single space shared by audio and video, transmits,
// and retains sent packets for HistoryWindow so they can be retransmitted.
type Sender struct {
	mu      sync.Mutex
	conn    net.Conn // connected UDP socket
	seq     int64
	history history
	now     func() time.Time
}

// NewSender wraps a connected UDP socket. The first packet sent has seq 0.
func NewSender(conn net.Conn) *Sender {
	return &Sender{conn: conn, now: time.Now}
}

// SendPacket assigns the next seq, serializes and transmits the packet, and
// appends it to the retransmission history. Stale history entries are
// evicted on every send. data must be at most protocol.MaxPayload bytes; the
// sender takes ownership of the slice.
//
// Transient socket errors (timeouts) are logged and swallowed so the media
// loop keeps its cadence; other errors surface to the caller.
func (s *Sender) SendPacket(data []byte, isAudio bool) error {
	if len(data) > protocol.MaxPayload {
		return fmt.Errorf("payload %d exceeds %d bytes", len(data), protocol.MaxPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pkt := protocol.MediaPacket{Seq: s.seq, IsAudio: isAudio, Data: data}
	s.seq++

	wire, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal seq %d: %w", pkt.Seq, err)
	}

	now := s.now()
	s.history.push(pkt.Seq, wire, now)
	s.history.evict(now)

	if _, err := s.conn.Write(wire); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			log.Printf("[udp] transient send error on seq %d: %v", pkt.Seq, err)
			return nil
		}
		return fmt.Errorf("send seq %d: %w", pkt.Seq, err)
	}

	stats.PacketsSent.Inc()
	stats.BytesSent.Add(float64(len(wire)))
	return nil
}

// ProcessNACK retransmits the packet with the given seq verbatim. If the
// packet has aged out of the history it cannot be recovered; the request is
// logged and dropped.
func (s *Sender) ProcessNACK(seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats.NACKsReceived.Inc()

	wire := s.history.lookup(seq)
	if wire == nil {
		log.Printf("[udp] couldn't find packet %d in history", seq)
		return nil
	}

	if _, err := s.conn.Write(wire); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			log.Printf("[udp] transient retransmit error on seq %d: %v", seq, err)
			return nil
		}
		return fmt.Errorf("retransmit seq %d: %w", seq, err)
	}

	stats.Retransmits.Inc()
	return nil
}

// HistoryLen reports the current number of retained packets. Exposed so
// supervising code can verify the history stays bounded.
func (s *Sender) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.len()
}
