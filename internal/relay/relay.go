// Package relay implements the rendezvous relay: a publicly addressable
// process that pairs one capturer with one displayer and forwards their UDP
// media and TCP control traffic. It is stateless beyond the current pair.
package relay

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/superkooks/smoothmirror/internal/protocol"
	"github.com/superkooks/smoothmirror/internal/session"
	"github.com/superkooks/smoothmirror/internal/stats"
)

// gapLogInterval paces the log-only loss statistics.
const gapLogInterval = 10 * time.Second

// Relay forwards between exactly one capturer and one displayer.
type Relay struct {
	UDPAddr string
	TCPAddr string

	udp *net.UDPConn
	tcp net.Listener
}

// Bind opens both listeners so their bound addresses can be inspected
// before Run. Run calls it implicitly.
func (r *Relay) Bind() error {
	if r.udp != nil {
		return nil
	}
	laddr, err := net.ResolveUDPAddr("udp", r.UDPAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.UDPAddr, err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", r.UDPAddr, err)
	}
	tcp, err := net.Listen("tcp", r.TCPAddr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("listen tcp %s: %w", r.TCPAddr, err)
	}
	r.udp, r.tcp = udp, tcp
	return nil
}

// UDPLocalAddr returns the bound media address. Only valid after Bind.
func (r *Relay) UDPLocalAddr() net.Addr { return r.udp.LocalAddr() }

// TCPLocalAddr returns the bound control address. Only valid after Bind.
func (r *Relay) TCPLocalAddr() net.Addr { return r.tcp.Addr() }

// Run services both listeners until one fails. Blocks.
func (r *Relay) Run() error {
	if err := r.Bind(); err != nil {
		return err
	}
	errCh := make(chan error, 2)
	go func() { errCh <- r.runUDP() }()
	go func() { errCh <- r.runTCP() }()
	return <-errCh
}

// runUDP pairs the two endpoints by their hello bytes, confirms, then
// forwards every datagram to the opposite peer. Hellos are single-byte
// datagrams; media packets are always larger.
func (r *Relay) runUDP() error {
	sock := r.udp
	defer sock.Close()
	log.Printf("[relay] udp listening on %s", sock.LocalAddr())

	var capturer, displayer *net.UDPAddr
	gaps := map[string]*gapTracker{
		"capture-to-display": newGapTracker("capture-to-display"),
		"display-to-capture": newGapTracker("display-to-capture"),
	}

	buf := make([]byte, 2048)
	for {
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("udp read: %w", err)
		}

		// Hello datagrams (re)register a peer.
		if n == 1 && (buf[0] == session.RoleCapturer || buf[0] == session.RoleDisplayer) {
			switch buf[0] {
			case session.RoleCapturer:
				capturer = from
			case session.RoleDisplayer:
				displayer = from
			}
			log.Printf("[relay] hello %d from %s", buf[0], from)
			if capturer != nil && displayer != nil {
				// Confirm to both; the pair may now stream.
				if _, err := sock.WriteToUDP([]byte{0x01}, capturer); err != nil {
					log.Printf("[relay] confirm capturer: %v", err)
				}
				if _, err := sock.WriteToUDP([]byte{0x01}, displayer); err != nil {
					log.Printf("[relay] confirm displayer: %v", err)
				}
				log.Printf("[relay] paired %s <-> %s", capturer, displayer)
			}
			continue
		}

		if capturer == nil || displayer == nil {
			continue // media before pairing completes is dropped
		}

		var dst *net.UDPAddr
		var dir string
		switch {
		case addrEqual(from, capturer):
			dst, dir = displayer, "capture-to-display"
		case addrEqual(from, displayer):
			dst, dir = capturer, "display-to-capture"
		default:
			continue // stray traffic
		}

		if _, err := sock.WriteToUDP(buf[:n], dst); err != nil {
			log.Printf("[relay] forward to %s: %v", dst, err)
			continue
		}
		stats.RelayForwarded.WithLabelValues(dir).Inc()
		gaps[dir].observe(buf[:n])
	}
}

// runTCP pairs the first two control connections in arrival order and
// splices them bidirectionally.
func (r *Relay) runTCP() error {
	ln := r.tcp
	defer ln.Close()
	log.Printf("[relay] tcp listening on %s", ln.Addr())

	for {
		a, err := acceptNoDelay(ln)
		if err != nil {
			return fmt.Errorf("tcp accept: %w", err)
		}
		b, err := acceptNoDelay(ln)
		if err != nil {
			a.Close()
			return fmt.Errorf("tcp accept: %w", err)
		}
		log.Printf("[relay] control channel %s <-> %s", a.RemoteAddr(), b.RemoteAddr())

		var wg sync.WaitGroup
		wg.Add(2)
		go splice(&wg, a, b)
		go splice(&wg, b, a)
		wg.Wait()
		log.Printf("[relay] control channel closed")
	}
}

func acceptNoDelay(ln net.Listener) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Printf("[relay] set nodelay: %v", err)
		}
	}
	return conn, nil
}

func splice(wg *sync.WaitGroup, dst, src net.Conn) {
	defer wg.Done()
	io.Copy(dst, src) //nolint:errcheck — splice ends on either side closing
	dst.Close()
	src.Close()
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// gapTracker derives log-only loss statistics by best-effort decoding of the
// media packets it forwards. Decode failures are ignored; the relay never
// depends on packet contents.
type gapTracker struct {
	dir     string
	lastSeq int64
	seen    bool
	gaps    uint64
	lastLog time.Time
}

func newGapTracker(dir string) *gapTracker {
	return &gapTracker{dir: dir, lastLog: time.Now()}
}

func (g *gapTracker) observe(datagram []byte) {
	pkt, err := protocol.UnmarshalMedia(datagram)
	if err != nil {
		return
	}
	if !g.seen {
		g.lastSeq = pkt.Seq
		g.seen = true
	} else if pkt.Seq > g.lastSeq {
		if missed := pkt.Seq - g.lastSeq - 1; missed > 0 {
			g.gaps += uint64(missed)
			stats.RelayGaps.WithLabelValues(g.dir).Add(float64(missed))
		}
		g.lastSeq = pkt.Seq
	}

	if now := time.Now(); now.Sub(g.lastLog) >= gapLogInterval {
		if g.gaps > 0 {
			log.Printf("[relay] %s: %d seqs skipped in last %s", g.dir, g.gaps, gapLogInterval)
		}
		g.gaps = 0
		g.lastLog = now
	}
}
