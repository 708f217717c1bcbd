// Package forward provides SSH-style TCP tunneling over the control-channel
// multiplexer. Either endpoint can listen locally and have connections
// dialled out at the remote side, spliced byte-for-byte through a dedicated
// sub-channel per tunnel.
package forward

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/superkooks/smoothmirror/internal/mux"
	"github.com/superkooks/smoothmirror/internal/protocol"
)

// PortForwarder services the PortForwardControl channel of a mux. Both
// endpoints run one; each side can both originate tunnels and answer the
// peer's Connect requests.
type PortForwarder struct {
	m *mux.Mux

	ctrlMu sync.Mutex // serialises control-channel writes
	ctrlW  *mux.SubChanWriter

	mu    sync.Mutex          // guards conns
	conns map[uint64]net.Conn // tunnels dialled on behalf of the peer
}

// New registers the control sub-channel and starts servicing the peer's
// Connect/Close requests in the background.
func New(m *mux.Mux) *PortForwarder {
	w, r := m.CreateSubchan(protocol.PortForwardControlChannel)
	p := &PortForwarder{
		m:     m,
		ctrlW: w,
		conns: make(map[uint64]net.Conn),
	}
	go p.serveControl(r)
	return p
}

// serveControl handles inbound ForwardMsgs until the mux shuts down.
func (p *PortForwarder) serveControl(r *mux.SubChanReader) {
	dec := msgpack.NewDecoder(r)
	for {
		var msg protocol.ForwardMsg
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[forward] control read: %v", err)
			}
			return
		}

		switch msg.Type {
		case protocol.ForwardConnect:
			go p.handleConnect(msg.ChanID, msg.Addr)
		case protocol.ForwardClose:
			p.mu.Lock()
			conn, ok := p.conns[msg.ChanID]
			delete(p.conns, msg.ChanID)
			p.mu.Unlock()
			if ok {
				conn.Close()
			}
			p.m.CloseSubchan(protocol.SubChannel(msg.ChanID))
		default:
			log.Printf("[forward] unknown control message type %d", msg.Type)
		}
	}
}

// handleConnect dials the requested address and splices the socket with the
// tunnel's sub-channel. The mux ordering guarantee means any data already
// sent by the initiator is waiting in the pending buffer when the
// sub-channel is created.
func (p *PortForwarder) handleConnect(chanID uint64, addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Printf("[forward] dial %s for tunnel %d: %v", addr, chanID, err)
		// Tell the initiator the tunnel is dead so its accept side closes.
		p.writeControl(protocol.ForwardMsg{Type: protocol.ForwardClose, ChanID: chanID})
		return
	}

	p.mu.Lock()
	p.conns[chanID] = conn
	p.mu.Unlock()

	w, r := p.m.CreateSubchan(protocol.SubChannel(chanID))
	go func() {
		io.Copy(conn, r) //nolint:errcheck — splice ends on either side closing
		conn.Close()
	}()
	go func() {
		io.Copy(w, conn) //nolint:errcheck
		// Local socket hit EOF; tell the initiator and clean up.
		p.mu.Lock()
		delete(p.conns, chanID)
		p.mu.Unlock()
		p.writeControl(protocol.ForwardMsg{Type: protocol.ForwardClose, ChanID: chanID})
		p.m.CloseSubchan(protocol.SubChannel(chanID))
	}()
}

// RequestConnection asks the peer to dial addr and returns the endpoints of
// the new tunnel. The tunnel id is chosen at random from the full 64-bit
// space; collisions across a session's handful of tunnels are not a concern.
func (p *PortForwarder) RequestConnection(addr string) (*mux.SubChanWriter, *mux.SubChanReader, error) {
	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("tunnel id: %w", err)
	}
	chanID := binary.BigEndian.Uint64(idBuf[:])

	// Register the sub-channel before the Connect goes out so a fast
	// Close response (e.g. dial failure) cannot race the registration.
	w, r := p.m.CreateSubchan(protocol.SubChannel(chanID))

	if err := p.writeControl(protocol.ForwardMsg{
		Type:   protocol.ForwardConnect,
		ChanID: chanID,
		Addr:   addr,
	}); err != nil {
		p.m.CloseSubchan(protocol.SubChannel(chanID))
		return nil, nil, err
	}
	return w, r, nil
}

// ListenAndForward binds a local TCP listener and tunnels every accepted
// connection to addr at the remote side. Returns the bound address once the
// listener is up; accepts are serviced in the background.
func (p *PortForwarder) ListenAndForward(local, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", local)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", local, err)
	}
	log.Printf("[forward] %s -> %s", ln.Addr(), addr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("[forward] accept on %s: %v", local, err)
				return
			}
			w, r, err := p.RequestConnection(addr)
			if err != nil {
				log.Printf("[forward] request tunnel to %s: %v", addr, err)
				conn.Close()
				continue
			}
			go func() {
				io.Copy(conn, r) //nolint:errcheck
				conn.Close()
			}()
			go func() {
				io.Copy(w, conn) //nolint:errcheck
				p.writeControl(protocol.ForwardMsg{Type: protocol.ForwardClose, ChanID: w.ID().Sub})
				p.m.CloseSubchan(w.ID())
			}()
		}
	}()
	return ln.Addr(), nil
}

func (p *PortForwarder) writeControl(msg protocol.ForwardMsg) error {
	b, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal forward msg: %w", err)
	}
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()
	if _, err := p.ctrlW.Write(b); err != nil {
		return fmt.Errorf("write forward msg: %w", err)
	}
	return nil
}
