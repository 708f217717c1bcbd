// Package session implements the endpoint side of the rendezvous handshake:
// announcing a role to the relay over UDP, waiting for pairing confirmation,
// and establishing the TCP control connection.
package session

import (
	"fmt"
	"log"
	"net"
)

// Role bytes sent as the UDP hello payload.
const (
	RoleCapturer  byte = 0x00
	RoleDisplayer byte = 0x01
)

// confirmByte is the relay's pairing confirmation.
const confirmByte = 0x01

// recvBufferSize sizes the UDP receive buffer so a burst of video packets
// survives a scheduling hiccup. 8 MiB holds about eight seconds of video at
// the 8 Mb/s target bitrate.
const recvBufferSize = 8 << 20

// DialMedia binds a UDP socket connected to the relay, announces role, and
// blocks until the relay confirms both endpoints are known. The returned
// socket carries media datagrams in both directions for the session's life.
func DialMedia(relayAddr string, role byte) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve relay %s: %w", relayAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", relayAddr, err)
	}
	if err := conn.SetReadBuffer(recvBufferSize); err != nil {
		// macOS caps SO_RCVBUF well below 8 MiB; keep the default there.
		log.Printf("[session] set recv buffer: %v", err)
	}

	if _, err := conn.Write([]byte{role}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	log.Printf("[session] waiting for peer via %s", relayAddr)
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await confirmation: %w", err)
	}
	if n != 1 || buf[0] != confirmByte {
		conn.Close()
		return nil, fmt.Errorf("unexpected confirmation %x", buf[:n])
	}
	log.Printf("[session] paired")

	return conn, nil
}

// DialControl connects the TCP control channel through the relay with
// NODELAY set, so small input-event frames are not batched.
func DialControl(relayAddr string) (*net.TCPConn, error) {
	raddr, err := net.ResolveTCPAddr("tcp", relayAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve relay %s: %w", relayAddr, err)
	}
	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial control %s: %w", relayAddr, err)
	}
	if err := conn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set nodelay: %w", err)
	}
	return conn, nil
}
