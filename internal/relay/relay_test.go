package relay

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/superkooks/smoothmirror/internal/protocol"
	"github.com/superkooks/smoothmirror/internal/session"
)

func startRelay(t *testing.T) *Relay {
	t.Helper()
	r := &Relay{UDPAddr: "127.0.0.1:0", TCPAddr: "127.0.0.1:0"}
	require.NoError(t, r.Bind())
	go r.Run() //nolint:errcheck — killed with the test process
	return r
}

// dialBoth runs the capturer and displayer handshakes concurrently and
// returns the two paired media sockets.
func dialBoth(t *testing.T, addr string) (capture, display *net.UDPConn) {
	t.Helper()
	type result struct {
		conn *net.UDPConn
		err  error
	}
	capCh := make(chan result, 1)
	dispCh := make(chan result, 1)
	go func() {
		c, err := session.DialMedia(addr, session.RoleCapturer)
		capCh <- result{c, err}
	}()
	go func() {
		c, err := session.DialMedia(addr, session.RoleDisplayer)
		dispCh <- result{c, err}
	}()

	capRes := <-capCh
	require.NoError(t, capRes.err)
	dispRes := <-dispCh
	require.NoError(t, dispRes.err)
	return capRes.conn, dispRes.conn
}

func TestUDPPairingAndForwarding(t *testing.T) {
	r := startRelay(t)
	addr := r.UDPLocalAddr().String()

	// DialMedia blocks until both endpoints are known, so the two
	// handshakes must run concurrently.
	capture, display := dialBoth(t, addr)
	defer capture.Close()
	defer display.Close()

	// Media from the capturer reaches the displayer unchanged.
	pkt := protocol.MediaPacket{Seq: 0, Data: []byte("frame bytes")}
	wire, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = capture.Write(wire)
	require.NoError(t, err)

	buf := make([]byte, 2048)
	require.NoError(t, display.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := display.Read(buf)
	require.NoError(t, err)
	require.Equal(t, wire, buf[:n])

	// NACKs (empty-data packets) travel the reverse path unchanged.
	nack := protocol.MediaPacket{Seq: 0}
	nackWire, err := nack.Marshal()
	require.NoError(t, err)
	_, err = display.Write(nackWire)
	require.NoError(t, err)

	require.NoError(t, capture.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err = capture.Read(buf)
	require.NoError(t, err)
	require.Equal(t, nackWire, buf[:n])
}

func TestTCPSplice(t *testing.T) {
	r := startRelay(t)
	addr := r.TCPLocalAddr().String()

	a, err := session.DialControl(addr)
	require.NoError(t, err)
	defer a.Close()
	b, err := session.DialControl(addr)
	require.NoError(t, err)
	defer b.Close()

	msg := []byte("control channel")
	_, err = a.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(b, got)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// And the reverse direction.
	_, err = b.Write([]byte("pong"))
	require.NoError(t, err)
	got = got[:4]
	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(a, got)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), got)
}

func TestStrayTrafficIgnored(t *testing.T) {
	r := startRelay(t)
	addr := r.UDPLocalAddr().String()

	capture, display := dialBoth(t, addr)
	defer capture.Close()
	defer display.Close()

	// A third party's datagram is not forwarded to either peer.
	stray, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer stray.Close()
	_, err = stray.Write([]byte("not part of this session"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, display.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = display.Read(buf)
	require.Error(t, err, "stray traffic must not reach the displayer")
}
