package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialMediaHandshake(t *testing.T) {
	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer relay.Close()

	helloSeen := make(chan byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, from, err := relay.ReadFromUDP(buf)
		if err != nil || n != 1 {
			return
		}
		helloSeen <- buf[0]
		relay.WriteToUDP([]byte{0x01}, from) //nolint:errcheck
	}()

	conn, err := DialMedia(relay.LocalAddr().String(), RoleCapturer)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, RoleCapturer, <-helloSeen)
}

func TestDialMediaRejectsBadConfirmation(t *testing.T) {
	relay, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer relay.Close()

	go func() {
		buf := make([]byte, 16)
		_, from, err := relay.ReadFromUDP(buf)
		if err != nil {
			return
		}
		relay.WriteToUDP([]byte{0x42}, from) //nolint:errcheck
	}()

	_, err = DialMedia(relay.LocalAddr().String(), RoleDisplayer)
	require.Error(t, err)
}

func TestDialControlSetsNoDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := DialControl(ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}
