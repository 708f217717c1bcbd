package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"runtime"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/superkooks/smoothmirror/internal/mux"
	"github.com/superkooks/smoothmirror/internal/protocol"
)

// ipcAddr is the loopback rendezvous between the displayer and its elevated
// helper. The helper connects back immediately after sudo spawns it.
const ipcAddr = "127.0.0.1:49856"

// IPCClient is the displayer's handle on the helper.
type IPCClient struct {
	w  *mux.SubChanWriter
	m  *mux.Mux
	ln net.Listener
}

// StartPrivilegedHelper re-executes this binary under sudo in priveleged
// mode and returns the IPC channel to it. Returns (nil, nil) on platforms
// where no elevated operations are needed.
func StartPrivilegedHelper() (*IPCClient, error) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", ipcAddr)
	if err != nil {
		return nil, fmt.Errorf("ipc listen: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command("sudo", exe, "priveleged")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ln.Close()
		return nil, fmt.Errorf("spawn helper: %w", err)
	}

	conn, err := ln.Accept()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("ipc accept: %w", err)
	}

	m := mux.New(conn)
	w, _ := m.CreateSubchan(protocol.IPCChannel)
	log.Printf("[ipc] privileged helper connected")
	return &IPCClient{w: w, m: m, ln: ln}, nil
}

// StartUSBIP asks the helper to start the USB/IP service.
func (c *IPCClient) StartUSBIP() error {
	b, err := msgpack.Marshal(&protocol.IPCMsg{Type: protocol.IPCStartUSBIP})
	if err != nil {
		return err
	}
	_, err = c.w.Write(b)
	return err
}

// Close tears down the IPC channel; the helper exits when its mux dies.
func (c *IPCClient) Close() error {
	c.m.Close()
	return c.ln.Close()
}

// PrivilegedEntrypoint is the helper process: connect back to the displayer
// and service IPC requests until the channel dies. Never returns.
func PrivilegedEntrypoint() {
	conn, err := net.Dial("tcp", ipcAddr)
	if err != nil {
		log.Fatalf("[ipc] dial displayer: %v", err)
	}
	m := mux.New(conn)
	_, r := m.CreateSubchan(protocol.IPCChannel)

	dec := msgpack.NewDecoder(r)
	for {
		var msg protocol.IPCMsg
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				os.Exit(0)
			}
			log.Fatalf("[ipc] read: %v", err)
		}

		switch msg.Type {
		case protocol.IPCStartUSBIP:
			if startUSBIP == nil {
				log.Printf("[ipc] no USB/IP backend built in")
				continue
			}
			if err := startUSBIP(); err != nil {
				log.Printf("[ipc] start usbip: %v", err)
			}
		default:
			log.Printf("[ipc] unknown message type %d", msg.Type)
		}
	}
}
