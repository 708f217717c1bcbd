package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/superkooks/smoothmirror/internal/protocol"
)

// InputGate decides whether local input is forwarded to the capturer. While
// the settings panel is open the pointer is ungrabbed and events stay local.
type InputGate struct {
	forwarding atomic.Bool
	setGrab    func(bool)
}

// NewInputGate starts in the forwarding state with the pointer grabbed.
func NewInputGate(setGrab func(bool)) *InputGate {
	g := &InputGate{setGrab: setGrab}
	g.forwarding.Store(true)
	if setGrab != nil {
		setGrab(true)
	}
	return g
}

// Forwarding reports whether events should be sent to the capturer.
func (g *InputGate) Forwarding() bool { return g.forwarding.Load() }

// Toggle flips between forwarding (pointer grabbed) and local (pointer
// released, settings panel usable). Bound to the panel key in the UI layer.
func (g *InputGate) Toggle() {
	fwd := !g.forwarding.Load()
	g.forwarding.Store(fwd)
	if g.setGrab != nil {
		g.setGrab(fwd)
	}
}

// forwardInputEvents streams events to the Keys sub-channel until the source
// channel closes. Events arriving while the gate is closed are discarded.
func forwardInputEvents(w io.Writer, events <-chan protocol.InputEvent, gate *InputGate) error {
	enc := msgpack.NewEncoder(w)
	for ev := range events {
		if gate != nil && !gate.Forwarding() {
			continue
		}
		if err := enc.Encode(&ev); err != nil {
			return fmt.Errorf("write input event: %w", err)
		}
	}
	// Window closed: a normal way for the session to end.
	return errors.New("input source closed")
}

// consumeInputEvents reads the Keys sub-channel and applies each event to
// the local desktop. Injection failures are logged and the event dropped;
// a broken channel is fatal for the session.
func consumeInputEvents(r io.Reader, inj InputInjector) error {
	dec := msgpack.NewDecoder(r)
	for {
		var ev protocol.InputEvent
		if err := dec.Decode(&ev); err != nil {
			return fmt.Errorf("read input event: %w", err)
		}
		if err := inj.Apply(ev); err != nil {
			log.Printf("[input] apply %d: %v", ev.Type, err)
		}
	}
}
