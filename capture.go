package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/superkooks/smoothmirror/internal/audiodev"
	"github.com/superkooks/smoothmirror/internal/config"
	"github.com/superkooks/smoothmirror/internal/forward"
	"github.com/superkooks/smoothmirror/internal/media"
	"github.com/superkooks/smoothmirror/internal/mux"
	"github.com/superkooks/smoothmirror/internal/protocol"
	"github.com/superkooks/smoothmirror/internal/session"
	"github.com/superkooks/smoothmirror/internal/transport"
)

// Capturer owns the sending half of a session: screen and audio capture,
// the encoders, the UDP sender with its retransmission history, and the
// capturer end of the control channel.
type Capturer struct {
	cfg config.Config

	capturer FrameCapturer
	venc     VideoEncoder
	audio    *audiodev.Capture
	aenc     *media.OpusEncoder
	injector InputInjector

	sender *transport.Sender
	udp    *net.UDPConn
	m      *mux.Mux
	fwd    *forward.PortForwarder
}

// NewCapturer initialises every adapter and codec. Any failure here is a
// setup error; the process exits rather than limping.
func NewCapturer(cfg config.Config) (*Capturer, error) {
	if newFrameCapturer == nil || newVideoEncoder == nil {
		return nil, errors.New("no screen capture/encoder backend built in")
	}
	if newInputInjector == nil {
		return nil, errors.New("no input injection backend built in")
	}

	grab, err := newFrameCapturer(cfg)
	if err != nil {
		return nil, fmt.Errorf("screen capture: %w", err)
	}
	venc, err := newVideoEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("video encoder: %w", err)
	}
	injector, err := newInputInjector()
	if err != nil {
		return nil, fmt.Errorf("input injector: %w", err)
	}

	if err := audiodev.Init(); err != nil {
		return nil, err
	}
	audio, err := audiodev.StartCapture()
	if err != nil {
		return nil, fmt.Errorf("audio capture: %w", err)
	}
	aenc, err := media.NewOpusEncoder(cfg.AudioBitrate)
	if err != nil {
		return nil, err
	}

	return &Capturer{
		cfg:      cfg,
		capturer: grab,
		venc:     venc,
		audio:    audio,
		aenc:     aenc,
		injector: injector,
	}, nil
}

// Run performs the rendezvous and drives the capture loop until a fatal
// error. There is no reconnection: a new session requires restarting both
// endpoints.
func (c *Capturer) Run() error {
	udp, err := session.DialMedia(c.cfg.RelayAddr, session.RoleCapturer)
	if err != nil {
		return err
	}
	c.udp = udp
	c.sender = transport.NewSender(udp)

	ctrl, err := session.DialControl(c.cfg.RelayAddr)
	if err != nil {
		return err
	}
	c.m = mux.New(ctrl)
	c.fwd = forward.New(c.m)

	errCh := make(chan error, 3)

	// NACKs arrive on the media socket as empty data packets.
	go c.recvNACKs(errCh)

	// Remote input arrives on the Keys sub-channel.
	_, keysR := c.m.CreateSubchan(protocol.KeysChannel)
	go func() { errCh <- consumeInputEvents(keysR, c.injector) }()

	go c.captureLoop(errCh)

	return <-errCh
}

// recvNACKs reads the media socket, which carries only NACKs in this
// direction, and answers them from the retransmission history. Malformed
// datagrams are dropped with a log entry; a socket error is fatal.
func (c *Capturer) recvNACKs(errCh chan<- error) {
	buf := make([]byte, 2048)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			errCh <- fmt.Errorf("media socket: %w", err)
			return
		}
		pkt, err := protocol.UnmarshalMedia(buf[:n])
		if err != nil {
			log.Printf("[capture] malformed datagram: %v", err)
			continue
		}
		if !pkt.IsNACK() {
			// Only NACKs are meaningful here; ignore anything else.
			continue
		}
		if err := c.sender.ProcessNACK(pkt.Seq); err != nil {
			errCh <- err
			return
		}
	}
}

// captureLoop runs the frame-paced pipeline: capture, encode, packetize,
// send, then drain whatever audio frames are ready, then sleep until the
// next tick.
func (c *Capturer) captureLoop(errCh chan<- error) {
	frameDur := c.cfg.FrameDuration()
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	// Defer audio until the session is fully established so the first
	// audible samples line up with the first frames.
	c.audio.Uncork()
	log.Printf("[capture] streaming at %d fps", c.cfg.FrameRate)

	for {
		bgra, err := c.capturer.CaptureFrame()
		if err != nil {
			errCh <- fmt.Errorf("capture frame: %w", err)
			return
		}
		nalus, err := c.venc.Encode(bgra)
		if err != nil {
			// A single bad frame is non-fatal; skip and continue.
			log.Printf("[capture] encode: %v", err)
		} else {
			for _, pkt := range media.Packetize(nalus) {
				if err := c.sender.SendPacket(pkt, false); err != nil {
					errCh <- err
					return
				}
			}
		}

		// Poll the audio encoder without blocking the frame cadence.
		for {
			pcm := c.audio.ReadFrame()
			if pcm == nil {
				break
			}
			opusData, err := c.aenc.Encode(pcm)
			if err != nil {
				log.Printf("[capture] audio encode: %v", err)
				continue
			}
			for _, pkt := range media.Packetize(opusData) {
				if err := c.sender.SendPacket(pkt, true); err != nil {
					errCh <- err
					return
				}
			}
		}

		<-ticker.C
	}
}
