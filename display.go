package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
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

// Displayer owns the receiving half of a session: the reorder buffer and
// NACK generator, the decoders, presentation, and local input collection.
type Displayer struct {
	cfg config.Config

	vdec      VideoDecoder
	presenter Presenter
	source    InputSource
	adec      *media.OpusDecoder
	ring      *media.PCMRing

	udp      *net.UDPConn
	receiver *transport.Receiver
	m        *mux.Mux
	fwd      *forward.PortForwarder
	gate     *InputGate

	// Latest decoded frame, handed from the network thread to the
	// presentation loop.
	frameMu     sync.Mutex
	latestFrame []byte
}

// NewDisplayer initialises the decoders, audio output and adapters.
func NewDisplayer(cfg config.Config) (*Displayer, error) {
	if newVideoDecoder == nil || newPresenter == nil {
		return nil, errors.New("no video decoder/presenter backend built in")
	}
	if newInputSource == nil {
		return nil, errors.New("no input collection backend built in")
	}

	vdec, err := newVideoDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("video decoder: %w", err)
	}
	presenter, err := newPresenter(cfg)
	if err != nil {
		return nil, fmt.Errorf("presenter: %w", err)
	}
	source, err := newInputSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("input source: %w", err)
	}
	adec, err := media.NewOpusDecoder()
	if err != nil {
		return nil, err
	}
	if err := audiodev.Init(); err != nil {
		return nil, err
	}

	return &Displayer{
		cfg:       cfg,
		vdec:      vdec,
		presenter: presenter,
		source:    source,
		adec:      adec,
		ring:      media.NewPCMRing(cfg.Volume),
	}, nil
}

// Run performs the rendezvous and services the session until a fatal error.
func (d *Displayer) Run() error {
	udp, err := session.DialMedia(d.cfg.RelayAddr, session.RoleDisplayer)
	if err != nil {
		return err
	}
	d.udp = udp
	d.receiver = transport.NewReceiver(d.cfg.FrameDuration(), d.sendNACK)

	ctrl, err := session.DialControl(d.cfg.RelayAddr)
	if err != nil {
		return err
	}
	d.m = mux.New(ctrl)
	d.fwd = forward.New(d.m)
	for _, spec := range d.cfg.Forwards {
		if _, err := d.fwd.ListenAndForward(spec.Listen, spec.Target); err != nil {
			return err
		}
	}

	// The elevated helper is optional: IPC consumers appear only when a
	// platform registered one.
	if ipc, err := StartPrivilegedHelper(); err != nil {
		log.Printf("[display] privileged helper unavailable: %v", err)
	} else if ipc != nil {
		defer ipc.Close()
	}

	playback, err := audiodev.StartPlayback(d.ring)
	if err != nil {
		return err
	}
	defer playback.Close()

	errCh := make(chan error, 3)

	// Local input out to the capturer, gated by the settings panel.
	d.gate = NewInputGate(d.source.SetPointerGrab)
	keysW, _ := d.m.CreateSubchan(protocol.KeysChannel)
	go func() { errCh <- forwardInputEvents(keysW, d.source.Events(), d.gate) }()

	go d.recvLoop(errCh)
	go d.presentLoop(errCh)

	return <-errCh
}

// sendNACK transmits a retransmission request: a media packet with the
// missing seq and empty data, on the same socket as media.
func (d *Displayer) sendNACK(seq int64) {
	wire, err := (&protocol.MediaPacket{Seq: seq}).Marshal()
	if err != nil {
		log.Printf("[display] marshal nack %d: %v", seq, err)
		return
	}
	if _, err := d.udp.Write(wire); err != nil {
		log.Printf("[display] send nack %d: %v", seq, err)
	}
}

// recvLoop is the network thread: it blocks on the media socket, runs every
// datagram through the reorder buffer, and routes ordered packets to the
// audio and video decode paths.
func (d *Displayer) recvLoop(errCh chan<- error) {
	accum := &media.AnnexBAccumulator{}
	buf := make([]byte, 2048)

	for {
		n, err := d.udp.Read(buf)
		if err != nil {
			errCh <- fmt.Errorf("media socket: %w", err)
			return
		}
		pkt, err := protocol.UnmarshalMedia(buf[:n])
		if err != nil {
			log.Printf("[display] malformed datagram: %v", err)
			continue
		}
		if pkt.IsNACK() {
			// An empty data field is never a frame; only the sender's
			// history gives such a seq meaning.
			continue
		}

		for _, m := range d.receiver.Recv(pkt) {
			if m.IsAudio {
				d.decodeAudio(m.Data)
			} else {
				d.decodeVideo(accum, m.Data)
			}
		}
	}
}

func (d *Displayer) decodeAudio(data []byte) {
	pcm, err := d.adec.Decode(data)
	if err != nil {
		// Skip the frame; the ring pads with silence.
		log.Printf("[display] audio decode: %v", err)
		return
	}
	d.ring.Append(pcm)
}

func (d *Displayer) decodeVideo(accum *media.AnnexBAccumulator, data []byte) {
	for _, nalu := range accum.Write(data) {
		frame, err := d.vdec.Decode(nalu)
		if err != nil {
			// Non-fatal: the decoder resynchronises at the next IDR.
			log.Printf("[display] video decode: %v", err)
			continue
		}
		if frame != nil {
			d.frameMu.Lock()
			d.latestFrame = frame
			d.frameMu.Unlock()
		}
	}
}

// presentLoop uploads the latest decoded frame at the display refresh
// cadence. No A/V sync: each stream renders as soon as it is decoded.
func (d *Displayer) presentLoop(errCh chan<- error) {
	ticker := time.NewTicker(d.cfg.FrameDuration())
	defer ticker.Stop()

	for range ticker.C {
		d.frameMu.Lock()
		frame := d.latestFrame
		d.latestFrame = nil
		d.frameMu.Unlock()
		if frame == nil {
			continue
		}
		if err := d.presenter.Present(frame); err != nil {
			errCh <- fmt.Errorf("present: %w", err)
			return
		}
	}
}
