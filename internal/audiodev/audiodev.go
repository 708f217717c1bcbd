// Package audiodev adapts PortAudio devices to the media pipeline: a
// playback stream draining the decoded-PCM ring, and a capture stream that
// discards desktop audio while corked and buffers it once the session
// uncorks it.
//
// Each native stream is pumped by PortAudio's own callback thread; all
// cross-thread traffic goes through the mutex-guarded ring/queue, never
// through shared native handles.
package audiodev

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/superkooks/smoothmirror/internal/media"
)

// paStream abstracts a PortAudio stream so lifecycle behaviour can be
// tested without real hardware.
type paStream interface {
	Start() error
	Stop() error
	Close() error
}

// openStream opens a default-device callback stream. Swapped in tests.
var openStream = func(inChans, outChans int, cb func([]float32)) (paStream, error) {
	s, err := portaudio.OpenDefaultStream(
		inChans, outChans, float64(media.SampleRate), media.FrameSize, cb,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Init must be called once before opening any stream.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	return nil
}

// Terminate releases PortAudio. Call at process shutdown.
func Terminate() {
	portaudio.Terminate() //nolint:errcheck — process is exiting
}

// Playback drives the default output device from a PCMRing.
type Playback struct {
	stream paStream
}

// StartPlayback opens the default output device at the stream's native
// format and begins draining ring from the device callback. Underruns are
// padded with silence inside the ring.
func StartPlayback(ring *media.PCMRing) (*Playback, error) {
	stream, err := openStream(0, media.Channels, func(out []float32) {
		ring.Fill(out)
	})
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}
	return &Playback{stream: stream}, nil
}

// Close stops the device.
func (p *Playback) Close() error {
	if err := p.stream.Stop(); err != nil {
		return err
	}
	return p.stream.Close()
}

// Capture records desktop audio into an internal queue, corked until the
// session is established so pre-session audio is not buffered.
type Capture struct {
	stream paStream

	mu      sync.Mutex
	corked  bool
	pending []float32
}

// maxPendingSamples bounds the capture backlog at one second; if the sender
// stalls, old audio is dropped in favour of fresh.
const maxPendingSamples = media.SampleRate * media.Channels

// trimOldest drops the oldest samples so at most max remain, shifting the
// survivors to the front of the same backing array.
func trimOldest(buf []float32, max int) []float32 {
	if over := len(buf) - max; over > 0 {
		buf = append(buf[:0], buf[over:]...)
	}
	return buf
}

// StartCapture opens the default input device corked. Call Uncork once the
// control channel is up.
func StartCapture() (*Capture, error) {
	c := &Capture{corked: true}
	stream, err := openStream(media.Channels, 0, c.push)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	c.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	return c, nil
}

// push is the device callback: append captured samples unless corked.
func (c *Capture) push(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.corked {
		return
	}
	c.pending = append(c.pending, in...)
	c.pending = trimOldest(c.pending, maxPendingSamples)
}

// Uncork starts accumulating captured audio.
func (c *Capture) Uncork() {
	c.mu.Lock()
	c.corked = false
	c.mu.Unlock()
}

// ReadFrame returns the next full frame of FramePCMLen interleaved samples,
// or nil when less than a frame is buffered. Non-blocking.
func (c *Capture) ReadFrame() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) < media.FramePCMLen {
		return nil
	}
	frame := make([]float32, media.FramePCMLen)
	copy(frame, c.pending[:media.FramePCMLen])
	c.pending = append(c.pending[:0], c.pending[media.FramePCMLen:]...)
	return frame
}

// Close stops the device.
func (c *Capture) Close() error {
	if err := c.stream.Stop(); err != nil {
		return err
	}
	return c.stream.Close()
}
