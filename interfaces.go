package main

import (
	"github.com/superkooks/smoothmirror/internal/config"
	"github.com/superkooks/smoothmirror/internal/protocol"
)

// Platform adapter contracts. Screen capture, video codecs, presentation,
// input injection and gamepad polling are implementor-provided; builds wire
// them in through the Register* hooks below, and setup fails with a
// diagnostic when a required adapter is missing. Audio capture, Opus and
// PortAudio playback are built in (internal/media, internal/audiodev).

// FrameCapturer grabs one frame of the configured monitor region.
type FrameCapturer interface {
	// CaptureFrame returns BGRA bytes of CaptureWidth x CaptureHeight.
	CaptureFrame() ([]byte, error)
	Close() error
}

// VideoEncoder compresses BGRA frames to an H.264 Annex-B byte stream:
// concatenated NAL units, IDR period at most 128 frames, CBR at the
// configured bitrate, BGRA converted to YUV 4:2:0 internally.
type VideoEncoder interface {
	// Encode returns the encoded NAL bytes for one frame; the returned
	// slice is only valid until the next call.
	Encode(bgra []byte) ([]byte, error)
	Close() error
}

// VideoDecoder decompresses complete NAL units into frames.
type VideoDecoder interface {
	// Decode consumes one start-code-prefixed NAL unit and returns a BGRA
	// frame of the display window size when one is ready, or nil. Decode
	// errors on a single unit are non-fatal; the pipeline skips and
	// continues.
	Decode(nalu []byte) ([]byte, error)
	Close() error
}

// Presenter uploads a decoded frame for display at the next refresh.
type Presenter interface {
	Present(bgra []byte) error
	Close() error
}

// InputInjector applies remote input events to the local desktop.
type InputInjector interface {
	Apply(ev protocol.InputEvent) error
	Close() error
}

// InputSource produces local input events on the displayer: window
// keyboard/mouse events and gamepad state changes. The channel closes when
// the window closes.
type InputSource interface {
	Events() <-chan protocol.InputEvent
	// SetPointerGrab captures or releases the OS cursor. While captured,
	// the displayer recenters the cursor after each motion so the host
	// reports pure deltas.
	SetPointerGrab(grabbed bool)
	Close() error
}

// Adapter factories, registered by platform builds before main runs
// (typically from an init function in a platform file).
var (
	newFrameCapturer func(cfg config.Config) (FrameCapturer, error)
	newVideoEncoder  func(cfg config.Config) (VideoEncoder, error)
	newVideoDecoder  func(cfg config.Config) (VideoDecoder, error)
	newPresenter     func(cfg config.Config) (Presenter, error)
	newInputInjector func() (InputInjector, error)
	newInputSource   func(cfg config.Config) (InputSource, error)
	startUSBIP       func() error
)

// RegisterFrameCapturer installs the screen capture backend.
func RegisterFrameCapturer(fn func(cfg config.Config) (FrameCapturer, error)) {
	newFrameCapturer = fn
}

// RegisterVideoEncoder installs the video encoder backend.
func RegisterVideoEncoder(fn func(cfg config.Config) (VideoEncoder, error)) {
	newVideoEncoder = fn
}

// RegisterVideoDecoder installs the video decoder backend.
func RegisterVideoDecoder(fn func(cfg config.Config) (VideoDecoder, error)) {
	newVideoDecoder = fn
}

// RegisterPresenter installs the presentation backend.
func RegisterPresenter(fn func(cfg config.Config) (Presenter, error)) {
	newPresenter = fn
}

// RegisterInputInjector installs the virtual-input backend.
func RegisterInputInjector(fn func() (InputInjector, error)) {
	newInputInjector = fn
}

// RegisterInputSource installs the local input collection backend.
func RegisterInputSource(fn func(cfg config.Config) (InputSource, error)) {
	newInputSource = fn
}

// RegisterUSBIP installs the USB/IP service started by the privileged
// helper on request.
func RegisterUSBIP(fn func() error) {
	startUSBIP = fn
}
