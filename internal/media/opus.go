package media

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Audio stream parameters. One Opus frame is 20 ms of 48 kHz stereo
// float32 samples.
const (
	SampleRate = 48000
	Channels   = 2
	FrameSize  = 960 // samples per channel per 20 ms frame

	// FramePCMLen is the interleaved sample count of one frame.
	FramePCMLen = FrameSize * Channels

	// maxOpusPacket is the largest encoded Opus packet (RFC 6716).
	maxOpusPacket = 1275
)

// OpusEncoder wraps a low-delay Opus encoder for desktop audio.
type OpusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

// NewOpusEncoder creates an encoder at the given bitrate (bits/s).
func NewOpusEncoder(bitrate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("opus bitrate: %w", err)
	}
	return &OpusEncoder{enc: enc, buf: make([]byte, maxOpusPacket)}, nil
}

// Encode compresses one frame of FramePCMLen interleaved samples. The
// returned slice is a copy; the internal buffer is reused across calls.
func (e *OpusEncoder) Encode(pcm []float32) ([]byte, error) {
	if len(pcm) != FramePCMLen {
		return nil, fmt.Errorf("opus encode: got %d samples, want %d", len(pcm), FramePCMLen)
	}
	n, err := e.enc.EncodeFloat32(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// OpusDecoder wraps an Opus decoder producing interleaved float32 PCM.
type OpusDecoder struct {
	dec *opus.Decoder
	pcm []float32
}

// NewOpusDecoder creates a 48 kHz stereo decoder.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, pcm: make([]float32, FramePCMLen*2)}, nil
}

// Decode decompresses one packet. The returned slice aliases an internal
// buffer valid until the next call; append it to a PCMRing before reuse.
func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	n, err := d.dec.DecodeFloat32(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return d.pcm[:n*Channels], nil
}
