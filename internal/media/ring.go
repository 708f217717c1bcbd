package media

import (
	"math"
	"sync"
)

// maxBufferedSamples caps the decoded-audio backlog at one second of 48 kHz
// stereo. If the device callback stalls, the oldest samples are dropped
// rather than letting latency grow without bound.
const maxBufferedSamples = SampleRate * Channels

// PCMRing is the decoded-audio FIFO between the network/decoder goroutine
// and the audio device callback. Appends and drains are mutex-guarded with
// short critical sections, matching the device callback's realtime budget.
type PCMRing struct {
	mu        sync.Mutex
	buf       []float32
	volume    float64
	underruns uint64
}

// NewPCMRing creates a ring with the given output volume scalar.
func NewPCMRing(volume float64) *PCMRing {
	return &PCMRing{volume: volume}
}

// Append queues decoded samples for playback, dropping the oldest samples
// when the backlog exceeds one second.
func (r *PCMRing) Append(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, samples...)
	if over := len(r.buf) - maxBufferedSamples; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

// Fill drains samples into out, applying the volume scalar, and pads with
// silence when fewer samples are buffered than requested.
func (r *PCMRing) Fill(out []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := copy(out, r.buf)
	vol := float32(r.volume)
	for i := 0; i < n; i++ {
		out[i] *= vol
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if n < len(out) {
		r.underruns++
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// SetVolume updates the output volume scalar. Values are clamped to [0, 2].
func (r *PCMRing) SetVolume(v float64) {
	v = math.Max(0, math.Min(2, v))
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
}

// Len reports the number of buffered samples.
func (r *PCMRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Underruns reports how many Fill calls were padded with silence.
func (r *PCMRing) Underruns() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.underruns
}
