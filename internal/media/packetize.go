// Package media holds the codec-adjacent plumbing of the pipeline: slicing
// encoded output into datagram-sized packets, reassembling the video byte
// stream into NAL units, buffering decoded PCM for the audio device, and the
// Opus encoder/decoder pair.
package media

import "github.com/superkooks/smoothmirror/internal/protocol"

// Packetize slices one encoded unit (a video access unit's concatenated NAL
// bytes, or one audio frame) into payloads of at most protocol.MaxPayload
// bytes, preserving order. Each slice is an independent copy, safe to hand
// to the sender while the encoder reuses its output buffer.
func Packetize(unit []byte) [][]byte {
	if len(unit) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(unit)+protocol.MaxPayload-1)/protocol.MaxPayload)
	for len(unit) > 0 {
		n := len(unit)
		if n > protocol.MaxPayload {
			n = protocol.MaxPayload
		}
		chunk := make([]byte, n)
		copy(chunk, unit[:n])
		out = append(out, chunk)
		unit = unit[n:]
	}
	return out
}
