// Package protocol defines the wire types shared by the capturer, displayer
// and relay: media packets on UDP, channel frames on TCP, port-forward and
// IPC control messages, and input events.
//
// Everything is MessagePack-encoded. Frames are self-delimiting, so a
// msgpack.Decoder can read them back-to-back from a TCP stream without an
// outer length prefix.
package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPayload is the largest data field carried by a single media packet.
// Keeps the serialized datagram under a conservative path MTU.
const MaxPayload = 1400

// MediaPacket is one UDP datagram of encoded media. Seq numbers are assigned
// from a single space shared by audio and video, so a NACK identifies a
// packet by seq alone.
//
// A packet with empty Data is a NACK for Seq: only the original sender,
// looking the seq up in its retransmission history, gives it meaning.
// Receivers must never interpret an empty Data field as a frame.
type MediaPacket struct {
	Seq     int64  `msgpack:"seq"`
	IsAudio bool   `msgpack:"is_audio"`
	Data    []byte `msgpack:"data"`
}

// IsNACK reports whether the packet is a retransmission request.
func (p *MediaPacket) IsNACK() bool { return len(p.Data) == 0 }

// Marshal serializes the packet for transmission.
func (p *MediaPacket) Marshal() ([]byte, error) {
	return msgpack.Marshal(p)
}

// UnmarshalMedia decodes a media packet from a received datagram.
func UnmarshalMedia(buf []byte) (MediaPacket, error) {
	var p MediaPacket
	if err := msgpack.Unmarshal(buf, &p); err != nil {
		return MediaPacket{}, fmt.Errorf("decode media packet: %w", err)
	}
	return p, nil
}

// ChannelKind discriminates the logical streams multiplexed over the single
// TCP control connection.
type ChannelKind uint8

const (
	// ChanKeys carries InputEvent records from the displayer to the capturer.
	ChanKeys ChannelKind = iota
	// ChanPortForwardControl carries ForwardMsg records.
	ChanPortForwardControl
	// ChanPortForwardSub carries the bytes of one forwarded TCP connection,
	// identified by the Sub field of the ChannelID.
	ChanPortForwardSub
	// ChanIPC carries IPCMsg records between the displayer and its
	// privileged helper process.
	ChanIPC
)

func (k ChannelKind) String() string {
	switch k {
	case ChanKeys:
		return "keys"
	case ChanPortForwardControl:
		return "pf-control"
	case ChanPortForwardSub:
		return "pf-sub"
	case ChanIPC:
		return "ipc"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ChannelID identifies one sub-channel. Sub is only meaningful for
// ChanPortForwardSub, where it carries the 64-bit tunnel id chosen by the
// initiating side; it is zero for all other kinds.
//
// Encoded on the wire as a two-element array [kind, sub] so the id is usable
// as a map key on both ends regardless of kind.
type ChannelID struct {
	Kind ChannelKind
	Sub  uint64
}

// KeysChannel, PortForwardControlChannel and IPCChannel are the fixed ids.
var (
	KeysChannel               = ChannelID{Kind: ChanKeys}
	PortForwardControlChannel = ChannelID{Kind: ChanPortForwardControl}
	IPCChannel                = ChannelID{Kind: ChanIPC}
)

// SubChannel returns the id of the port-forward sub-channel for a tunnel.
func SubChannel(id uint64) ChannelID {
	return ChannelID{Kind: ChanPortForwardSub, Sub: id}
}

func (c ChannelID) String() string {
	if c.Kind == ChanPortForwardSub {
		return fmt.Sprintf("%s(%d)", c.Kind, c.Sub)
	}
	return c.Kind.String()
}

var (
	_ msgpack.CustomEncoder = (*ChannelID)(nil)
	_ msgpack.CustomDecoder = (*ChannelID)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (c *ChannelID) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(c.Kind)); err != nil {
		return err
	}
	return enc.EncodeUint64(c.Sub)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (c *ChannelID) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("channel id: expected 2 elements, got %d", n)
	}
	kind, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	sub, err := dec.DecodeUint64()
	if err != nil {
		return err
	}
	c.Kind = ChannelKind(kind)
	c.Sub = sub
	return nil
}

// ChanPacket is one frame of the TCP control channel: a chunk of bytes
// addressed to a sub-channel. Bytes within one sub-channel are delivered in
// the exact order written.
type ChanPacket struct {
	ID   ChannelID `msgpack:"chan_id"`
	Data []byte    `msgpack:"data"`
}

// ForwardMsgType discriminates port-forward control messages.
type ForwardMsgType uint8

const (
	// ForwardConnect asks the remote side to dial Addr and splice the
	// resulting socket with sub-channel ChanID.
	ForwardConnect ForwardMsgType = iota
	// ForwardClose asks the remote side to shut down the socket spliced
	// with sub-channel ChanID.
	ForwardClose
)

// ForwardMsg travels on the PortForwardControl channel. The mux guarantees a
// Connect is observed before any data on the matching sub-channel.
type ForwardMsg struct {
	Type   ForwardMsgType `msgpack:"type"`
	ChanID uint64         `msgpack:"chan_id"`
	Addr   string         `msgpack:"addr,omitempty"`
}

// InputEventType discriminates input events on the Keys channel.
type InputEventType uint8

const (
	EventKey InputEventType = iota
	EventMouse
	EventClick
	EventGamepadButton
	EventGamepadAxis
)

// InputEvent is one keyboard, mouse or gamepad state change collected at the
// displayer and applied at the capturer.
//
// Mouse events are relative deltas only; the displayer recenters the OS
// cursor after each motion so the host reports pure deltas.
type InputEvent struct {
	Type InputEventType `msgpack:"type"`

	// Key
	Letter  rune `msgpack:"letter,omitempty"`
	Pressed bool `msgpack:"pressed,omitempty"`

	// Mouse
	DX float64 `msgpack:"dx,omitempty"`
	DY float64 `msgpack:"dy,omitempty"`

	// Click: 0 = left, 1 = right, 2 = middle
	Button int `msgpack:"button,omitempty"`

	// Gamepad
	PadButton uint8   `msgpack:"pad_button,omitempty"`
	PadState  uint8   `msgpack:"pad_state,omitempty"`
	PadAxis   uint8   `msgpack:"pad_axis,omitempty"`
	PadValue  float32 `msgpack:"pad_value,omitempty"`
}

// IPCMsgType discriminates messages to the privileged helper.
type IPCMsgType uint8

const (
	// IPCStartUSBIP asks the helper to start the USB/IP service.
	IPCStartUSBIP IPCMsgType = iota
)

// IPCMsg travels on the IPC channel between the displayer and the privileged
// helper it spawned.
type IPCMsg struct {
	Type IPCMsgType `msgpack:"type"`
}
