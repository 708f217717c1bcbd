package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMediaPacketRoundTrip(t *testing.T) {
	p := MediaPacket{Seq: 42, IsAudio: true, Data: []byte{1, 2, 3}}
	wire, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalMedia(wire)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestMediaPacketNACKRoundTrip(t *testing.T) {
	// A NACK is a packet with empty data; it must survive the wire.
	p := MediaPacket{Seq: 7}
	wire, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalMedia(wire)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.Seq)
	require.False(t, got.IsAudio)
	require.Len(t, got.Data, 0)
	require.True(t, got.IsNACK())
}

func TestMediaPacketMaxPayload(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxPayload)
	p := MediaPacket{Seq: 9, Data: data}
	wire, err := p.Marshal()
	require.NoError(t, err)
	// Serialization overhead stays within the datagram budget.
	require.LessOrEqual(t, len(wire), 1450)

	got, err := UnmarshalMedia(wire)
	require.NoError(t, err)
	require.Equal(t, data, got.Data)
	require.False(t, got.IsNACK())
}

func TestUnmarshalMediaGarbage(t *testing.T) {
	_, err := UnmarshalMedia([]byte{0xc1, 0xff, 0x00})
	require.Error(t, err)
}

func TestChannelIDRoundTrip(t *testing.T) {
	ids := []ChannelID{
		KeysChannel,
		PortForwardControlChannel,
		IPCChannel,
		SubChannel(0),
		SubChannel(0xDEADBEEFCAFEF00D),
	}
	for _, id := range ids {
		wire, err := msgpack.Marshal(&id)
		require.NoError(t, err)
		var got ChannelID
		require.NoError(t, msgpack.Unmarshal(wire, &got))
		require.Equal(t, id, got)
	}
}

func TestChannelIDAsMapKey(t *testing.T) {
	m := map[ChannelID]int{
		KeysChannel:   1,
		SubChannel(5): 2,
	}
	require.Equal(t, 1, m[ChannelID{Kind: ChanKeys}])
	require.Equal(t, 2, m[ChannelID{Kind: ChanPortForwardSub, Sub: 5}])
}

func TestChanPacketRoundTrip(t *testing.T) {
	p := ChanPacket{ID: SubChannel(99), Data: []byte("hello")}
	wire, err := msgpack.Marshal(&p)
	require.NoError(t, err)

	var got ChanPacket
	require.NoError(t, msgpack.Unmarshal(wire, &got))
	require.Equal(t, p, got)
}

func TestChanPacketsSelfDelimiting(t *testing.T) {
	// Back-to-back frames must be decodable from one stream without an
	// outer length prefix.
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	first := ChanPacket{ID: KeysChannel, Data: []byte("one")}
	second := ChanPacket{ID: SubChannel(3), Data: []byte("two")}
	require.NoError(t, enc.Encode(&first))
	require.NoError(t, enc.Encode(&second))

	dec := msgpack.NewDecoder(&buf)
	var a, b ChanPacket
	require.NoError(t, dec.Decode(&a))
	require.NoError(t, dec.Decode(&b))
	require.Equal(t, first, a)
	require.Equal(t, second, b)
}

func TestForwardMsgRoundTrip(t *testing.T) {
	msgs := []ForwardMsg{
		{Type: ForwardConnect, ChanID: 123, Addr: "target:22"},
		{Type: ForwardClose, ChanID: 123},
	}
	for _, msg := range msgs {
		wire, err := msgpack.Marshal(&msg)
		require.NoError(t, err)
		var got ForwardMsg
		require.NoError(t, msgpack.Unmarshal(wire, &got))
		require.Equal(t, msg, got)
	}
}

func TestInputEventRoundTrip(t *testing.T) {
	events := []InputEvent{
		{Type: EventKey, Letter: 'q', Pressed: true},
		{Type: EventKey, Letter: 'q', Pressed: false},
		{Type: EventMouse, DX: -3.5, DY: 12.25},
		{Type: EventClick, Button: 2, Pressed: true},
		{Type: EventGamepadButton, PadButton: 4, PadState: 255},
		{Type: EventGamepadAxis, PadAxis: 1, PadValue: -0.5},
	}
	for _, ev := range events {
		wire, err := msgpack.Marshal(&ev)
		require.NoError(t, err)
		var got InputEvent
		require.NoError(t, msgpack.Unmarshal(wire, &got))
		require.Equal(t, ev, got)
	}
}
