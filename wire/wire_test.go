package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioPacketRoundTrip(t *testing.T) {
	p := AudioPacket{
		Seq:       1234,
		Timestamp: 998877,
		SSRC:      0xdeadbeef,
		FirstPkt:  true,
		Payload:   []byte{1, 2, 3, 4, 5},
	}
	b, err := p.Marshal()
	require.NoError(t, err)

	var got AudioPacket
	require.NoError(t, got.Unmarshal(b))
	require.Equal(t, p.Seq, got.Seq)
	require.Equal(t, p.Timestamp, got.Timestamp)
	require.Equal(t, p.SSRC, got.SSRC)
	require.Equal(t, p.FirstPkt, got.FirstPkt)
	require.Equal(t, p.Payload, got.Payload)

	// proto byte top bit set, PT byte marker bit set for the first packet.
	require.Equal(t, byte(0x80), b[0])
	require.Equal(t, byte(0x80|AudioPayloadType), b[1])
}

func TestAudioPacketNotFirst(t *testing.T) {
	p := AudioPacket{Seq: 1, Timestamp: 1, SSRC: 1, Payload: []byte{0xaa}}
	b, err := p.Marshal()
	require.NoError(t, err)
	require.Equal(t, byte(AudioPayloadType), b[1])
}

func TestSyncPacketRoundTrip(t *testing.T) {
	s := SyncPacket{First: true, TSMinusLatency: 100, NTPNow: 0x1122334455667788, CurrentTS: 200}
	b := s.Marshal()
	got, err := ParseSync(b)
	require.NoError(t, err)
	require.Equal(t, s, got)
	require.Equal(t, byte(0x90), b[0]) // 0x80 | 0x10
	require.Equal(t, byte(TypeSync), b[1])
}

func TestTimingPacketRoundTrip(t *testing.T) {
	req := TimingPacket{Ref: 1, Recv: 2, Send: 3}
	b := req.Marshal()
	got, err := ParseTiming(b)
	require.NoError(t, err)
	require.Equal(t, req, got)

	rep := TimingPacket{Reply: true, Ref: 1, Recv: 2, Send: 3}
	b2 := rep.Marshal()
	got2, err := ParseTiming(b2)
	require.NoError(t, err)
	require.Equal(t, rep, got2)
}

func TestRetransmitRequestRoundTrip(t *testing.T) {
	r := RetransmitRequest{First: 10, Count: 3}
	b := r.Marshal()
	got, err := ParseRetransmitRequest(b)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestWrapParseRetransmit(t *testing.T) {
	audio := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wrapped := WrapRetransmit(audio)
	got, err := ParseRetransmit(wrapped)
	require.NoError(t, err)
	require.Equal(t, audio, got)
}

func TestShortPacket(t *testing.T) {
	_, err := ParseSync([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortPacket)
}
