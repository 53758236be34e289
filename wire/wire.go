// Package wire implements the on-the-wire framing of every AirPlay-1 UDP
// packet kind: the audio packet (built on the standard RTP v2 header via
// pion/rtp, since AirPlay-1's audio header is byte-for-byte an RTP v2
// header), and the control-channel packets (sync, NTP, retransmit
// request, retransmitted audio), which carry no SSRC/report-block shape
// RTCP could express and are therefore hand-rolled: explicit big-endian
// serialise/parse, no struct-layout reliance.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// AudioDebug is a package switch for per-packet audio logging; no code in
// this module reads it.
var AudioDebug = false

// Payload type used for the AirPlay-1 audio stream, as assigned by the
// ANNOUNCE SDP ("a=rtpmap:96 ...").
const AudioPayloadType = 96

// Control-channel message types. Each is ORed with 0x80 on the wire; the
// constants here already include that bit.
const (
	TypeSync       = 0x54 | 0x80
	TypeTimingReq  = 0x52 | 0x80
	TypeTimingRep  = 0x53 | 0x80
	TypeRetransReq = 0x55 | 0x80
	TypeRetransAV  = 0x56 | 0x80
)

// controlSeq is the fixed RTP-style sequence number every control packet
// (sync, timing, retransmit-request) carries.
const controlSeq = 7

var (
	ErrShortPacket = errors.New("wire: packet too short")
	ErrBadType     = errors.New("wire: unexpected packet type")
)

// AudioHeader is the 4-byte proto/type/seq prefix shared by every AirPlay
// packet kind. It is produced/consumed directly for the control packets;
// for audio packets it is folded into a pion/rtp.Header instead.
type AudioHeader struct {
	Proto byte
	Type  byte
	Seq   uint16
}

func (h AudioHeader) marshalInto(b []byte) {
	b[0] = h.Proto
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.Seq)
}

func parseHeader(b []byte) (AudioHeader, error) {
	if len(b) < 4 {
		return AudioHeader{}, ErrShortPacket
	}
	return AudioHeader{
		Proto: b[0],
		Type:  b[1],
		Seq:   binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// AudioPacket is the sender->receiver audio frame: RTP header + 32-bit
// timestamp + 32-bit SSRC (folded into the RTP header fields) + payload.
type AudioPacket struct {
	Seq        uint16
	Timestamp  uint32
	SSRC       uint32
	FirstPkt   bool // marker bit: first packet after a flush/sync reset
	Payload    []byte
}

// Marshal renders the packet with github.com/pion/rtp, since AirPlay-1's
// 4-byte audio header is a standard RTP v2 header (version in the top two
// bits, marker bit repurposed as the "first packet" flag) followed by the
// usual 32-bit timestamp/SSRC fields.
func (p AudioPacket) Marshal() ([]byte, error) {
	hdr := rtp.Header{
		Version:        2,
		Marker:         p.FirstPkt,
		PayloadType:    AudioPayloadType,
		SequenceNumber: p.Seq,
		Timestamp:      p.Timestamp,
		SSRC:           p.SSRC,
	}
	pkt := rtp.Packet{Header: hdr, Payload: p.Payload}
	return pkt.Marshal()
}

// Unmarshal parses an audio packet from the wire.
func (p *AudioPacket) Unmarshal(b []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return fmt.Errorf("wire: audio packet: %w", err)
	}
	p.Seq = pkt.SequenceNumber
	p.Timestamp = pkt.Timestamp
	p.SSRC = pkt.SSRC
	p.FirstPkt = pkt.Marker
	p.Payload = pkt.Payload
	return nil
}

// SyncPacket is the sender's periodic broadcast on the control channel:
// header type 0x54|0x80, fixed sequence 7, RTP-timestamp minus latency,
// NTP "now" of the frame at the head of the sender queue, and the current
// RTP timestamp.
type SyncPacket struct {
	First        bool // proto bit 0x10: first sync after a reset
	TSMinusLatency uint32
	NTPNow       uint64
	CurrentTS    uint32
}

const syncPacketLen = 4 + 4 + 8 + 4

func (s SyncPacket) Marshal() []byte {
	b := make([]byte, syncPacketLen)
	proto := byte(0x80)
	if s.First {
		proto |= 0x10
	}
	AudioHeader{Proto: proto, Type: TypeSync, Seq: controlSeq}.marshalInto(b)
	binary.BigEndian.PutUint32(b[4:8], s.TSMinusLatency)
	binary.BigEndian.PutUint64(b[8:16], s.NTPNow)
	binary.BigEndian.PutUint32(b[16:20], s.CurrentTS)
	return b
}

func ParseSync(b []byte) (SyncPacket, error) {
	if len(b) < syncPacketLen {
		return SyncPacket{}, ErrShortPacket
	}
	h, err := parseHeader(b)
	if err != nil {
		return SyncPacket{}, err
	}
	if h.Type != TypeSync {
		return SyncPacket{}, ErrBadType
	}
	return SyncPacket{
		First:          h.Proto&0x10 != 0,
		TSMinusLatency: binary.BigEndian.Uint32(b[4:8]),
		NTPNow:         binary.BigEndian.Uint64(b[8:16]),
		CurrentTS:      binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// TimingPacket is the NTP request/reply exchanged on the timing channel:
// reference time, receive time, send time.
type TimingPacket struct {
	Reply bool
	Ref   uint64
	Recv  uint64
	Send  uint64
}

const timingPacketLen = 4 + 8 + 8 + 8

func (t TimingPacket) Marshal() []byte {
	b := make([]byte, timingPacketLen)
	typ := byte(TypeTimingReq)
	if t.Reply {
		typ = TypeTimingRep
	}
	AudioHeader{Proto: 0x80, Type: typ, Seq: controlSeq}.marshalInto(b)
	binary.BigEndian.PutUint64(b[4:12], t.Ref)
	binary.BigEndian.PutUint64(b[12:20], t.Recv)
	binary.BigEndian.PutUint64(b[20:28], t.Send)
	return b
}

func ParseTiming(b []byte) (TimingPacket, error) {
	if len(b) < timingPacketLen {
		return TimingPacket{}, ErrShortPacket
	}
	h, err := parseHeader(b)
	if err != nil {
		return TimingPacket{}, err
	}
	if h.Type != TypeTimingReq && h.Type != TypeTimingRep {
		return TimingPacket{}, ErrBadType
	}
	return TimingPacket{
		Reply: h.Type == TypeTimingRep,
		Ref:   binary.BigEndian.Uint64(b[4:12]),
		Recv:  binary.BigEndian.Uint64(b[12:20]),
		Send:  binary.BigEndian.Uint64(b[20:28]),
	}, nil
}

// RetransmitRequest is the receiver->sender NACK: first missing sequence
// and count, both big-endian uint16.
type RetransmitRequest struct {
	First uint16
	Count uint16
}

const retransReqLen = 4 + 2 + 2

func (r RetransmitRequest) Marshal() []byte {
	b := make([]byte, retransReqLen)
	AudioHeader{Proto: 0x80, Type: TypeRetransReq, Seq: controlSeq}.marshalInto(b)
	binary.BigEndian.PutUint16(b[4:6], r.First)
	binary.BigEndian.PutUint16(b[6:8], r.Count)
	return b
}

func ParseRetransmitRequest(b []byte) (RetransmitRequest, error) {
	if len(b) < retransReqLen {
		return RetransmitRequest{}, ErrShortPacket
	}
	h, err := parseHeader(b)
	if err != nil {
		return RetransmitRequest{}, err
	}
	if h.Type != TypeRetransReq {
		return RetransmitRequest{}, ErrBadType
	}
	return RetransmitRequest{
		First: binary.BigEndian.Uint16(b[4:6]),
		Count: binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// WrapRetransmit prefixes an already-marshalled audio packet with the
// retransmit header (type 0x56|0x80) sent on the control socket.
func WrapRetransmit(audio []byte) []byte {
	b := make([]byte, 4+len(audio))
	AudioHeader{Proto: 0x80, Type: TypeRetransAV, Seq: controlSeq}.marshalInto(b)
	copy(b[4:], audio)
	return b
}

// ParseRetransmit strips the retransmit header, returning the wrapped
// audio packet bytes.
func ParseRetransmit(b []byte) ([]byte, error) {
	h, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Type != TypeRetransAV {
		return nil, ErrBadType
	}
	return b[4:], nil
}
