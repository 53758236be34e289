// Package codec defines the seam between this module and an audio codec:
// ALAC encoding/decoding is someone else's job, specified here only at its
// interface. The PCM coder is the one concrete implementation this module
// ships, packing raw samples straight into the frame the wire carries.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Coder encodes/decodes one chunk's worth of 16-bit stereo PCM frames into
// the opaque payload carried over the wire. An external ALAC implementation
// satisfies this interface for compressed streams; Coder itself carries no
// ALAC logic.
type Coder interface {
	// Encode packs frames (interleaved L/R int16 samples, len == 2*frames)
	// into a wire payload.
	Encode(pcm []int16) ([]byte, error)
	// Decode unpacks a wire payload back into interleaved L/R int16
	// samples.
	Decode(payload []byte) ([]int16, error)
	// PayloadType returns the SDP/RTP payload type this coder implies
	// (always 96 for AirPlay-1).
	PayloadType() uint8
	// FmtpParams returns the SDP "a=fmtp:96 ..." parameter list, or nil
	// if the coder advertises via "a=rtpmap" alone (raw PCM).
	FmtpParams() []int
}

// Params describes the PCM shape every Coder in this module operates at.
type Params struct {
	SampleRate int
	BitDepth   int
	Channels   int
	// FrameLen is the chunk length in frames (352 at 44.1kHz).
	FrameLen int
}

// PCM is the raw-PCM Coder: samples are bit-packed big-endian, matching
// the "L<bits>/<rate>/<ch>" SDP rtpmap used for uncompressed streams. It
// never compresses; it exists so a receiver/sender pair can run end-to-end
// without an external ALAC codec wired in (tests, loopback fixtures).
type PCM struct {
	Params Params
}

func NewPCM(p Params) *PCM { return &PCM{Params: p} }

func (c *PCM) PayloadType() uint8 { return 96 }

func (c *PCM) FmtpParams() []int { return nil }

func (c *PCM) Encode(pcm []int16) ([]byte, error) {
	wantSamples := c.Params.FrameLen * c.Params.Channels
	if len(pcm) != wantSamples {
		return nil, fmt.Errorf("codec: pcm encode expected %d samples, got %d", wantSamples, len(pcm))
	}
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf, nil
}

func (c *PCM) Decode(payload []byte) ([]int16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("codec: pcm payload has odd length %d", len(payload))
	}
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(payload[i*2:]))
	}
	return out, nil
}

// ALACFmtp returns the fmtp parameter list ALAC advertises on the wire:
// "<chunk_len> 0 <bits> 40 10 14 <ch> 255 0 0 <rate>". Provided so an
// external ALAC encoder/decoder that implements Coder can still reuse
// this module's SDP-field plumbing without reimplementing the constant
// shape of the fmtp line.
func ALACFmtp(p Params) []int {
	return []int{p.FrameLen, 0, p.BitDepth, 40, 10, 14, p.Channels, 255, 0, 0, p.SampleRate}
}
