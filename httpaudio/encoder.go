package httpaudio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder is the external re-encoding seam: this package never
// transcodes audio itself, it only pulls PCM frames off the playout side
// and hands each one, as raw bytes, to whatever Encoder a caller wired
// in. An MP3/FLAC/WAV re-encoder lives entirely outside this module and
// satisfies this interface; PCM passes through via the Raw encoder
// below.
type Encoder interface {
	// ContentType is the Content-Type header value this encoder's
	// output stream carries.
	ContentType() string
	// Open binds one HTTP connection's encoded output to dst and
	// returns the io.Writer this package feeds raw interleaved 16-bit
	// PCM bytes into for the lifetime of that connection. The returned
	// writer owns any internal framing (container header, block
	// boundaries) its format needs; closing/finalising it, if required,
	// happens when the connection ends (most streaming formats, PCM
	// included, need no finalisation step).
	Open(dst io.Writer) io.Writer
}

// Raw is the one concrete Encoder this module ships: it performs no
// compression, writing big-endian 16-bit interleaved samples straight
// through, mirroring codec.PCM's wire shape so a loopback client/server
// pair can run without an external MP3/FLAC encoder wired in.
type Raw struct {
	SampleRate int
	Channels   int
}

func (r Raw) ContentType() string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=%d", r.SampleRate, r.Channels)
}

func (r Raw) Open(dst io.Writer) io.Writer { return dst }

// PCMBytes renders interleaved int16 PCM samples as the big-endian byte
// stream Raw (and codec.PCM) both carry, so a caller driving this
// package's FrameSource doesn't need its own copy of the packing rule.
func PCMBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
