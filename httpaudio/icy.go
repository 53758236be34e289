package httpaudio

import (
	"fmt"
	"io"
)

// icyLenMax is the largest a single ICY metadata block can be: a 255-unit
// length byte times 16 bytes per unit, plus the length byte itself.
const icyLenMax = 255*16 + 1

// Metadata is the now-playing fields interleaved into an ICY stream.
type Metadata struct {
	Artist  string
	Title   string
	Artwork string
}

// icyState tracks one connection's ICY interleaving position: whether
// this client negotiated metadata (active), the byte interval between
// blocks (interval), how many payload bytes remain before the next block
// is due (remain), and whether fresh metadata is waiting to be rendered
// into that next block (updated).
type icyState struct {
	active   bool
	interval uint32
	remain   uint32
	updated  bool
	meta     Metadata
}

func (s *icyState) negotiate(interval uint32) {
	s.active = interval > 0
	s.interval = interval
	s.remain = interval
	s.updated = false
}

func (s *icyState) setMetadata(m Metadata) {
	s.meta = m
	s.updated = true
}

// block renders one ICY metadata frame. An unchanged block is a single
// zero length byte, the ICY idiom for "no update this interval".
func (s *icyState) block() []byte {
	if !s.updated {
		return []byte{0}
	}
	s.updated = false

	sep := ""
	if s.meta.Artist != "" {
		sep = " - "
	}
	var text string
	if s.meta.Artwork != "" {
		text = fmt.Sprintf("StreamTitle='%s%s%s';StreamURL='%s';", s.meta.Artist, sep, s.meta.Title, s.meta.Artwork)
	} else {
		text = fmt.Sprintf("StreamTitle='%s%s%s';", s.meta.Artist, sep, s.meta.Title)
	}

	units := (len(text) + 15) / 16
	if units > 255 {
		units = 255
		text = text[:255*16]
	}
	out := make([]byte, 1+units*16)
	out[0] = byte(units)
	copy(out[1:], text)
	return out
}

// icyWriter wraps a connection's underlying writer, splitting any
// payload at the negotiated byte boundary to interleave one metadata
// block, the way a Shoutcast source stream does. A connection that never
// negotiated ICY passes bytes straight through.
type icyWriter struct {
	dst   io.Writer
	state *icyState
}

func (w *icyWriter) Write(p []byte) (int, error) {
	if !w.state.active {
		return w.dst.Write(p)
	}

	written := 0
	for len(p) > 0 {
		n := len(p)
		if uint32(n) > w.state.remain {
			n = int(w.state.remain)
		}
		if n > 0 {
			if _, err := w.dst.Write(p[:n]); err != nil {
				return written, err
			}
			written += n
			p = p[n:]
			w.state.remain -= uint32(n)
		}
		if w.state.remain == 0 {
			if _, err := w.dst.Write(w.state.block()); err != nil {
				return written, err
			}
			w.state.remain = w.state.interval
		}
	}
	return written, nil
}
