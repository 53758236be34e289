package sender

import (
	"encoding/binary"
	"strconv"
)

// DMAPValue is the value half of a (fourcc, value) pair the DACP metadata
// TLV carries: either a string or a 16-bit int. There is no raw-bytes
// kind.
type DMAPValue struct {
	Str  string
	Int  int16
	kind byte // 's' or 'i'
}

func DMAPString(s string) DMAPValue { return DMAPValue{Str: s, kind: 's'} }
func DMAPInt(i int16) DMAPValue     { return DMAPValue{Int: i, kind: 'i'} }

// DMAPBuilder collects (fourcc, value) pairs and renders them into the
// DMAP TLV body SET_PARAMETER carries with Content-Type
// application/x-dmap-tagged.
type DMAPBuilder struct {
	entries []dmapEntry
}

type dmapEntry struct {
	fourcc string
	val    DMAPValue
}

func NewDMAPBuilder() *DMAPBuilder { return &DMAPBuilder{} }

// Add appends one (fourcc, value) pair, e.g. Add("minm", DMAPString(title)).
func (b *DMAPBuilder) Add(fourcc string, val DMAPValue) *DMAPBuilder {
	b.entries = append(b.entries, dmapEntry{fourcc: fourcc, val: val})
	return b
}

// Build renders the collected entries into the "mlit"-wrapped DMAP TLV.
func (b *DMAPBuilder) Build() []byte {
	body := make([]byte, 0, 64)
	// "mikd" entry: DMAP item-kind, always value 2 (audio track).
	body = append(body, []byte("mikd")...)
	body = append(body, 0, 0, 0, 1, 2)

	for _, e := range b.entries {
		body = append(body, []byte(padFourcc(e.fourcc))...)
		switch e.val.kind {
		case 's':
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.val.Str)))
			body = append(body, lenBuf[:]...)
			body = append(body, []byte(e.val.Str)...)
		case 'i':
			body = append(body, 0, 0, 0, 2)
			var vBuf [2]byte
			binary.BigEndian.PutUint16(vBuf[:], uint16(e.val.Int))
			body = append(body, vBuf[:]...)
		}
	}

	out := make([]byte, 0, len(body)+8)
	out = append(out, []byte("mlit")...)
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(body)))
	out = append(out, sizeBuf[:]...)
	out = append(out, body...)
	return out
}

func padFourcc(s string) string {
	for len(s) < 4 {
		s += " "
	}
	return s[:4]
}

// Progress renders the "progress: start/cur/end\r\n" SET_PARAMETER body,
// all three expressed as RTP timestamps at the session's sample rate.
func (e *Engine) Progress(startTS, curTS, endTS uint32) []byte {
	u := strconv.FormatUint
	return []byte("progress: " + u(uint64(startTS), 10) + "/" + u(uint64(curTS), 10) + "/" + u(uint64(endTS), 10) + "\r\n")
}
