package pairing

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// A minimal, one-level binary-plist codec: just enough to build and parse
// the flat string/data dictionaries the PIN-pairing POST bodies carry
// ("method"/"user", "pk"/"salt", "pk"/"proof", "epk"/"authTag"). No nested
// dictionaries or arrays, matching the scope this module's PIN-pairing
// flow actually needs.
//
// Grounded on original_source/src/bplist.cpp's own "1-level (no recurse)
// simplified bplist reader & writer", ported field-for-field (object
// marker bytes, offset table, trailer layout) so its output is byte-
// compatible with what an AirPlay device's real bplist parser expects.
type plistFieldType byte

const (
	plistString plistFieldType = 0x50
	plistData   plistFieldType = 0x40
)

type plistField struct {
	key  string
	typ  plistFieldType
	str  string
	data []byte
}

func stringField(key, value string) plistField {
	return plistField{key: key, typ: plistString, str: value}
}

func dataField(key string, value []byte) plistField {
	return plistField{key: key, typ: plistData, data: value}
}

// encodeDict renders fields as a flat bplist00 dictionary: a dictionary
// object (key-ref bytes then value-ref bytes, one per field) followed by
// each field's key object and value object in turn, then the offset
// table the refs point into and the trailer.
func encodeDict(fields ...plistField) []byte {
	object := []byte("bplist00")
	var positions []int // object index -> byte offset its header starts at

	appendObject := func(typ byte, size int, payload []byte) {
		positions = append(positions, len(object))
		object = appendObjectHeader(object, typ, size)
		object = append(object, payload...)
	}

	object = appendObjectHeader(object, 0xd0, len(fields))

	keyRefPos := len(object)
	valRefPos := keyRefPos + len(fields)
	object = append(object, make([]byte, len(fields)*2)...)

	for i, f := range fields {
		object[keyRefPos+i] = byte(len(positions))
		appendObject(byte(plistString), len(f.key), []byte(f.key))

		object[valRefPos+i] = byte(len(positions))
		switch f.typ {
		case plistString:
			appendObject(byte(plistString), len(f.str), []byte(f.str))
		case plistData:
			appendObject(byte(plistData), len(f.data), f.data)
		}
	}

	startOfs := len(object)
	ofsSize := offsetIntSize(startOfs)

	offsets := make([]byte, 0, len(positions)*ofsSize)
	for _, p := range positions {
		offsets = appendOffset(offsets, p, ofsSize)
	}

	data := append(object, offsets...)

	var trailer [32]byte
	trailer[6] = byte(ofsSize) // offsetIntSize
	trailer[7] = 1             // objectRefSize
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(positions)))
	binary.BigEndian.PutUint64(trailer[16:24], 0) // topObject
	binary.BigEndian.PutUint64(trailer[24:32], uint64(startOfs))

	return append(data, trailer[:]...)
}

// appendObjectHeader writes a bplist object marker for typ/size, inlining
// size when it fits in the low nibble (<15) and otherwise following it
// with a big-endian length field whose byte count is 2^blen, blen =
// floor(log2(size)/8) -- exactly original_source/src/bplist.cpp's
// insertObject, valid for the sub-64KiB sizes this module ever encodes.
func appendObjectHeader(object []byte, typ byte, size int) []byte {
	if size < 15 {
		return append(object, typ|byte(size))
	}
	blen := 0
	if size > 0 {
		blen = (bits.Len(uint(size)) - 1) / 8
	}
	object = append(object, typ|0x0f, 0x10|byte(blen))
	for i := blen; i >= 0; i-- {
		object = append(object, byte(size>>(8*uint(i))))
	}
	return object
}

// readObjectHeaderSize returns the payload length encoded by the object
// header starting at pos, and the position its payload begins at.
func readObjectHeaderSize(object []byte, pos int) (size, payloadStart int) {
	id := object[pos]
	if id&0x0f != 0x0f {
		return int(id & 0x0f), pos + 1
	}
	blenExp := object[pos+1] & 0x0f
	bcount := 1 << blenExp
	count := 0
	p := pos + 2
	for i := 0; i < bcount; i++ {
		count = (count << 8) | int(object[p])
		p++
	}
	return count, p
}

func appendOffset(offsets []byte, value, size int) []byte {
	for i := size - 1; i >= 0; i-- {
		offsets = append(offsets, byte(value>>(8*uint(i))))
	}
	return offsets
}

func offsetIntSize(objectSize int) int {
	n := 0
	if objectSize > 0 {
		n = (bits.Len(uint(objectSize))-1)/8 + 1
	} else {
		n = 1
	}
	return n
}

// decodeDict parses a flat bplist00 dictionary and returns its members by
// key. Only the STRING and DATA object types are understood, matching
// what PIN-pairing responses ever carry.
func decodeDict(blob []byte) (map[string][]byte, error) {
	if len(blob) < 8+32 {
		return nil, fmt.Errorf("pairing: bplist: blob too short")
	}
	trailer := blob[len(blob)-32:]
	ofsSize := int(trailer[6])
	if ofsSize == 0 {
		return nil, fmt.Errorf("pairing: bplist: zero offset size")
	}
	topObject := int(binary.BigEndian.Uint64(trailer[16:24]))
	startOfs := int(binary.BigEndian.Uint64(trailer[24:32]))
	if startOfs <= 0 || startOfs > len(blob)-32 {
		return nil, fmt.Errorf("pairing: bplist: malformed trailer")
	}

	object := blob[:startOfs]
	offsets := blob[startOfs : len(blob)-32]

	pos := 8
	if pos >= len(object) || object[pos]&0xf0 != 0xd0 {
		return nil, fmt.Errorf("pairing: bplist: expected a dictionary")
	}
	count, pos := readObjectHeaderSize(object, pos)

	if pos+count*2 > len(object) {
		return nil, fmt.Errorf("pairing: bplist: truncated reference table")
	}
	keyRefs := object[pos : pos+count]
	valRefs := object[pos+count : pos+count*2]

	resolve := func(ref byte) (int, error) {
		base := int(ref)*ofsSize + topObject
		if base+ofsSize > len(offsets) {
			return 0, fmt.Errorf("pairing: bplist: offset table index out of range")
		}
		ofs := 0
		for i := 0; i < ofsSize; i++ {
			ofs = (ofs << 8) | int(offsets[base+i])
		}
		return ofs, nil
	}

	result := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		kOfs, err := resolve(keyRefs[i])
		if err != nil {
			return nil, err
		}
		if kOfs >= len(object) || object[kOfs]&0xf0 != byte(plistString) {
			return nil, fmt.Errorf("pairing: bplist: key is not a string")
		}
		klen, kstart := readObjectHeaderSize(object, kOfs)
		if kstart+klen > len(object) {
			return nil, fmt.Errorf("pairing: bplist: truncated key")
		}
		key := string(object[kstart : kstart+klen])

		vOfs, err := resolve(valRefs[i])
		if err != nil {
			return nil, err
		}
		if vOfs >= len(object) {
			return nil, fmt.Errorf("pairing: bplist: value offset out of range")
		}
		vlen, vstart := readObjectHeaderSize(object, vOfs)
		if vstart+vlen > len(object) {
			return nil, fmt.Errorf("pairing: bplist: truncated value")
		}
		result[key] = append([]byte(nil), object[vstart:vstart+vlen]...)
	}
	return result, nil
}
