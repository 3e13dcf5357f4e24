// Package utf16f converts little-endian UTF-16 byte buffers, as found in ETW
// user data and schema blobs, to WTF-8 Go strings. Unpaired surrogates are
// kept (WTF-8) instead of being replaced with U+FFFD.
package utf16f

import "encoding/binary"

const rune1Max = 1<<7 - 1
const rune2Max = 1<<11 - 1

// Units returns the number of UTF-16 code units in b before the first NUL
// unit (or all complete units if there is none).
func Units(b []byte) int {
	n := len(b) / 2
	for i := range n {
		if b[2*i] == 0 && b[2*i+1] == 0 {
			return i
		}
	}
	return n
}

// maxLen returns the upper bound of WTF-8 bytes needed for the first n units.
func maxLen(b []byte, n int) int {
	size := 0
	for i := range n {
		v := binary.LittleEndian.Uint16(b[2*i:])
		switch {
		case v <= rune1Max:
			size += 1
		case v <= rune2Max:
			size += 2
		default:
			// Surrogate halves are counted as 3 each, over-estimating pairs by 2.
			size += 3
		}
	}
	return size
}

// DecodeLE decodes a little-endian UTF-16 buffer, stopping at the first NUL unit.
func DecodeLE(b []byte) string {
	n := Units(b)
	if n == 0 {
		return ""
	}
	buf := make([]byte, 0, maxLen(b, n))
	return string(appendUnits(buf, b, n))
}

// AppendLE appends the WTF-8 form of a little-endian UTF-16 buffer to dst,
// stopping at the first NUL unit.
func AppendLE(dst, b []byte) []byte {
	n := Units(b)
	if n == 0 {
		return dst
	}
	return appendUnits(dst, b, n)
}

func appendUnits(dst, b []byte, n int) []byte {
	i := 0
	for i < n {
		word := binary.LittleEndian.Uint16(b[2*i:])
		switch {
		case word < 0x80:
			dst = append(dst, byte(word))
			i++

		case word < 0x800:
			dst = append(dst, byte((word>>6)|0xC0), byte((word&0x3F)|0x80))
			i++

		case word >= 0xD800 && word <= 0xDFFF:
			if word <= 0xDBFF && i+1 < n {
				next := binary.LittleEndian.Uint16(b[2*(i+1):])
				if next >= 0xDC00 && next <= 0xDFFF {
					r := (uint32(word-0xD800)<<10 | uint32(next-0xDC00)) + 0x10000
					dst = append(dst,
						byte((r>>18)|0xF0),
						byte(((r>>12)&0x3F)|0x80),
						byte(((r>>6)&0x3F)|0x80),
						byte((r&0x3F)|0x80))
					i += 2
					continue
				}
			}
			// Unpaired surrogate.
			dst = append(dst, 0xED, 0xA0|byte((word-0xD800)>>6), 0x80|byte(word&0x3F))
			i++

		default:
			dst = append(dst,
				byte((word>>12)|0xE0),
				byte(((word>>6)&0x3F)|0x80),
				byte((word&0x3F)|0x80))
			i++
		}
	}
	return dst
}

// EncodeLE returns s as little-endian UTF-16 followed by a NUL unit.
func EncodeLE(s string) []byte {
	return AppendEncodeLE(nil, s)
}

// AppendEncodeLE appends s as little-endian UTF-16 plus a NUL unit to dst.
func AppendEncodeLE(dst []byte, s string) []byte {
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			dst = binary.LittleEndian.AppendUint16(dst, uint16(0xD800+(r>>10)))
			dst = binary.LittleEndian.AppendUint16(dst, uint16(0xDC00+(r&0x3FF)))
			continue
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(r))
	}
	return append(dst, 0, 0)
}
