package etw

import (
	"encoding/binary"
	"fmt"

	"github.com/tekert/etwdecode/internal/hexf"
)

// GUID has the Windows GUID memory layout. On the wire Data1..Data3 are
// little-endian and Data4 is a raw byte array.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

const guidSize = 16

var nullGUID = GUID{}

// guidFromBytes reads a GUID from the first 16 bytes of b. Callers check length.
func guidFromBytes(b []byte) GUID {
	var g GUID
	g.Data1 = binary.LittleEndian.Uint32(b[0:])
	g.Data2 = binary.LittleEndian.Uint16(b[4:])
	g.Data3 = binary.LittleEndian.Uint16(b[6:])
	copy(g.Data4[:], b[8:16])
	return g
}

// AppendBinary appends the 16-byte wire form of g to dst.
func (g *GUID) AppendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, g.Data1)
	dst = binary.LittleEndian.AppendUint16(dst, g.Data2)
	dst = binary.LittleEndian.AppendUint16(dst, g.Data3)
	return append(dst, g.Data4[:]...)
}

// IsZero checks if GUID is all zeros.
func (g *GUID) IsZero() bool {
	return g.Equals(&nullGUID)
}

// Equals reports whether g and o hold the same value.
func (g *GUID) Equals(o *GUID) bool {
	return *g == *o
}

// AppendText appends the braced, uppercase form of g to dst.
func (g *GUID) AppendText(dst []byte) ([]byte, error) {
	return g.appendText(dst), nil
}

func (g *GUID) appendText(dst []byte) []byte {
	dst = append(dst, '{')
	dst = hexf.AppendUint32PaddedU(dst, g.Data1)
	dst = append(dst, '-')
	dst = hexf.AppendUint16PaddedU(dst, g.Data2)
	dst = append(dst, '-')
	dst = hexf.AppendUint16PaddedU(dst, g.Data3)
	dst = append(dst, '-')
	dst = hexf.AppendEncodeU(dst, g.Data4[:2])
	dst = append(dst, '-')
	dst = hexf.AppendEncodeU(dst, g.Data4[2:])
	return append(dst, '}')
}

// String returns the braced uppercase form, e.g. {45D8CCCD-539F-4B72-A8B7-5C683142609A}.
func (g *GUID) String() string {
	return string(g.appendText(make([]byte, 0, 38)))
}

// StringU is an alias of String kept for callers that want the uppercase form explicitly.
func (g *GUID) StringU() string {
	return g.String()
}

// MarshalJSON renders g as a JSON string.
func (g GUID) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 40)
	b = append(b, '"')
	b = g.appendText(b)
	return append(b, '"'), nil
}

// UnmarshalText parses the forms accepted by ParseGUID.
func (g *GUID) UnmarshalText(text []byte) error {
	p, err := ParseGUID(string(text))
	if err != nil {
		return err
	}
	*g = *p
	return nil
}

// MustParseGUID parses a GUID string or panics.
func MustParseGUID(s string) *GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

func hexVal(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Offsets of each byte's hex pair in the 36 char form.
var guidHexOffsets = [16]int{0, 2, 4, 6, 9, 11, 14, 16, 19, 21, 24, 26, 28, 30, 32, 34}

// ParseGUID parses "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", optionally
// enclosed in braces.
func ParseGUID(s string) (*GUID, error) {
	orig := s
	if len(s) == 38 {
		if s[0] != '{' || s[37] != '}' {
			return nil, fmt.Errorf("invalid GUID %q: mismatched braces", orig)
		}
		s = s[1:37]
	}
	if len(s) != 36 {
		return nil, fmt.Errorf("invalid GUID %q: bad length", orig)
	}
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return nil, fmt.Errorf("invalid GUID %q: bad separators", orig)
	}

	var raw [16]byte
	for j, i := range guidHexOffsets {
		hi, ok1 := hexVal(s[i])
		lo, ok2 := hexVal(s[i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid GUID %q: bad hex digit", orig)
		}
		raw[j] = hi<<4 | lo
	}

	// The text form is big-endian for the first three groups.
	g := &GUID{
		Data1: binary.BigEndian.Uint32(raw[0:4]),
		Data2: binary.BigEndian.Uint16(raw[4:6]),
		Data3: binary.BigEndian.Uint16(raw[6:8]),
	}
	copy(g.Data4[:], raw[8:])
	return g, nil
}
