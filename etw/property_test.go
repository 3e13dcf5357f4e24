package etw

import (
	"testing"

	"github.com/tekert/etwdecode/internal/test"
	"github.com/tekert/etwdecode/internal/utf16f"
)

func newTestProperty(in TdhInType, out TdhOutType, data []byte, pointerSize uint32) *Property {
	return &Property{
		evtPropInfo: &EventPropertyInfo{typeA: uint16(in), typeB: uint16(out)},
		name:        "Value",
		data:        data,
		pointerSize: pointerSize,
	}
}

func TestPropertyFormat(t *testing.T) {
	t.Parallel()

	guid := MustParseGUID("{9E814AAD-3204-11D2-9A82-006008A86939}")
	sockaddr4 := []byte{2, 0, 0x1F, 0x90, 10, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	sockaddr6 := concat([]byte{23, 0, 0, 80}, make([]byte, 4),
		[]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, make([]byte, 4))
	localSystem := []byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}

	tests := []struct {
		name string
		in   TdhInType
		out  TdhOutType
		data []byte
		ptr  uint32
		want string
		json string
	}{
		{"ipv4", TDH_INTYPE_UINT32, TDH_OUTTYPE_IPV4, []byte{192, 168, 1, 10}, 8, "192.168.1.10", `"192.168.1.10"`},
		{"port", TDH_INTYPE_UINT16, TDH_OUTTYPE_PORT, []byte{0x01, 0xBB}, 8, "443", "443"},
		{"guid", TDH_INTYPE_GUID, TDH_OUTTYPE_NULL, guid.AppendBinary(nil), 8,
			"{9E814AAD-3204-11D2-9A82-006008A86939}", `"{9E814AAD-3204-11D2-9A82-006008A86939}"`},
		{"sockaddr v4", TDH_INTYPE_BINARY, TDH_OUTTYPE_SOCKETADDRESS, sockaddr4, 8, "10.0.0.1:8080", `"10.0.0.1:8080"`},
		{"sockaddr v6", TDH_INTYPE_BINARY, TDH_OUTTYPE_SOCKETADDRESS, sockaddr6, 8, "[::1]:80", `"[::1]:80"`},
		{"filetime epoch", TDH_INTYPE_FILETIME, TDH_OUTTYPE_NULL, le64(FiletimeEpoch), 8,
			"1970-01-01T00:00:00Z", `"1970-01-01T00:00:00Z"`},
		{"systemtime", TDH_INTYPE_SYSTEMTIME, TDH_OUTTYPE_NULL,
			concat(le16(2024), le16(3), le16(0), le16(15), le16(12), le16(30), le16(45), le16(500)), 8,
			"2024-03-15T12:30:45.5Z", `"2024-03-15T12:30:45.5Z"`},
		{"pointer 32", TDH_INTYPE_POINTER, TDH_OUTTYPE_NULL, le32(0x1000), 4, "0x1000", `"0x1000"`},
		{"pointer 64", TDH_INTYPE_POINTER, TDH_OUTTYPE_NULL, le64(0xFFFFF80000001000), 8,
			"0xFFFFF80000001000", `"0xFFFFF80000001000"`},
		{"hexint32", TDH_INTYPE_HEXINT32, TDH_OUTTYPE_NULL, le32(0x1A), 8, "0x1A", `"0x1A"`},
		{"win32 error", TDH_INTYPE_UINT32, TDH_OUTTYPE_WIN32ERROR, le32(5), 8, "0x00000005", `"0x00000005"`},
		{"boolean", TDH_INTYPE_BOOLEAN, TDH_OUTTYPE_NULL, le32(1), 8, "true", "true"},
		{"int8", TDH_INTYPE_INT8, TDH_OUTTYPE_NULL, []byte{0xFF}, 8, "-1", "-1"},
		{"sid", TDH_INTYPE_SID, TDH_OUTTYPE_NULL, localSystem, 8, "S-1-5-18", `"S-1-5-18"`},
		{"wbemsid 32", TDH_INTYPE_WBEMSID, TDH_OUTTYPE_NULL, concat(make([]byte, 8), localSystem), 4,
			"S-1-5-18", `"S-1-5-18"`},
		{"hexdump", TDH_INTYPE_HEXDUMP, TDH_OUTTYPE_NULL, concat(le32(3), []byte{0xDE, 0xAD, 0xBE}), 8,
			"0xDEADBE", `"0xDEADBE"`},
		{"quoted string", TDH_INTYPE_UNICODESTRING, TDH_OUTTYPE_NULL, utf16f.EncodeLE(`a"b`), 8, `a"b`, `"a\"b"`},
		{"noprint", TDH_INTYPE_UINT32, TDH_OUTTYPE_NOPRINT, le32(1), 8, "", `""`},
		// an OutType the InType cannot take falls back to the InType default
		{"outtype mismatch", TDH_INTYPE_UINT32, TDH_OUTTYPE_GUID, le32(7), 8, "7", "7"},
		{"uint8 as char", TDH_INTYPE_UINT8, TDH_OUTTYPE_STRING, []byte{'A'}, 8, "A", `"A"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt := test.FromT(t)
			p := newTestProperty(tc.in, tc.out, tc.data, tc.ptr)

			s, err := p.FormatToString()
			tt.CheckErr(err)
			if s != tc.want {
				t.Fatalf("FormatToString() = %q, want %q", s, tc.want)
			}

			js, err := p.MarshalJSON()
			tt.CheckErr(err)
			if string(js) != tc.json {
				t.Fatalf("MarshalJSON() = %s, want %s", js, tc.json)
			}
		})
	}
}

func TestPropertyGetters(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	p := newTestProperty(TDH_INTYPE_INT32, TDH_OUTTYPE_NULL, le32(0xFFFFFFFE), 8)
	i, err := p.GetInt()
	tt.CheckErr(err)
	tt.Assert(i == -2)
	_, err = p.GetUInt()
	tt.Assert(err != nil)

	p = newTestProperty(TDH_INTYPE_UINT64, TDH_OUTTYPE_NULL, le64(1<<63), 8)
	u, err := p.GetUInt()
	tt.CheckErr(err)
	tt.Assert(u == 1<<63)
	_, err = p.GetInt()
	tt.Assert(err != nil)

	p = newTestProperty(TDH_INTYPE_DOUBLE, TDH_OUTTYPE_NULL, le64(0x3FF8000000000000), 8)
	f, err := p.GetFloat()
	tt.CheckErr(err)
	tt.Assert(f == 1.5)

	_, err = p.GetString()
	tt.ExpectErr(err, ErrUnsupportedType)
	_, err = p.GetGUID()
	tt.ExpectErr(err, ErrUnsupportedType)

	// pointer width follows the record
	p = newTestProperty(TDH_INTYPE_SIZET, TDH_OUTTYPE_NULL, le32(42), 4)
	u, err = p.GetUInt()
	tt.CheckErr(err)
	tt.Assert(u == 42)

	// short data is reported, not read past
	p = newTestProperty(TDH_INTYPE_UINT32, TDH_OUTTYPE_NULL, []byte{1, 2}, 8)
	_, err = p.GetUInt()
	tt.ExpectErr(err, ErrBufferOverrun)
	_, err = p.FormatToString()
	tt.ExpectErr(err, ErrBufferOverrun)
}

func TestPropertyUnknownInType(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	p := newTestProperty(TDH_INTYPE_NULL, TDH_OUTTYPE_NULL, []byte{1}, 8)
	_, err := p.FormatToString()
	tt.ExpectErr(err, ErrUnsupportedType)

	var nilProp *Property
	js, err := nilProp.MarshalJSON()
	tt.CheckErr(err)
	tt.Assert(string(js) == "null")
}

func TestSwap16(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)
	tt.Assert(Swap16(0x1234) == 0x3412)
	tt.Assert(Swap16(Swap16(0xBEEF)) == 0xBEEF)
}
