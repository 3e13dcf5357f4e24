package etw

import (
	"testing"

	"github.com/tekert/etwdecode/internal/test"
	"github.com/tekert/etwdecode/internal/utf16f"
)

type mapEntryDef struct {
	value  uint32
	output string
}

// buildValueMap encodes an EVENT_MAP_INFO value map with strings after the entry table.
func buildValueMap(name string, entries ...mapEntryDef) []byte {
	strStart := mapInfoHeaderSize + len(entries)*mapEntrySize
	var strs []byte
	add := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(strStart + len(strs))
		strs = utf16f.AppendEncodeLE(strs, s)
		return off
	}

	nameOff := add(name)
	outs := make([]uint32, len(entries))
	for i, e := range entries {
		outs[i] = add(e.output)
	}

	b := concat(le32(nameOff), le32(uint32(EVENTMAP_INFO_FLAG_MANIFEST_VALUEMAP)),
		le32(uint32(len(entries))), le32(uint32(EVENTMAP_ENTRY_VALUETYPE_ULONG)))
	for i, e := range entries {
		b = concat(b, le32(outs[i]), le32(e.value))
	}
	return append(b, strs...)
}

func TestNormalizeMapInfo(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	buf := buildValueMap("StateMap",
		mapEntryDef{0, "Disabled "},
		mapEntryDef{1, "Enabled "},
	)
	tt.CheckErr(NormalizeMapInfo(buf))

	m, err := ParseEventMapInfo(buf)
	tt.CheckErr(err)
	tt.Assert(m.Name() == "StateMap")
	tt.Assert(!m.IsPattern())

	entries, err := m.Entries()
	tt.CheckErr(err)
	tt.Assert(len(entries) == 2)
	tt.Assert(entries[0].Output == "Disabled")
	tt.Assert(entries[1].Output == "Enabled" && entries[1].Value == 1)

	s, ok := m.Lookup(1)
	tt.Assert(ok && s == "Enabled")
	_, ok = m.Lookup(7)
	tt.Assert(!ok)
}

func TestNormalizeMapInfoEmptyOutput(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	// an empty string at a real offset is left alone
	buf := buildValueMap("", mapEntryDef{0, "X"})
	off := mapInfoHeaderSize + mapEntrySize
	buf = concat(buf[:mapInfoHeaderSize], le32(uint32(off+2)), le32(0), []byte{0xFF, 0xFF, 0, 0})
	tt.CheckErr(NormalizeMapInfo(buf))
	tt.Assert(buf[off] == 0xFF && buf[off+1] == 0xFF)

	// offset 0 means no string
	buf = buildValueMap("", mapEntryDef{0, ""})
	tt.CheckErr(NormalizeMapInfo(buf))
}

func TestNormalizeMapInfoOverrun(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	tt.ExpectErr(NormalizeMapInfo(make([]byte, 8)), ErrBufferOverrun)

	// entry count larger than the table
	buf := buildValueMap("", mapEntryDef{0, "A "})
	copy(buf[8:], le32(50))
	tt.ExpectErr(NormalizeMapInfo(buf), ErrBufferOverrun)

	// output offset past the end
	buf = buildValueMap("", mapEntryDef{0, "A "})
	copy(buf[mapInfoHeaderSize:], le32(uint32(len(buf)+10)))
	tt.ExpectErr(NormalizeMapInfo(buf), ErrBufferOverrun)

	// string without a terminator
	buf = buildValueMap("", mapEntryDef{0, "AB"})
	buf = buf[:len(buf)-2]
	tt.ExpectErr(NormalizeMapInfo(buf), ErrBufferOverrun)
}
