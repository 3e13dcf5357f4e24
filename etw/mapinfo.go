package etw

import (
	"encoding/binary"
	"fmt"

	"github.com/tekert/etwdecode/internal/utf16f"
)

// MapFlags mirrors MAP_FLAGS.
type MapFlags uint32

const (
	EVENTMAP_INFO_FLAG_MANIFEST_VALUEMAP   MapFlags = 0x1
	EVENTMAP_INFO_FLAG_MANIFEST_BITMAP     MapFlags = 0x2
	EVENTMAP_INFO_FLAG_MANIFEST_PATTERNMAP MapFlags = 0x4
	EVENTMAP_INFO_FLAG_WBEM_VALUEMAP       MapFlags = 0x8
	EVENTMAP_INFO_FLAG_WBEM_BITMAP         MapFlags = 0x10
	EVENTMAP_INFO_FLAG_WBEM_FLAG           MapFlags = 0x20
	EVENTMAP_INFO_FLAG_WBEM_NO_MAP         MapFlags = 0x40
)

// MapValueType mirrors MAP_VALUETYPE.
type MapValueType uint32

const (
	EVENTMAP_ENTRY_VALUETYPE_ULONG  MapValueType = 0
	EVENTMAP_ENTRY_VALUETYPE_STRING MapValueType = 1
)

const (
	mapInfoHeaderSize = 16 // NameOffset, Flag, EntryCount, ValueType/FormatStringOffset
	mapEntrySize      = 8  // OutputOffset, Value/InputOffset
)

// EventMapInfo is a view over an EVENT_MAP_INFO blob.
type EventMapInfo struct {
	NameOffset uint32
	Flag       MapFlags
	EntryCount uint32
	// MapEntryValueType, or FormatStringOffset for pattern maps.
	ValueType uint32

	raw []byte
}

// MapEntry is one value map entry. Input is set only for string keyed
// (pattern) maps, Value otherwise.
type MapEntry struct {
	Value  uint32
	Input  string
	Output string
}

// ParseEventMapInfo validates the header and entry table of buf.
func ParseEventMapInfo(buf []byte) (*EventMapInfo, error) {
	if len(buf) < mapInfoHeaderSize {
		return nil, overrun(0, mapInfoHeaderSize, len(buf))
	}
	m := &EventMapInfo{
		NameOffset: binary.LittleEndian.Uint32(buf[0:]),
		Flag:       MapFlags(binary.LittleEndian.Uint32(buf[4:])),
		EntryCount: binary.LittleEndian.Uint32(buf[8:]),
		ValueType:  binary.LittleEndian.Uint32(buf[12:]),
		raw:        buf,
	}
	end := uint64(mapInfoHeaderSize) + uint64(m.EntryCount)*mapEntrySize
	if end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: %d map entries need %d bytes, have %d",
			ErrBufferOverrun, m.EntryCount, end, len(buf))
	}
	return m, nil
}

func (m *EventMapInfo) entryAt(i int) (output, value uint32) {
	off := mapInfoHeaderSize + i*mapEntrySize
	return binary.LittleEndian.Uint32(m.raw[off:]), binary.LittleEndian.Uint32(m.raw[off+4:])
}

func (m *EventMapInfo) stringAt(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if uint64(off) >= uint64(len(m.raw)) {
		return "", overrun(int(off), 2, len(m.raw))
	}
	return utf16f.DecodeLE(m.raw[off:]), nil
}

// Name returns the map name.
func (m *EventMapInfo) Name() string {
	s, _ := m.stringAt(m.NameOffset)
	return s
}

// IsPattern reports a string keyed map.
func (m *EventMapInfo) IsPattern() bool {
	return m.Flag&EVENTMAP_INFO_FLAG_MANIFEST_PATTERNMAP != 0 ||
		(m.Flag&(EVENTMAP_INFO_FLAG_MANIFEST_VALUEMAP|EVENTMAP_INFO_FLAG_MANIFEST_BITMAP) != 0 &&
			MapValueType(m.ValueType) == EVENTMAP_ENTRY_VALUETYPE_STRING)
}

// Entries decodes the entry table.
func (m *EventMapInfo) Entries() ([]MapEntry, error) {
	pattern := m.IsPattern()
	entries := make([]MapEntry, 0, m.EntryCount)
	for i := range int(m.EntryCount) {
		out, val := m.entryAt(i)
		e := MapEntry{Value: val}
		var err error
		if e.Output, err = m.stringAt(out); err != nil {
			return nil, fmt.Errorf("map entry %d: %w", i, err)
		}
		if pattern {
			e.Value = 0
			if e.Input, err = m.stringAt(val); err != nil {
				return nil, fmt.Errorf("map entry %d: %w", i, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Lookup returns the output string for value in a value map.
func (m *EventMapInfo) Lookup(value uint32) (string, bool) {
	if m.IsPattern() {
		return "", false
	}
	for i := range int(m.EntryCount) {
		out, val := m.entryAt(i)
		if val == value {
			s, err := m.stringAt(out)
			return s, err == nil
		}
	}
	return "", false
}

// NormalizeMapInfo removes the pad character manifests leave at the end of
// every map entry output string, in place: "Enabled \0" becomes "Enabled\0".
// Empty strings are left alone.
func NormalizeMapInfo(buf []byte) error {
	m, err := ParseEventMapInfo(buf)
	if err != nil {
		return err
	}
	for i := range int(m.EntryCount) {
		out, _ := m.entryAt(i)
		if err := trimLastUnit(buf, out); err != nil {
			return fmt.Errorf("map entry %d: %w", i, err)
		}
	}
	return nil
}

// trimLastUnit overwrites the last UTF-16 unit of the NUL terminated string
// at off with a terminator.
func trimLastUnit(buf []byte, off uint32) error {
	if off == 0 {
		return nil
	}
	if uint64(off)+2 > uint64(len(buf)) {
		return overrun(int(off), 2, len(buf))
	}
	s := buf[off:]
	n := utf16f.Units(s)
	if n == len(s)/2 {
		// no terminator inside the blob
		return overrun(int(off), 2*n+2, len(buf))
	}
	if n == 0 {
		return nil
	}
	binary.LittleEndian.PutUint16(s[2*(n-1):], 0)
	return nil
}
