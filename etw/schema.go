package etw

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tekert/etwdecode/internal/utf16f"
)

// EventDescriptor mirrors EVENT_DESCRIPTOR.
type EventDescriptor struct {
	Id      uint16
	Version uint8
	Channel uint8
	Level   uint8
	Opcode  uint8
	Task    uint16
	Keyword uint64
}

const eventDescriptorSize = 16

func eventDescriptorFromBytes(b []byte) EventDescriptor {
	return EventDescriptor{
		Id:      binary.LittleEndian.Uint16(b[0:]),
		Version: b[2],
		Channel: b[3],
		Level:   b[4],
		Opcode:  b[5],
		Task:    binary.LittleEndian.Uint16(b[6:]),
		Keyword: binary.LittleEndian.Uint64(b[8:]),
	}
}

func (d *EventDescriptor) appendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, d.Id)
	dst = append(dst, d.Version, d.Channel, d.Level, d.Opcode)
	dst = binary.LittleEndian.AppendUint16(dst, d.Task)
	return binary.LittleEndian.AppendUint64(dst, d.Keyword)
}

// Layout of TRACE_EVENT_INFO and EVENT_PROPERTY_INFO.
const (
	traceEventInfoHeaderSize = 112
	eventPropertyInfoSize    = 24
)

// EventPropertyInfo mirrors EVENT_PROPERTY_INFO. The unions are exposed
// through accessors; which member is valid depends on Flags.
type EventPropertyInfo struct {
	Flags      PropertyFlags
	NameOffset uint32

	// nonStructType {InType, OutType, MapNameOffset}
	// structType {StructStartIndex, NumOfStructMembers, padding}
	// customSchemaType {InType, OutType, CustomSchemaOffset}
	typeA uint16
	typeB uint16
	typeC uint32

	// count | countPropertyIndex
	countUnion uint16
	// length | lengthPropertyIndex
	lengthUnion uint16
	// Reserved | Tags:28
	resTags uint32
}

func (i *EventPropertyInfo) IsStruct() bool       { return i.Flags&PropertyStruct != 0 }
func (i *EventPropertyInfo) HasParamLength() bool { return i.Flags&PropertyParamLength != 0 }
func (i *EventPropertyInfo) HasParamCount() bool  { return i.Flags&PropertyParamCount != 0 }

func (i *EventPropertyInfo) InType() TdhInType   { return TdhInType(i.typeA) }
func (i *EventPropertyInfo) OutType() TdhOutType { return TdhOutType(i.typeB) }
func (i *EventPropertyInfo) MapNameOffset() uint32 {
	return i.typeC
}
func (i *EventPropertyInfo) CustomSchemaOffset() uint32 {
	return i.typeC
}

func (i *EventPropertyInfo) StructStartIndex() uint16   { return i.typeA }
func (i *EventPropertyInfo) NumOfStructMembers() uint16 { return i.typeB }

func (i *EventPropertyInfo) Count() uint16              { return i.countUnion }
func (i *EventPropertyInfo) CountPropertyIndex() uint16 { return i.countUnion }

func (i *EventPropertyInfo) Length() uint16              { return i.lengthUnion }
func (i *EventPropertyInfo) LengthPropertyIndex() uint16 { return i.lengthUnion }

func (i *EventPropertyInfo) Tags() uint32 { return i.resTags & 0x0FFFFFFF }

func eventPropertyInfoFromBytes(b []byte) EventPropertyInfo {
	return EventPropertyInfo{
		Flags:       PropertyFlags(binary.LittleEndian.Uint32(b[0:])),
		NameOffset:  binary.LittleEndian.Uint32(b[4:]),
		typeA:       binary.LittleEndian.Uint16(b[8:]),
		typeB:       binary.LittleEndian.Uint16(b[10:]),
		typeC:       binary.LittleEndian.Uint32(b[12:]),
		countUnion:  binary.LittleEndian.Uint16(b[16:]),
		lengthUnion: binary.LittleEndian.Uint16(b[18:]),
		resTags:     binary.LittleEndian.Uint32(b[20:]),
	}
}

func (i *EventPropertyInfo) appendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(i.Flags))
	dst = binary.LittleEndian.AppendUint32(dst, i.NameOffset)
	dst = binary.LittleEndian.AppendUint16(dst, i.typeA)
	dst = binary.LittleEndian.AppendUint16(dst, i.typeB)
	dst = binary.LittleEndian.AppendUint32(dst, i.typeC)
	dst = binary.LittleEndian.AppendUint16(dst, i.countUnion)
	dst = binary.LittleEndian.AppendUint16(dst, i.lengthUnion)
	return binary.LittleEndian.AppendUint32(dst, i.resTags)
}

// TraceEventInfo is a read-only view over a TRACE_EVENT_INFO blob.
// The blob is referenced, not copied, and must not be modified afterwards.
type TraceEventInfo struct {
	ProviderGUID          GUID
	EventGUID             GUID
	EventDescriptor       EventDescriptor
	DecodingSource        DecodingSource
	ProviderNameOffset    uint32
	LevelNameOffset       uint32
	ChannelNameOffset     uint32
	KeywordsNameOffset    uint32
	TaskNameOffset        uint32
	OpcodeNameOffset      uint32
	EventMessageOffset    uint32
	ProviderMessageOffset uint32
	BinaryXMLOffset       uint32
	BinaryXMLSize         uint32
	// EventNameOffset shares storage with ActivityIDNameOffset.
	EventNameOffset uint32
	// EventAttributesOffset shares storage with RelatedActivityIDNameOffset.
	EventAttributesOffset uint32
	PropertyCount         uint32
	TopLevelPropertyCount uint32
	Flags                 TemplateFlags

	props []EventPropertyInfo
	names []string
	raw   []byte

	validateOnce sync.Once
	validateErr  error
	// member[i] is set when property i belongs to a struct span.
	member []bool
}

// ParseTraceEventInfo parses a TRACE_EVENT_INFO blob. Every offset is
// checked against len(buf).
func ParseTraceEventInfo(buf []byte) (*TraceEventInfo, error) {
	if len(buf) < traceEventInfoHeaderSize {
		return nil, fmt.Errorf("%w: trace event info header: %w", ErrInvalidSchema,
			overrun(0, traceEventInfoHeaderSize, len(buf)))
	}

	le := binary.LittleEndian
	t := &TraceEventInfo{
		ProviderGUID:          guidFromBytes(buf[0:]),
		EventGUID:             guidFromBytes(buf[16:]),
		EventDescriptor:       eventDescriptorFromBytes(buf[32:]),
		DecodingSource:        DecodingSource(le.Uint32(buf[48:])),
		ProviderNameOffset:    le.Uint32(buf[52:]),
		LevelNameOffset:       le.Uint32(buf[56:]),
		ChannelNameOffset:     le.Uint32(buf[60:]),
		KeywordsNameOffset:    le.Uint32(buf[64:]),
		TaskNameOffset:        le.Uint32(buf[68:]),
		OpcodeNameOffset:      le.Uint32(buf[72:]),
		EventMessageOffset:    le.Uint32(buf[76:]),
		ProviderMessageOffset: le.Uint32(buf[80:]),
		BinaryXMLOffset:       le.Uint32(buf[84:]),
		BinaryXMLSize:         le.Uint32(buf[88:]),
		EventNameOffset:       le.Uint32(buf[92:]),
		EventAttributesOffset: le.Uint32(buf[96:]),
		PropertyCount:         le.Uint32(buf[100:]),
		TopLevelPropertyCount: le.Uint32(buf[104:]),
		Flags:                 TemplateFlags(le.Uint32(buf[108:])),
		raw:                   buf,
	}

	if t.TopLevelPropertyCount > t.PropertyCount {
		return nil, fmt.Errorf("%w: %d top level properties but only %d properties",
			ErrInvalidSchema, t.TopLevelPropertyCount, t.PropertyCount)
	}
	end := uint64(traceEventInfoHeaderSize) + uint64(t.PropertyCount)*eventPropertyInfoSize
	if end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: property array: %w", ErrInvalidSchema,
			overrun(traceEventInfoHeaderSize, int(end-traceEventInfoHeaderSize), len(buf)))
	}

	t.props = make([]EventPropertyInfo, t.PropertyCount)
	t.names = make([]string, t.PropertyCount)
	for i := range t.props {
		off := traceEventInfoHeaderSize + i*eventPropertyInfoSize
		t.props[i] = eventPropertyInfoFromBytes(buf[off : off+eventPropertyInfoSize])
		name, err := t.stringAt(t.props[i].NameOffset)
		if err != nil {
			return nil, fmt.Errorf("%w: name of property %d: %w", ErrInvalidSchema, i, err)
		}
		t.names[i] = name
		if !t.props[i].IsStruct() {
			if _, err := t.stringAt(t.props[i].MapNameOffset()); err != nil {
				return nil, fmt.Errorf("%w: map name of property %d: %w", ErrInvalidSchema, i, err)
			}
		}
	}

	for _, off := range []uint32{t.ProviderNameOffset, t.LevelNameOffset, t.ChannelNameOffset,
		t.KeywordsNameOffset, t.TaskNameOffset, t.OpcodeNameOffset, t.EventNameOffset} {
		if _, err := t.stringAt(off); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
		}
	}

	return t, nil
}

// stringAt decodes the NUL terminated UTF-16 string at off. Offset 0 means absent.
func (t *TraceEventInfo) stringAt(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if uint64(off) >= uint64(len(t.raw)) {
		return "", overrun(int(off), 2, len(t.raw))
	}
	return utf16f.DecodeLE(t.raw[off:]), nil
}

func (t *TraceEventInfo) stringOrEmpty(off uint32) string {
	s, _ := t.stringAt(off)
	return s
}

// Raw returns the underlying blob.
func (t *TraceEventInfo) Raw() []byte { return t.raw }

// Property returns the descriptor at index i, or nil when out of range.
func (t *TraceEventInfo) Property(i int) *EventPropertyInfo {
	if i < 0 || i >= len(t.props) {
		return nil
	}
	return &t.props[i]
}

// PropertyName returns the name of property i.
func (t *TraceEventInfo) PropertyName(i int) string {
	if i < 0 || i >= len(t.names) {
		return ""
	}
	return t.names[i]
}

// MapName returns the value map name of property i, if any.
func (t *TraceEventInfo) MapName(i int) string {
	p := t.Property(i)
	if p == nil || p.IsStruct() {
		return ""
	}
	return t.stringOrEmpty(p.MapNameOffset())
}

func (t *TraceEventInfo) ProviderName() string { return t.stringOrEmpty(t.ProviderNameOffset) }
func (t *TraceEventInfo) LevelName() string    { return t.stringOrEmpty(t.LevelNameOffset) }
func (t *TraceEventInfo) ChannelName() string  { return t.stringOrEmpty(t.ChannelNameOffset) }
func (t *TraceEventInfo) TaskName() string     { return t.stringOrEmpty(t.TaskNameOffset) }
func (t *TraceEventInfo) OpcodeName() string   { return t.stringOrEmpty(t.OpcodeNameOffset) }
func (t *TraceEventInfo) EventName() string    { return t.stringOrEmpty(t.EventNameOffset) }

// KeywordsNames returns the keyword names, stored as consecutive NUL
// terminated strings ending with an empty one.
func (t *TraceEventInfo) KeywordsNames() []string {
	off := t.KeywordsNameOffset
	if off == 0 {
		return nil
	}
	var names []string
	for uint64(off)+2 <= uint64(len(t.raw)) {
		n := utf16f.Units(t.raw[off:])
		if n == 0 {
			break
		}
		names = append(names, utf16f.DecodeLE(t.raw[off:]))
		off += uint32(n+1) * 2
	}
	return names
}

// ActivityIDName and RelatedActivityIDName are the MOF reading of the
// EventName and EventAttributes offsets.
func (t *TraceEventInfo) ActivityIDName() string { return t.stringOrEmpty(t.EventNameOffset) }
func (t *TraceEventInfo) RelatedActivityIDName() string {
	return t.stringOrEmpty(t.EventAttributesOffset)
}

// EventID returns the descriptor id, or BaseId+Opcode for MOF classes,
// which have no id of their own.
func (t *TraceEventInfo) EventID() uint16 {
	if t.IsMof() {
		if id, ok := MofEventID(t.EventGUID, t.EventDescriptor.Opcode); ok {
			return id
		}
	}
	return t.EventDescriptor.Id
}

// IsMof reports whether the schema comes from a classic MOF class.
func (t *TraceEventInfo) IsMof() bool {
	return t.DecodingSource == DecodingSourceWbem
}

// Validate checks the structural invariants the decoder relies on:
// param references point strictly backwards, struct spans are in range,
// do not overlap and do not contain other structs. The result is computed
// once per schema.
func (t *TraceEventInfo) Validate() error {
	t.validateOnce.Do(func() { t.validateErr = t.validate() })
	return t.validateErr
}

// isMember reports whether property i is decoded through its struct.
func (t *TraceEventInfo) isMember(i int) bool {
	return i < len(t.member) && t.member[i]
}

func (t *TraceEventInfo) validate() error {
	n := len(t.props)
	owner := make([]int32, n)
	for i := range owner {
		owner[i] = -1
	}

	for i := range t.props {
		p := &t.props[i]
		fail := func(err error) error {
			return &PropertyError{Index: i, Name: t.names[i], InType: p.InType(), OutType: p.OutType(), Err: err}
		}

		if p.HasParamLength() && int(p.LengthPropertyIndex()) >= i {
			return fail(fmt.Errorf("%w: length references property %d", ErrInvalidDependency, p.LengthPropertyIndex()))
		}
		if p.HasParamCount() && int(p.CountPropertyIndex()) >= i {
			return fail(fmt.Errorf("%w: count references property %d", ErrInvalidDependency, p.CountPropertyIndex()))
		}

		if !p.IsStruct() {
			continue
		}
		start := int(p.StructStartIndex())
		end := start + int(p.NumOfStructMembers())
		if end > n {
			return fail(fmt.Errorf("%w: struct members [%d,%d) out of range", ErrInvalidSchema, start, end))
		}
		if i >= start && i < end {
			return fail(fmt.Errorf("%w: struct contains itself", ErrInvalidSchema))
		}
		for j := start; j < end; j++ {
			if t.props[j].IsStruct() {
				return fail(fmt.Errorf("%w: member %d is a struct", ErrUnsupportedNestedStruct, j))
			}
			if owner[j] != -1 {
				return fail(fmt.Errorf("%w: member %d already belongs to struct %d", ErrInvalidSchema, j, owner[j]))
			}
			owner[j] = int32(i)
		}
	}

	t.member = make([]bool, n)
	for i, o := range owner {
		t.member[i] = o != -1
	}
	return nil
}
