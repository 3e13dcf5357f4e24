package etw

import (
	"encoding/binary"

	"github.com/tekert/etwdecode/internal/utf16f"
)

// PropertyDef describes one property for SchemaBuilder.
//
// Length and Count hold property indexes instead of literal values when
// Flags carries PropertyParamLength or PropertyParamCount.
type PropertyDef struct {
	Name          string
	Flags         PropertyFlags
	InType        TdhInType
	OutType       TdhOutType
	MapName       string
	Length        uint16
	Count         uint16
	StructStart   uint16
	StructMembers uint16
	Tags          uint32
}

// SchemaBuilder encodes TRACE_EVENT_INFO blobs. It is used for classic
// kernel classes, captures and tests.
type SchemaBuilder struct {
	ProviderGUID   GUID
	EventGUID      GUID
	Descriptor     EventDescriptor
	DecodingSource DecodingSource
	ProviderName   string
	LevelName      string
	ChannelName    string
	TaskName       string
	OpcodeName     string
	EventName      string
	Keywords       []string
	Flags          TemplateFlags

	// TopLevel is the number of top-level properties. When zero it defaults
	// to the index of the first struct member, or to len(Properties).
	TopLevel   int
	Properties []PropertyDef
}

func (b *SchemaBuilder) topLevel() int {
	if b.TopLevel > 0 {
		return b.TopLevel
	}
	top := len(b.Properties)
	for i := range b.Properties {
		p := &b.Properties[i]
		if p.Flags&PropertyStruct != 0 && p.StructMembers > 0 && int(p.StructStart) < top {
			top = int(p.StructStart)
		}
	}
	return top
}

// Bytes encodes the schema. Strings are appended after the property array.
func (b *SchemaBuilder) Bytes() []byte {
	n := len(b.Properties)
	strStart := traceEventInfoHeaderSize + n*eventPropertyInfoSize
	strs := make([]byte, 0, 256)

	addString := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(strStart + len(strs))
		strs = utf16f.AppendEncodeLE(strs, s)
		return off
	}

	providerOff := addString(b.ProviderName)
	levelOff := addString(b.LevelName)
	channelOff := addString(b.ChannelName)
	taskOff := addString(b.TaskName)
	opcodeOff := addString(b.OpcodeName)
	eventNameOff := addString(b.EventName)
	var keywordsOff uint32
	if len(b.Keywords) > 0 {
		keywordsOff = uint32(strStart + len(strs))
		for _, k := range b.Keywords {
			strs = utf16f.AppendEncodeLE(strs, k)
		}
		strs = append(strs, 0, 0)
	}

	props := make([]EventPropertyInfo, n)
	for i := range b.Properties {
		d := &b.Properties[i]
		p := &props[i]
		p.Flags = d.Flags
		p.NameOffset = addString(d.Name)
		if d.Flags&PropertyStruct != 0 {
			p.typeA = d.StructStart
			p.typeB = d.StructMembers
		} else {
			p.typeA = uint16(d.InType)
			p.typeB = uint16(d.OutType)
			p.typeC = addString(d.MapName)
		}
		p.countUnion = d.Count
		p.lengthUnion = d.Length
		p.resTags = d.Tags & 0x0FFFFFFF
	}

	le := binary.LittleEndian
	out := make([]byte, 0, strStart+len(strs))
	out = b.ProviderGUID.AppendBinary(out)
	out = b.EventGUID.AppendBinary(out)
	out = b.Descriptor.appendBinary(out)
	for _, v := range []uint32{
		uint32(b.DecodingSource),
		providerOff,
		levelOff,
		channelOff,
		keywordsOff,
		taskOff,
		opcodeOff,
		0, // EventMessageOffset
		0, // ProviderMessageOffset
		0, // BinaryXMLOffset
		0, // BinaryXMLSize
		eventNameOff,
		0, // EventAttributesOffset
		uint32(n),
		uint32(b.topLevel()),
		uint32(b.Flags),
	} {
		out = le.AppendUint32(out, v)
	}
	for i := range props {
		out = props[i].appendBinary(out)
	}
	return append(out, strs...)
}

// Build encodes and parses the schema.
func (b *SchemaBuilder) Build() (*TraceEventInfo, error) {
	return ParseTraceEventInfo(b.Bytes())
}
