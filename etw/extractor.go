package etw

import (
	"fmt"
)

// stringOnlyInfo describes the single property of STRING_ONLY records.
var stringOnlyInfo = EventPropertyInfo{typeA: uint16(TDH_INTYPE_UNICODESTRING)}

// DecodeProperties decodes the record's UserData against tei, walking the
// top-level properties in index order. Any error aborts the whole record
// and is returned as *PropertyError; no partial result is returned.
func DecodeProperties(tei *TraceEventInfo, rec *EventRecord) (*EventData, error) {
	return decodeProperties(tei, rec, rec.PointerSize())
}

func decodeProperties(tei *TraceEventInfo, rec *EventRecord, pointerSize uint32) (*EventData, error) {
	if rec.EventHeader.Flags&EVENT_HEADER_FLAG_STRING_ONLY != 0 {
		return decodeStringOnly(rec, pointerSize), nil
	}
	if tei == nil {
		return nil, ErrSchemaUnavailable
	}
	if err := tei.Validate(); err != nil {
		return nil, err
	}

	d := newPropertyDecoder(tei, rec.UserData, pointerSize)
	defer d.release()

	top := int(tei.TopLevelPropertyCount)
	data := &EventData{Fields: make([]Field, 0, top)}
	for i := range top {
		if tei.isMember(i) {
			continue
		}
		v, err := d.decodeProperty(i)
		if err != nil {
			return nil, err
		}
		data.Fields = append(data.Fields, Field{Name: tei.PropertyName(i), Index: i, Value: v})
	}

	if rest := d.remaining(); len(rest) > 0 {
		data.Remaining = rest
		conlog.SampledWarn("trailing").
			Str("provider", tei.ProviderName()).
			Uint16("id", tei.EventDescriptor.Id).
			Int("remaining", len(rest)).
			Int("size", len(rec.UserData)).
			Msg("event data not fully consumed")
	}
	return data, nil
}

func decodeStringOnly(rec *EventRecord, pointerSize uint32) *EventData {
	prop := &Property{
		evtPropInfo: &stringOnlyInfo,
		name:        "String",
		data:        rec.UserData[:len(rec.UserData):len(rec.UserData)],
		pointerSize: pointerSize,
	}
	return &EventData{Fields: []Field{{Name: "String", Value: Value{Kind: KindString, Prop: prop}}}}
}

// propertyError wraps err with the context of property i.
func (d *propertyDecoder) propertyError(i int, err error) error {
	p := d.tei.Property(i)
	pe := &PropertyError{Index: i, Name: d.tei.PropertyName(i), Offset: d.off, Err: err}
	if !p.IsStruct() {
		pe.InType = p.InType()
		pe.OutType = p.OutType()
	}
	return pe
}

// decodeProperty decodes property i, which may be a struct or an array.
func (d *propertyDecoder) decodeProperty(i int) (Value, error) {
	p := d.tei.Property(i)

	count, isArray, err := d.resolveCount(i)
	if err != nil {
		return Value{}, d.propertyError(i, err)
	}
	// Elements that consume bytes run into take; only empty elements can
	// outnumber the bytes left, and an event never carries more than
	// maxEventSize of them.
	if isArray && count > maxEventSize && uint64(count) > uint64(len(d.remaining())) {
		return Value{}, d.propertyError(i, fmt.Errorf("%w: %d elements with %d bytes left",
			ErrBufferOverrun, count, len(d.remaining())))
	}

	if p.IsStruct() {
		if !isArray {
			members, err := d.decodeStruct(p)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindStruct, Members: members}, nil
		}
		elems := make([]Value, 0, d.elemCap(count))
		for range count {
			members, err := d.decodeStruct(p)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, Value{Kind: KindStruct, Members: members})
		}
		return Value{Kind: KindArray, Elements: elems}, nil
	}

	length, err := d.resolveLength(i)
	if err != nil {
		return Value{}, d.propertyError(i, err)
	}

	// Arrays of characters are one string.
	if isArray && (p.InType() == TDH_INTYPE_UNICODECHAR || p.InType() == TDH_INTYPE_ANSICHAR) {
		b, err := d.take(int(count) * int(length))
		if err != nil {
			return Value{}, d.propertyError(i, err)
		}
		prop := d.newProperty(i, p, length, b)
		prop.charString = true
		return Value{Kind: KindString, Prop: prop}, nil
	}

	if !isArray {
		prop, err := d.decodeScalar(i, p, length)
		if err != nil {
			return Value{}, err
		}
		d.cacheInteger(i, prop.data)
		return scalarValue(prop), nil
	}

	elems := make([]Value, 0, d.elemCap(count))
	for range count {
		prop, err := d.decodeScalar(i, p, length)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, scalarValue(prop))
	}
	return Value{Kind: KindArray, Elements: elems}, nil
}

// maxEventSize is the largest payload an event can carry.
const maxEventSize = 64 * 1024

// elemCap bounds the preallocation of a count element array by the bytes
// left, so a hostile count fails in take before it allocates.
func (d *propertyDecoder) elemCap(count uint32) int {
	return int(min(count, uint32(len(d.remaining())+1)))
}

// decodeStruct decodes one element of a struct: its member span, in order.
func (d *propertyDecoder) decodeStruct(p *EventPropertyInfo) ([]Field, error) {
	start := int(p.StructStartIndex())
	n := int(p.NumOfStructMembers())
	members := make([]Field, 0, n)
	for j := start; j < start+n; j++ {
		v, err := d.decodeProperty(j)
		if err != nil {
			return nil, err
		}
		members = append(members, Field{Name: d.tei.PropertyName(j), Index: j, Value: v})
	}
	return members, nil
}

// decodeScalar slices one element of property i at the current offset.
func (d *propertyDecoder) decodeScalar(i int, p *EventPropertyInfo, length uint32) (*Property, error) {
	size, err := d.sizeOf(p, length)
	if err != nil {
		return nil, d.propertyError(i, err)
	}
	b, err := d.take(size)
	if err != nil {
		return nil, d.propertyError(i, err)
	}
	return d.newProperty(i, p, length, b), nil
}

func (d *propertyDecoder) newProperty(i int, p *EventPropertyInfo, length uint32, b []byte) *Property {
	return &Property{
		traceInfo:   d.tei,
		evtPropInfo: p,
		name:        d.tei.PropertyName(i),
		index:       i,
		length:      length,
		data:        b,
		pointerSize: d.pointerSize,
	}
}

func scalarValue(p *Property) Value {
	if p.IsString() {
		return Value{Kind: KindString, Prop: p}
	}
	return Value{Kind: KindScalar, Prop: p}
}
