package etw

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Property is one decoded scalar or string value. Data references the
// record's UserData; it is valid as long as the record buffer is.
type Property struct {
	traceInfo   *TraceEventInfo
	evtPropInfo *EventPropertyInfo

	name  string
	index int
	// formatted value, filled on first FormatToString
	value string

	// Resolved schema length. Zero for values sized by scanning or by a
	// prefix; data always holds the exact bytes consumed.
	length uint32
	data   []byte

	pointerSize uint32
	charString  bool
}

func (p *Property) Name() string             { return p.name }
func (p *Property) Index() int               { return p.index }
func (p *Property) InType() TdhInType        { return p.evtPropInfo.InType() }
func (p *Property) OutType() TdhOutType      { return p.evtPropInfo.OutType() }
func (p *Property) Length() uint32           { return p.length }
func (p *Property) SizeBytes() int           { return len(p.data) }
func (p *Property) Bytes() []byte            { return p.data }
func (p *Property) PointerSize() uint32      { return p.pointerSize }
func (p *Property) Info() *EventPropertyInfo { return p.evtPropInfo }

// MapName returns the value map name declared for the property, if any.
func (p *Property) MapName() string {
	if p.traceInfo == nil {
		return ""
	}
	return p.traceInfo.MapName(p.index)
}

// IsString reports whether the value decodes to text.
func (p *Property) IsString() bool {
	return p.charString || isStringInType(p.InType())
}

// GetInt returns the property value as int64.
// Only if the data is a scalar InType
func (p *Property) GetInt() (int64, error) {
	v, signed, err := p.decodeScalarIntype()
	if err != nil {
		return 0, err
	}
	if signed {
		return int64(v), nil
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("unsigned value %d overflows int64", v)
	}
	return int64(v), nil
}

// GetUInt returns the property value as uint64.
// Only if the data is a scalar InType
func (p *Property) GetUInt() (uint64, error) {
	v, signed, err := p.decodeScalarIntype()
	if err != nil {
		return 0, err
	}
	if !signed {
		return v, nil
	}
	if int64(v) < 0 {
		return 0, fmt.Errorf("negative value %d cannot be converted to uint64", int64(v))
	}
	return v, nil
}

// GetFloat returns the property value as float64
// Only if the data is a float InType
func (p *Property) GetFloat() (float64, error) {
	switch p.InType() {
	case TDH_INTYPE_FLOAT:
		if err := p.need(4); err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p.data))), nil
	case TDH_INTYPE_DOUBLE:
		if err := p.need(8); err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(p.data)), nil
	}
	return 0, fmt.Errorf("%w: cannot convert %v to float64", ErrUnsupportedType, p.InType())
}

// GetGUID returns the property value as a GUID.
func (p *Property) GetGUID() (GUID, error) {
	if p.InType() != TDH_INTYPE_GUID {
		return GUID{}, fmt.Errorf("%w: %v is not a GUID", ErrUnsupportedType, p.InType())
	}
	if err := p.need(guidSize); err != nil {
		return GUID{}, err
	}
	return guidFromBytes(p.data), nil
}

// GetString returns the text of string properties.
func (p *Property) GetString() (string, error) {
	if !p.IsString() {
		return "", fmt.Errorf("%w: %v is not a string", ErrUnsupportedType, p.InType())
	}
	b, err := p.decodeStringIntype(nil)
	return string(b), err
}

// FormatToString renders the value the way TdhFormatProperty would,
// without value map substitution.
func (p *Property) FormatToString() (string, error) {
	if p.value != "" {
		return p.value, nil
	}
	b, err := p.decodeToString(nil)
	if err != nil {
		return "", err
	}
	p.value = string(b)
	return p.value, nil
}

// AppendText implements encoding.TextAppender.
func (p *Property) AppendText(dst []byte) ([]byte, error) {
	return p.decodeToString(dst)
}

// MarshalJSON renders the formatted value as a JSON scalar.
func (p *Property) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return p.decodeToJSON(make([]byte, 0, 32))
}

// need checks that the value holds at least n bytes.
func (p *Property) need(n int) error {
	if len(p.data) < n {
		return fmt.Errorf("%w: %v value needs %d bytes, has %d", ErrBufferOverrun, p.InType(), n, len(p.data))
	}
	return nil
}

func (p *Property) u8() (uint8, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	return p.data[0], nil
}

func (p *Property) u16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p.data), nil
}

func (p *Property) u32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p.data), nil
}

func (p *Property) u64() (uint64, error) {
	if err := p.need(8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p.data), nil
}

// ptr reads a pointer sized value.
func (p *Property) ptr() (uint64, error) {
	if p.pointerSize == 8 {
		return p.u64()
	}
	v, err := p.u32()
	return uint64(v), err
}

func (p *Property) decodeScalarIntype() (uint64, bool, error) {
	switch p.InType() {
	case TDH_INTYPE_INT8:
		v, err := p.u8()
		return uint64(int8(v)), true, err
	case TDH_INTYPE_INT16:
		v, err := p.u16()
		return uint64(int16(v)), true, err
	case TDH_INTYPE_INT32:
		v, err := p.u32()
		return uint64(int32(v)), true, err
	case TDH_INTYPE_INT64:
		v, err := p.u64()
		return v, true, err

	case TDH_INTYPE_UINT8:
		v, err := p.u8()
		return uint64(v), false, err
	case TDH_INTYPE_UINT16:
		v, err := p.u16()
		return uint64(v), false, err
	case TDH_INTYPE_UINT32, TDH_INTYPE_HEXINT32:
		v, err := p.u32()
		return uint64(v), false, err
	case TDH_INTYPE_UINT64, TDH_INTYPE_HEXINT64:
		v, err := p.u64()
		return v, false, err

	case TDH_INTYPE_BOOLEAN:
		v, err := p.u32()
		if v != 0 {
			return 1, true, err
		}
		return 0, true, err

	case TDH_INTYPE_POINTER:
		if p.pointerSize == 8 && p.isNtKernelTcpUdpConnid() {
			v, err := p.u32()
			return uint64(v), false, err
		}
		v, err := p.ptr()
		return v, false, err

	case TDH_INTYPE_SIZET:
		v, err := p.ptr()
		return v, false, err

	case TDH_INTYPE_FILETIME:
		v, err := p.u64()
		return uint64(FromFiletime(int64(v)).UnixNano()), true, err
	}

	return 0, false, fmt.Errorf("%w: %v cannot be converted to integer", ErrUnsupportedType, p.InType())
}

// isNtKernelTcpUdpConnid reports classic TcpIp/UdpIp events, whose connid
// pointer slot only carries a 32-bit value.
func (p *Property) isNtKernelTcpUdpConnid() bool {
	if p.traceInfo == nil || !p.traceInfo.IsMof() {
		return false
	}
	if p.traceInfo.ProviderGUID.Data1 != systemTraceControlGuid.Data1 {
		return false
	}
	gd1 := p.traceInfo.EventGUID.Data1
	// TcpIp 9a280ac0-c8e0-11d1-84e2-00c04fb998a2, UdpIp bf3a50c5-a9c9-4988-a005-2df0b7c80f80
	return gd1 == 0x9a280ac0 || gd1 == 0xbf3a50c5
}
