package etw

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// intSlot holds the integer value of an already decoded property, so later
// properties can use it as their length or count.
type intSlot struct {
	v  uint32
	ok bool
}

// propertyDecoder carries the state of one record decode: the read offset
// into UserData and the integer arena, indexed by property.
type propertyDecoder struct {
	tei         *TraceEventInfo
	data        []byte
	off         int
	pointerSize uint32
	slots       []intSlot
}

var propertyDecoderPool = sync.Pool{
	New: func() any {
		return &propertyDecoder{slots: make([]intSlot, 0, 64)}
	},
}

func newPropertyDecoder(tei *TraceEventInfo, data []byte, pointerSize uint32) *propertyDecoder {
	d := propertyDecoderPool.Get().(*propertyDecoder)
	d.tei = tei
	d.data = data
	d.off = 0
	d.pointerSize = pointerSize
	n := int(tei.PropertyCount)
	if cap(d.slots) < n {
		d.slots = make([]intSlot, n)
	} else {
		d.slots = d.slots[:n]
		clear(d.slots)
	}
	return d
}

func (d *propertyDecoder) release() {
	d.tei = nil
	d.data = nil
	propertyDecoderPool.Put(d)
}

// remaining returns the bytes not consumed yet.
func (d *propertyDecoder) remaining() []byte {
	return d.data[d.off:]
}

// dependency returns the integer value of property j, referenced by property i.
func (d *propertyDecoder) dependency(i, j int) (uint32, error) {
	if j >= i || j >= len(d.slots) {
		return 0, fmt.Errorf("%w: property %d references property %d", ErrInvalidDependency, i, j)
	}
	if !d.slots[j].ok {
		return 0, fmt.Errorf("%w: property %d has no decoded integer value", ErrInvalidDependency, j)
	}
	return d.slots[j].v, nil
}

// resolveLength returns the declared length of property i. Zero means the
// size is found in the data: a scanned string, a prefixed value or a struct.
func (d *propertyDecoder) resolveLength(i int) (uint32, error) {
	p := d.tei.Property(i)
	if p.HasParamLength() {
		return d.dependency(i, int(p.LengthPropertyIndex()))
	}
	if !p.IsStruct() && p.InType() == TDH_INTYPE_BINARY && p.OutType() == TDH_OUTTYPE_IPV6 {
		// Schemas report zero for these.
		return ipv6Size, nil
	}
	if l := p.Length(); l > 0 {
		return uint32(l), nil
	}
	if p.IsStruct() || p.Flags&PropertyParamFixedLength != 0 {
		return 0, nil
	}
	if in := p.InType(); isStringInType(in) || isSelfSizedInType(in) {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: intype %v outtype %v", ErrUnexpectedZeroLength, p.InType(), p.OutType())
}

// resolveCount returns the number of elements of property i and whether it
// is an array.
func (d *propertyDecoder) resolveCount(i int) (uint32, bool, error) {
	p := d.tei.Property(i)
	if p.HasParamCount() {
		n, err := d.dependency(i, int(p.CountPropertyIndex()))
		return n, true, err
	}
	n := uint32(p.Count())
	if n == 0 && p.Flags&PropertyParamFixedCount == 0 {
		n = 1
	}
	return n, p.Flags&PropertyParamFixedCount != 0 || n != 1, nil
}

// cacheInteger records the value of scalar integer properties in the arena.
func (d *propertyDecoder) cacheInteger(i int, b []byte) {
	var v uint32
	switch d.tei.Property(i).InType() {
	case TDH_INTYPE_INT8, TDH_INTYPE_UINT8:
		if len(b) < 1 {
			return
		}
		v = uint32(b[0])
	case TDH_INTYPE_INT16, TDH_INTYPE_UINT16:
		if len(b) < 2 {
			return
		}
		v = uint32(binary.LittleEndian.Uint16(b))
	case TDH_INTYPE_INT32, TDH_INTYPE_UINT32, TDH_INTYPE_HEXINT32:
		if len(b) < 4 {
			return
		}
		v = binary.LittleEndian.Uint32(b)
	default:
		return
	}
	d.slots[i] = intSlot{v: v, ok: true}
}

// sizeOf returns the number of bytes one element of p occupies at the
// current offset, given its resolved length.
func (d *propertyDecoder) sizeOf(p *EventPropertyInfo, length uint32) (int, error) {
	in := p.InType()
	exact := p.Flags&(PropertyParamLength|PropertyParamFixedLength) != 0
	if length > 0 || exact {
		// UNICODESTRING lengths count WCHARs.
		if in == TDH_INTYPE_UNICODESTRING {
			return int(length) * 2, nil
		}
		return int(length), nil
	}

	rest := d.remaining()
	switch in {
	case TDH_INTYPE_UNICODESTRING:
		// aligned NUL unit, included; no terminator takes the rest
		n := len(rest) &^ 1
		for k := 0; k+1 < len(rest); k += 2 {
			if rest[k] == 0 && rest[k+1] == 0 {
				return k + 2, nil
			}
		}
		return n, nil

	case TDH_INTYPE_ANSISTRING:
		for k, c := range rest {
			if c == 0 {
				return k + 1, nil
			}
		}
		return len(rest), nil

	case TDH_INTYPE_MANIFEST_COUNTEDBINARY,
		TDH_INTYPE_MANIFEST_COUNTEDSTRING,
		TDH_INTYPE_MANIFEST_COUNTEDANSISTRING,
		TDH_INTYPE_COUNTEDSTRING,
		TDH_INTYPE_COUNTEDANSISTRING:
		// little-endian byte count prefix
		if len(rest) < 2 {
			return 0, overrun(d.off, 2, len(d.data))
		}
		return int(binary.LittleEndian.Uint16(rest)) + 2, nil

	case TDH_INTYPE_REVERSEDCOUNTEDSTRING,
		TDH_INTYPE_REVERSEDCOUNTEDANSISTRING:
		if len(rest) < 2 {
			return 0, overrun(d.off, 2, len(d.data))
		}
		return int(binary.BigEndian.Uint16(rest)) + 2, nil

	case TDH_INTYPE_NONNULLTERMINATEDSTRING,
		TDH_INTYPE_NONNULLTERMINATEDANSISTRING:
		return len(rest), nil

	case TDH_INTYPE_SID:
		return sidSize(rest)

	case TDH_INTYPE_WBEMSID:
		// TOKEN_USER: two pointers, then the SID
		skip := 2 * int(d.pointerSize)
		if len(rest) < skip {
			return 0, overrun(d.off, skip, len(d.data))
		}
		n, err := sidSize(rest[skip:])
		if err != nil {
			return 0, err
		}
		return skip + n, nil

	case TDH_INTYPE_HEXDUMP:
		// uint32 byte count prefix
		if len(rest) < 4 {
			return 0, overrun(d.off, 4, len(d.data))
		}
		return int(binary.LittleEndian.Uint32(rest)) + 4, nil
	}
	return 0, nil
}

// take consumes n bytes.
func (d *propertyDecoder) take(n int) ([]byte, error) {
	if n < 0 || n > len(d.data)-d.off {
		return nil, overrun(d.off, n, len(d.data))
	}
	b := d.data[d.off : d.off+n : d.off+n]
	d.off += n
	return b, nil
}
