package etw

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrSchemaUnavailable is returned when no schema could be obtained for a record.
	ErrSchemaUnavailable = errors.New("schema unavailable")
	// ErrInvalidDependency is returned for a length or count reference that
	// points forward, out of range, or at a property without an integer value.
	ErrInvalidDependency = errors.New("invalid property dependency")
	// ErrUnexpectedZeroLength is returned when a fixed-size type reports length 0.
	ErrUnexpectedZeroLength = errors.New("unexpected zero length")
	// ErrUnsupportedNestedStruct is returned when a struct member is itself a struct.
	ErrUnsupportedNestedStruct = errors.New("nested structs are not supported")
	// ErrBufferOverrun is returned when an offset+length exceeds the buffer.
	ErrBufferOverrun = errors.New("buffer overrun")
	// ErrInvalidSchema is returned for schema blobs that are structurally broken.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrUnknownProperty is returned by name lookups on decoded events.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrUnsupportedType is returned by typed getters used on the wrong in-type.
	ErrUnsupportedType = errors.New("unsupported type")
)

// PropertyError describes why the property at Index could not be decoded.
// It aborts the decode of the whole record.
type PropertyError struct {
	Index   int
	Name    string
	InType  TdhInType
	OutType TdhOutType
	Offset  int
	Err     error
}

func (e *PropertyError) Error() string {
	b := make([]byte, 0, 96)
	b = append(b, "property "...)
	b = strconv.AppendInt(b, int64(e.Index), 10)
	if e.Name != "" {
		b = append(b, " ("...)
		b = append(b, e.Name...)
		b = append(b, ')')
	}
	b = append(b, " intype="...)
	b = append(b, e.InType.String()...)
	b = append(b, " outtype="...)
	b = append(b, e.OutType.String()...)
	b = append(b, " offset="...)
	b = strconv.AppendInt(b, int64(e.Offset), 10)
	b = append(b, ": "...)
	b = append(b, e.Err.Error()...)
	return string(b)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// ExtendedDataError identifies the extended data item that failed to decode.
type ExtendedDataError struct {
	Index   int
	ExtType uint16
	Err     error
}

func (e *ExtendedDataError) Error() string {
	return fmt.Sprintf("extended data item %d (type 0x%04X): %v", e.Index, e.ExtType, e.Err)
}

func (e *ExtendedDataError) Unwrap() error { return e.Err }

func overrun(off, n, size int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferOverrun, n, off, size)
}
