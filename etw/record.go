package etw

import "time"

// TimestampForm tells which representation a RawTimestamp carries.
type TimestampForm uint8

const (
	// TimestampQuad is a single 64-bit field.
	TimestampQuad TimestampForm = iota
	// TimestampSplit is two 32-bit halves, as delivered by some header styles.
	TimestampSplit
)

// RawTimestamp is the record timestamp in whichever form the source delivered it.
type RawTimestamp struct {
	Form TimestampForm
	Quad int64
	High uint32
	Low  uint32
}

// QuadTimestamp returns a timestamp delivered as one 64-bit field.
func QuadTimestamp(v int64) RawTimestamp {
	return RawTimestamp{Form: TimestampQuad, Quad: v}
}

// SplitTimestamp returns a timestamp delivered as separate halves.
func SplitTimestamp(high, low uint32) RawTimestamp {
	return RawTimestamp{Form: TimestampSplit, High: high, Low: low}
}

// Int64 composes the 64-bit value: (High<<32)|Low for split timestamps,
// Quad unchanged otherwise.
func (t RawTimestamp) Int64() int64 {
	if t.Form == TimestampSplit {
		return int64(uint64(t.High)<<32 | uint64(t.Low))
	}
	return t.Quad
}

// Time interprets the value as FILETIME ticks (system time clock).
func (t RawTimestamp) Time() time.Time {
	return FromFiletime(t.Int64())
}

// EventHeader mirrors EVENT_HEADER. KernelTime/UserTime and ProcessorTime
// share storage in the native layout; HasCPUTime tells which is valid.
type EventHeader struct {
	Size            uint16
	HeaderType      uint16
	Flags           uint16
	EventProperty   uint16
	ThreadId        uint32
	ProcessId       uint32
	TimeStamp       RawTimestamp
	ProviderId      GUID
	EventDescriptor EventDescriptor
	KernelTime      uint32
	UserTime        uint32
	ProcessorTime   uint64
	ActivityId      GUID
}

// HasCPUTime reports whether KernelTime and UserTime are valid. Private
// sessions and NO_CPUTIME headers carry ProcessorTime instead.
func (h *EventHeader) HasCPUTime() bool {
	return h.Flags&(EVENT_HEADER_FLAG_PRIVATE_SESSION|EVENT_HEADER_FLAG_NO_CPUTIME) == 0
}

// PointerSize is the pointer width of the process that logged the event.
func (h *EventHeader) PointerSize() uint32 {
	if h.Flags&EVENT_HEADER_FLAG_32_BIT_HEADER != 0 {
		return 4
	}
	return 8
}

// BufferContext mirrors ETW_BUFFER_CONTEXT.
type BufferContext struct {
	ProcessorNumber uint8
	Alignment       uint8
	LoggerId        uint16
}

// EventRecord is one raw record handed over by the delivery layer. UserData
// and the extended item payloads are owned by the record and never modified.
type EventRecord struct {
	EventHeader   EventHeader
	BufferContext BufferContext
	ExtendedData  []RawExtendedItem
	UserData      []byte
}

// ProcessorIndex returns the processor that logged the event. With
// PROCESSOR_INDEX set the index spans both context bytes.
func (r *EventRecord) ProcessorIndex() uint16 {
	if r.EventHeader.Flags&EVENT_HEADER_FLAG_PROCESSOR_INDEX != 0 {
		return uint16(r.BufferContext.ProcessorNumber) | uint16(r.BufferContext.Alignment)<<8
	}
	return uint16(r.BufferContext.ProcessorNumber)
}

// PointerSize returns the pointer width used by the record's payload.
func (r *EventRecord) PointerSize() uint32 {
	return r.EventHeader.PointerSize()
}
