package etw

import (
	"encoding/binary"
	"fmt"
)

// RawExtendedItem mirrors EVENT_HEADER_EXTENDED_DATA_ITEM. Data holds the
// DataSize bytes DataPtr pointed to, copied by the delivery layer.
type RawExtendedItem struct {
	ExtType  uint16
	Linkage  uint16
	DataSize uint16
	DataPtr  uint64
	Data     []byte
}

// ExtendedDataItem is one decoded extended data entry. The concrete types are
// *StackTrace, *StackKey, RelatedActivityID, UserSID, TerminalSessionID,
// InstanceInfo, EventKey, ProcessStartKey and Opaque.
type ExtendedDataItem interface {
	Type() uint16
}

// StackTrace is a STACK_TRACE32 or STACK_TRACE64 item.
type StackTrace struct {
	Is64 bool
	// MatchId pairs user and kernel stacks captured for the same event.
	MatchId   uint64
	Addresses []uint64
}

func (s *StackTrace) Type() uint16 {
	if s.Is64 {
		return EVENT_HEADER_EXT_TYPE_STACK_TRACE64
	}
	return EVENT_HEADER_EXT_TYPE_STACK_TRACE32
}

// StackKey is a STACK_KEY32 or STACK_KEY64 item, a reference to a stack
// cached by the session.
type StackKey struct {
	Is64     bool
	MatchId  uint64
	StackKey uint64
}

func (s *StackKey) Type() uint16 {
	if s.Is64 {
		return EVENT_HEADER_EXT_TYPE_STACK_KEY64
	}
	return EVENT_HEADER_EXT_TYPE_STACK_KEY32
}

type RelatedActivityID struct{ ID GUID }

func (RelatedActivityID) Type() uint16 { return EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID }

type UserSID struct{ SID SID }

func (UserSID) Type() uint16 { return EVENT_HEADER_EXT_TYPE_SID }

type TerminalSessionID struct{ SessionID uint32 }

func (TerminalSessionID) Type() uint16 { return EVENT_HEADER_EXT_TYPE_TS_ID }

type InstanceInfo struct {
	InstanceID       uint32
	ParentInstanceID uint32
	ParentGUID       GUID
}

func (InstanceInfo) Type() uint16 { return EVENT_HEADER_EXT_TYPE_INSTANCE_INFO }

type EventKey struct{ Key uint64 }

func (EventKey) Type() uint16 { return EVENT_HEADER_EXT_TYPE_EVENT_KEY }

type ProcessStartKey struct{ Key uint64 }

func (ProcessStartKey) Type() uint16 { return EVENT_HEADER_EXT_TYPE_PROCESS_START_KEY }

// Opaque keeps an unrecognized item as pointer and size only.
type Opaque struct {
	ExtType  uint16
	DataPtr  uint64
	DataSize uint16
}

func (o Opaque) Type() uint16 { return o.ExtType }

const stackTraceHeaderSize = 8 // MatchId

// DecodeExtendedData decodes the items in order. The first malformed item
// fails the whole list.
func DecodeExtendedData(items []RawExtendedItem) ([]ExtendedDataItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]ExtendedDataItem, 0, len(items))
	for i := range items {
		item, err := decodeExtendedItem(&items[i])
		if err != nil {
			return nil, &ExtendedDataError{Index: i, ExtType: items[i].ExtType, Err: err}
		}
		out = append(out, item)
	}
	return out, nil
}

func decodeExtendedItem(raw *RawExtendedItem) (ExtendedDataItem, error) {
	switch raw.ExtType {
	case EVENT_HEADER_EXT_TYPE_STACK_TRACE32:
		return decodeStackTrace(raw, 4)
	case EVENT_HEADER_EXT_TYPE_STACK_TRACE64:
		return decodeStackTrace(raw, 8)

	case EVENT_HEADER_EXT_TYPE_STACK_KEY32, EVENT_HEADER_EXT_TYPE_STACK_KEY64:
		is64 := raw.ExtType == EVENT_HEADER_EXT_TYPE_STACK_KEY64
		// 32-bit: MatchId, StackKey uint32, Padding uint32. 64-bit: MatchId, StackKey uint64.
		b, err := itemData(raw, 16)
		if err != nil {
			return nil, err
		}
		key := uint64(binary.LittleEndian.Uint32(b[8:]))
		if is64 {
			key = binary.LittleEndian.Uint64(b[8:])
		}
		return &StackKey{Is64: is64, MatchId: binary.LittleEndian.Uint64(b), StackKey: key}, nil

	case EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID:
		b, err := itemData(raw, guidSize)
		if err != nil {
			return nil, err
		}
		return RelatedActivityID{ID: guidFromBytes(b)}, nil

	case EVENT_HEADER_EXT_TYPE_SID:
		b, err := itemData(raw, sidHeaderSize)
		if err != nil {
			return nil, err
		}
		n, err := sidSize(b)
		if err != nil {
			return nil, err
		}
		sid := make(SID, n)
		copy(sid, b)
		return UserSID{SID: sid}, nil

	case EVENT_HEADER_EXT_TYPE_TS_ID:
		b, err := itemData(raw, 4)
		if err != nil {
			return nil, err
		}
		return TerminalSessionID{SessionID: binary.LittleEndian.Uint32(b)}, nil

	case EVENT_HEADER_EXT_TYPE_INSTANCE_INFO:
		b, err := itemData(raw, 8+guidSize)
		if err != nil {
			return nil, err
		}
		return InstanceInfo{
			InstanceID:       binary.LittleEndian.Uint32(b[0:]),
			ParentInstanceID: binary.LittleEndian.Uint32(b[4:]),
			ParentGUID:       guidFromBytes(b[8:]),
		}, nil

	case EVENT_HEADER_EXT_TYPE_EVENT_KEY:
		b, err := itemData(raw, 8)
		if err != nil {
			return nil, err
		}
		return EventKey{Key: binary.LittleEndian.Uint64(b)}, nil

	case EVENT_HEADER_EXT_TYPE_PROCESS_START_KEY:
		b, err := itemData(raw, 8)
		if err != nil {
			return nil, err
		}
		return ProcessStartKey{Key: binary.LittleEndian.Uint64(b)}, nil
	}

	return Opaque{ExtType: raw.ExtType, DataPtr: raw.DataPtr, DataSize: raw.DataSize}, nil
}

// itemData returns the item payload after checking that DataSize fits in
// Data and covers at least need bytes.
func itemData(raw *RawExtendedItem, need int) ([]byte, error) {
	size := int(raw.DataSize)
	if size > len(raw.Data) {
		return nil, overrun(0, size, len(raw.Data))
	}
	if size < need {
		return nil, fmt.Errorf("%w: item needs %d bytes, DataSize is %d", ErrBufferOverrun, need, size)
	}
	return raw.Data[:size], nil
}

func decodeStackTrace(raw *RawExtendedItem, width int) (*StackTrace, error) {
	b, err := itemData(raw, stackTraceHeaderSize)
	if err != nil {
		return nil, err
	}
	count := (len(b) - stackTraceHeaderSize) / width
	st := &StackTrace{
		Is64:      width == 8,
		MatchId:   binary.LittleEndian.Uint64(b),
		Addresses: make([]uint64, count),
	}
	off := stackTraceHeaderSize
	for i := range count {
		if width == 8 {
			st.Addresses[i] = binary.LittleEndian.Uint64(b[off:])
		} else {
			st.Addresses[i] = uint64(binary.LittleEndian.Uint32(b[off:]))
		}
		off += width
	}
	return st, nil
}
