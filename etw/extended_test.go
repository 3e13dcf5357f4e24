package etw

import (
	"errors"
	"testing"

	"github.com/tekert/etwdecode/internal/test"
)

func rawItem(extType uint16, data []byte) RawExtendedItem {
	return RawExtendedItem{ExtType: extType, DataSize: uint16(len(data)), DataPtr: 0x1000, Data: data}
}

func TestDecodeExtendedStacks(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	items, err := DecodeExtendedData([]RawExtendedItem{
		rawItem(EVENT_HEADER_EXT_TYPE_STACK_TRACE32, concat(le64(7), le32(0x401000), le32(0x402000))),
		rawItem(EVENT_HEADER_EXT_TYPE_STACK_TRACE64, concat(le64(7), le64(0xFFFFF80000001000))),
	})
	tt.CheckErr(err)
	tt.Assert(len(items) == 2)

	s32 := items[0].(*StackTrace)
	tt.Assert(!s32.Is64 && s32.MatchId == 7)
	tt.Assert(len(s32.Addresses) == 2 && s32.Addresses[1] == 0x402000)
	tt.Assert(s32.Type() == EVENT_HEADER_EXT_TYPE_STACK_TRACE32)

	s64 := items[1].(*StackTrace)
	tt.Assert(s64.Is64 && len(s64.Addresses) == 1)
	tt.Assert(s64.Addresses[0] == 0xFFFFF80000001000)

	// a partial trailing address is ignored
	items, err = DecodeExtendedData([]RawExtendedItem{
		rawItem(EVENT_HEADER_EXT_TYPE_STACK_TRACE64, concat(le64(1), le64(2), []byte{1, 2, 3})),
	})
	tt.CheckErr(err)
	tt.Assert(len(items[0].(*StackTrace).Addresses) == 1)
}

func TestDecodeExtendedScalars(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	parent := MustParseGUID("{22FB2CD6-0E7B-422B-A0C7-2FAD1FD0E716}")
	related := MustParseGUID("{9E814AAD-3204-11D2-9A82-006008A86939}")
	sid := []byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}

	items, err := DecodeExtendedData([]RawExtendedItem{
		rawItem(EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID, related.AppendBinary(nil)),
		rawItem(EVENT_HEADER_EXT_TYPE_SID, sid),
		rawItem(EVENT_HEADER_EXT_TYPE_TS_ID, le32(3)),
		rawItem(EVENT_HEADER_EXT_TYPE_INSTANCE_INFO, concat(le32(10), le32(9), parent.AppendBinary(nil))),
		rawItem(EVENT_HEADER_EXT_TYPE_EVENT_KEY, le64(0xABCDEF)),
		rawItem(EVENT_HEADER_EXT_TYPE_PROCESS_START_KEY, le64(12345)),
		rawItem(EVENT_HEADER_EXT_TYPE_STACK_KEY64, concat(le64(1), le64(0x77))),
		rawItem(EVENT_HEADER_EXT_TYPE_STACK_KEY32, concat(le64(1), le32(0x66), le32(0))),
	})
	tt.CheckErr(err)
	tt.Assert(len(items) == 8)

	tt.Assert(items[0].(RelatedActivityID).ID == *related)
	tt.Assert(items[1].(UserSID).SID.String() == "S-1-5-18")
	tt.Assert(items[2].(TerminalSessionID).SessionID == 3)
	info := items[3].(InstanceInfo)
	tt.Assert(info.InstanceID == 10 && info.ParentInstanceID == 9 && info.ParentGUID == *parent)
	tt.Assert(items[4].(EventKey).Key == 0xABCDEF)
	tt.Assert(items[5].(ProcessStartKey).Key == 12345)
	tt.Assert(items[6].(*StackKey).StackKey == 0x77 && items[6].(*StackKey).Is64)
	tt.Assert(items[7].(*StackKey).StackKey == 0x66 && !items[7].(*StackKey).Is64)
}

func TestDecodeExtendedOpaque(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	items, err := DecodeExtendedData([]RawExtendedItem{
		rawItem(EVENT_HEADER_EXT_TYPE_PMC_COUNTERS, make([]byte, 24)),
	})
	tt.CheckErr(err)
	op, ok := items[0].(Opaque)
	tt.Assert(ok)
	tt.Assert(op.Type() == EVENT_HEADER_EXT_TYPE_PMC_COUNTERS)
	tt.Assert(op.DataPtr == 0x1000 && op.DataSize == 24)
}

func TestDecodeExtendedOverrun(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	// DataSize larger than the copied payload
	bad := rawItem(EVENT_HEADER_EXT_TYPE_TS_ID, le32(1))
	bad.DataSize = 16
	_, err := DecodeExtendedData([]RawExtendedItem{rawItem(EVENT_HEADER_EXT_TYPE_TS_ID, le32(1)), bad})
	tt.ExpectErr(err, ErrBufferOverrun)

	var ee *ExtendedDataError
	tt.Assert(errors.As(err, &ee))
	tt.Assert(ee.Index == 1 && ee.ExtType == EVENT_HEADER_EXT_TYPE_TS_ID)

	// payload too small for the item type
	_, err = DecodeExtendedData([]RawExtendedItem{rawItem(EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID, make([]byte, 8))})
	tt.ExpectErr(err, ErrBufferOverrun)

	// SID claiming more sub authorities than it carries
	_, err = DecodeExtendedData([]RawExtendedItem{rawItem(EVENT_HEADER_EXT_TYPE_SID, []byte{1, 4, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0})})
	tt.ExpectErr(err, ErrBufferOverrun)

	items, err := DecodeExtendedData(nil)
	tt.CheckErr(err)
	tt.Assert(items == nil)
}
