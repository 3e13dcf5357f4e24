package etw

import (
	"testing"
	"time"

	"github.com/tekert/etwdecode/internal/test"
)

func TestRawTimestamp(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	tt.Assert(SplitTimestamp(1, 0xFFFFFFFF).Int64() == 0x1FFFFFFFF)
	tt.Assert(QuadTimestamp(0x1FFFFFFFF).Int64() == 0x1FFFFFFFF)
	tt.Assert(SplitTimestamp(0, 0).Int64() == 0)

	// both forms of the same value give the same time
	v := int64(133500000000000000)
	split := SplitTimestamp(uint32(uint64(v)>>32), uint32(v))
	tt.Assert(split.Time().Equal(QuadTimestamp(v).Time()))

	tt.Assert(QuadTimestamp(FiletimeEpoch).Time().Equal(time.Unix(0, 0)))
	tt.Assert(FromFiletimeUTC(FiletimeEpoch+10_000_000).Equal(time.Unix(1, 0)))
}

func TestHeaderFlags(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	var rec EventRecord
	rec.BufferContext = BufferContext{ProcessorNumber: 0x02, Alignment: 0x01}
	tt.Assert(rec.ProcessorIndex() == 2)
	tt.Assert(rec.PointerSize() == 8)
	tt.Assert(rec.EventHeader.HasCPUTime())

	rec.EventHeader.Flags = EVENT_HEADER_FLAG_PROCESSOR_INDEX | EVENT_HEADER_FLAG_32_BIT_HEADER
	tt.Assert(rec.ProcessorIndex() == 0x0102)
	tt.Assert(rec.PointerSize() == 4)

	rec.EventHeader.Flags = EVENT_HEADER_FLAG_PRIVATE_SESSION
	tt.Assert(!rec.EventHeader.HasCPUTime())
	rec.EventHeader.Flags = EVENT_HEADER_FLAG_NO_CPUTIME
	tt.Assert(!rec.EventHeader.HasCPUTime())
}
