package etw

import (
	"strings"
	"sync"
	"testing"

	"github.com/tekert/etwdecode/internal/test"
)

func TestParseTraceEventInfo(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	b := SchemaBuilder{
		ProviderGUID:   testProvider,
		Descriptor:     EventDescriptor{Id: 12, Version: 2, Channel: 16, Level: 4, Opcode: 1, Task: 7, Keyword: 0x8000000000000010},
		DecodingSource: DecodingSourceXMLFile,
		ProviderName:   "Test-Provider",
		LevelName:      "Information",
		ChannelName:    "Operational",
		TaskName:       "Connect",
		OpcodeName:     "Start",
		EventName:      "ConnectStart",
		Keywords:       []string{"Network", "Session"},
		Flags:          TemplateUserData,
		Properties: []PropertyDef{
			{Name: "Pid", InType: TDH_INTYPE_UINT32, OutType: TDH_OUTTYPE_PID, Length: 4, MapName: "PidMap"},
		},
	}
	tei, err := b.Build()
	tt.CheckErr(err)
	tt.CheckErr(tei.Validate())

	tt.Assert(tei.ProviderGUID == testProvider)
	tt.Assert(tei.EventDescriptor == b.Descriptor)
	tt.Assert(tei.EventID() == 12)
	tt.Assert(!tei.IsMof())
	tt.Assert(tei.ProviderName() == "Test-Provider")
	tt.Assert(tei.LevelName() == "Information")
	tt.Assert(tei.ChannelName() == "Operational")
	tt.Assert(tei.TaskName() == "Connect")
	tt.Assert(tei.OpcodeName() == "Start")
	tt.Assert(tei.EventName() == "ConnectStart")
	tt.Assert(strings.Join(tei.KeywordsNames(), ",") == "Network,Session")
	tt.Assert(tei.Flags&TemplateUserData != 0)
	tt.Assert(tei.PropertyCount == 1 && tei.TopLevelPropertyCount == 1)
	tt.Assert(tei.PropertyName(0) == "Pid")
	tt.Assert(tei.MapName(0) == "PidMap")
	tt.Assert(tei.Property(0).OutType() == TDH_OUTTYPE_PID)
	tt.Assert(tei.Property(1) == nil)
	tt.Assert(tei.PropertyName(-1) == "")
}

func TestParseTraceEventInfoErrors(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	_, err := ParseTraceEventInfo(make([]byte, 50))
	tt.ExpectErr(err, ErrInvalidSchema)
	tt.ExpectErr(err, ErrBufferOverrun)

	blob := (&SchemaBuilder{Properties: []PropertyDef{
		{Name: "A", InType: TDH_INTYPE_UINT8, Length: 1},
	}}).Bytes()

	// property array cut short
	_, err = ParseTraceEventInfo(blob[:traceEventInfoHeaderSize+10])
	tt.ExpectErr(err, ErrInvalidSchema)

	// name offset outside the blob
	bad := append([]byte(nil), blob...)
	copy(bad[traceEventInfoHeaderSize+4:], le32(uint32(len(bad)+100)))
	_, err = ParseTraceEventInfo(bad)
	tt.ExpectErr(err, ErrInvalidSchema)

	// more top level properties than properties
	bad = append([]byte(nil), blob...)
	copy(bad[104:], le32(5))
	_, err = ParseTraceEventInfo(bad)
	tt.ExpectErr(err, ErrInvalidSchema)
}

func TestValidateStructSpans(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	build := func(props ...PropertyDef) *TraceEventInfo {
		tei, err := (&SchemaBuilder{TopLevel: 2, Properties: props}).Build()
		tt.CheckErr(err)
		return tei
	}
	u8 := func(name string) PropertyDef {
		return PropertyDef{Name: name, InType: TDH_INTYPE_UINT8, Length: 1}
	}

	// span past the end
	tei := build(PropertyDef{Name: "S", Flags: PropertyStruct, StructStart: 1, StructMembers: 4}, u8("a"))
	tt.ExpectErr(tei.Validate(), ErrInvalidSchema)

	// two structs sharing a member
	tei = build(
		PropertyDef{Name: "S1", Flags: PropertyStruct, StructStart: 2, StructMembers: 1},
		PropertyDef{Name: "S2", Flags: PropertyStruct, StructStart: 2, StructMembers: 1},
		u8("a"),
	)
	tt.ExpectErr(tei.Validate(), ErrInvalidSchema)

	// the result is memoized
	tt.Assert(tei.Validate() == tei.Validate())
}

func TestSchemaKey(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	desc := EventDescriptor{Id: 0x0102, Version: 3, Channel: 4, Level: 5, Opcode: 6, Task: 0x0708, Keyword: 0xFF}
	k := NewSchemaKey(testProvider, &desc)
	tt.Assert(k.low == 0x0708_06_05_04_03_0102)
	tt.Assert(k.high == 0xFF)
	tt.Assert(k.String() == "{22FB2CD6-0E7B-422B-A0C7-2FAD1FD0E716}/0708060504030102/00000000000000FF")

	rec := newRecord(nil)
	rec.EventHeader.EventDescriptor = desc
	tt.Assert(SchemaKeyOf(rec) == k)

	other := desc
	other.Version++
	tt.Assert(NewSchemaKey(testProvider, &other) != k)
	tt.Assert(NewSchemaKey(*MustParseGUID("{9E814AAD-3204-11D2-9A82-006008A86939}"), &desc) != k)

	// pointer scoped keys are distinct entries
	k4, k8 := k.WithPointerSize(4), k.WithPointerSize(8)
	tt.Assert(k4 != k8 && k4 != k)
	tt.Assert(k4.PointerSize() == 4 && k.PointerSize() == 0)
	tt.Assert(k4.hash() != k8.hash())
	tt.Assert(k8.String() == k.String()+"/p8")
}

func TestSchemaCacheConcurrent(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	c := NewSchemaCache()
	const workers, events = 16, 64

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range events {
				desc := EventDescriptor{Id: uint16(id)}
				k := NewSchemaKey(testProvider, &desc)
				if _, ok := c.Get(k); ok {
					continue
				}
				tei, err := (&SchemaBuilder{
					Descriptor: desc,
					Properties: []PropertyDef{{Name: "V", InType: TDH_INTYPE_UINT32, Length: 4}},
				}).Build()
				if err != nil {
					t.Error(err)
					return
				}
				got, err := c.Put(k, tei)
				if err != nil {
					t.Error(err)
					return
				}
				// every worker sees the same schema for a key
				if cached, _ := c.Get(k); cached != got {
					t.Errorf("worker %d: key %v returned two schemas", w, k)
				}
			}
		}()
	}
	wg.Wait()

	tt.Assert(c.Len() == events)
	hits, misses := c.Stats()
	tt.Assert(hits+misses >= workers*events)

	// invalid schemas are not stored
	bad, err := (&SchemaBuilder{TopLevel: 1, Properties: []PropertyDef{
		{Name: "S", Flags: PropertyStruct, StructStart: 0, StructMembers: 1},
	}}).Build()
	tt.CheckErr(err)
	desc := EventDescriptor{Id: 999}
	_, err = c.Put(NewSchemaKey(testProvider, &desc), bad)
	tt.ExpectErr(err, ErrInvalidSchema)
	tt.Assert(c.Len() == events)

	c.Purge()
	tt.Assert(c.Len() == 0)
}
