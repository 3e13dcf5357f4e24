package etw

import (
	"testing"

	"github.com/tekert/etwdecode/internal/test"
	"github.com/tekert/etwdecode/internal/utf16f"
)

var (
	tcpIpClassGuid   = *MustParseGUID("{9a280ac0-c8e0-11d1-84e2-00c04fb998a2}")
	processClassGuid = *MustParseGUID("{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}")
)

func classicRecord(class GUID, opcode, version uint8, data []byte) *EventRecord {
	rec := &EventRecord{UserData: data}
	rec.EventHeader.Flags = EVENT_HEADER_FLAG_CLASSIC_HEADER
	rec.EventHeader.ProviderId = class
	rec.EventHeader.EventDescriptor = EventDescriptor{Opcode: opcode, Version: version}
	return rec
}

func TestMofTcpIpV6(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	daddr := []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	saddr := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	data := concat(le32(4242), le32(1500), daddr, saddr,
		[]byte{0x00, 0x50}, []byte{0xC3, 0x50}, le32(7),
		le64(0xDEADBEEF00000042)) // only the low half of connid is meaningful
	rec := classicRecord(tcpIpClassGuid, 27, 2, data)

	d := NewDecoder()
	ev, err := d.Decode(rec)
	tt.CheckErr(err)
	tt.Assert(d.Stats().MofFallbacks == 1)
	tt.Assert(len(ev.EventData.Remaining) == 0)

	for name, want := range map[string]string{
		"PID":    "4242",
		"size":   "1500",
		"daddr":  "fe80::2",
		"saddr":  "::1",
		"dport":  "80",
		"sport":  "50000",
		"seqnum": "7",
		"connid": "66",
	} {
		got, err := ev.EventData.GetString(name)
		tt.CheckErr(err)
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	connid, err := ev.EventData.GetUInt("connid")
	tt.CheckErr(err)
	tt.Assert(connid == 0x42)

	sys := &ev.System
	tt.Assert(sys.EventID == 4845+27)
	tt.Assert(sys.EventType == "TcpIp_TypeGroup2/TcpIp_TypeGroup2")
	tt.Assert(sys.Provider.Name == "MSNT_SystemTrace")
	tt.Assert(sys.Provider.Guid == *systemTraceControlGuid)
	tt.Assert(sys.EventGuid == tcpIpClassGuid)
	tt.Assert(sys.Task.Name == "TcpIp")

	// the second record of the class hits the cache
	_, err = d.Decode(classicRecord(tcpIpClassGuid, 27, 2, data))
	tt.CheckErr(err)
	tt.Assert(d.Stats().MofFallbacks == 1)
	tt.Assert(d.Stats().SchemaHits == 1)
}

func TestMofTcpIpV4(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	data := concat(le32(4), le32(60), []byte{10, 0, 0, 1}, []byte{192, 168, 0, 5},
		[]byte{0x01, 0xBB}, []byte{0xD4, 0x31}, le32(0), le64(5))
	ed, err := DecodeProperties(mofSchema(tt, classicRecord(tcpIpClassGuid, 11, 2, nil)),
		classicRecord(tcpIpClassGuid, 11, 2, data))
	tt.CheckErr(err)

	js, err := ed.MarshalJSON()
	tt.CheckErr(err)
	tt.Assert(string(js) ==
		`{"PID":4,"size":60,"daddr":"10.0.0.1","saddr":"192.168.0.5","dport":443,"sport":54321,"seqnum":0,"connid":5}`)
}

func TestMofProcess32(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	tokenUser := make([]byte, 8) // two 32-bit pointers
	sid := []byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}
	data := concat(le32(0x8000), le32(1234), le32(4), le32(1), le32(0), le32(0x1AB000),
		tokenUser, sid, []byte("cmd.exe\x00"), utf16f.EncodeLE("cmd /c dir"))

	rec := classicRecord(processClassGuid, 1, 3, data)
	rec.EventHeader.Flags |= EVENT_HEADER_FLAG_32_BIT_HEADER

	ev, err := NewDecoder().Decode(rec)
	tt.CheckErr(err)
	tt.Assert(len(ev.EventData.Remaining) == 0)

	for name, want := range map[string]string{
		"UniqueProcessKey":   "0x8000",
		"ProcessId":          "1234",
		"DirectoryTableBase": "0x1AB000",
		"UserSID":            "S-1-5-18",
		"ImageFileName":      "cmd.exe",
		"CommandLine":        "cmd /c dir",
	} {
		got, err := ev.EventData.GetString(name)
		tt.CheckErr(err)
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	tt.Assert(ev.System.EventID == 4080+1)
	tt.Assert(ev.System.EventType == "Process_V3_TypeGroup1/Process_V3_TypeGroup1")
}

// processV3 builds a Process v3 start payload with 4 or 8 byte pointers.
func processV3(pointerSize int) []byte {
	ptr := func(v uint64) []byte {
		if pointerSize == 4 {
			return le32(uint32(v))
		}
		return le64(v)
	}
	tokenUser := make([]byte, 2*pointerSize)
	sid := []byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}
	return concat(ptr(0x8000), le32(1234), le32(4), le32(1), le32(0), ptr(0x1AB000),
		tokenUser, sid, []byte("cmd.exe\x00"), utf16f.EncodeLE("cmd /c dir"))
}

func TestMofMixedPointerSizes(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	check := func(ev *Event) {
		t.Helper()
		tt.Assert(len(ev.EventData.Remaining) == 0)
		for name, want := range map[string]string{
			"UniqueProcessKey":   "0x8000",
			"ProcessId":          "1234",
			"DirectoryTableBase": "0x1AB000",
			"UserSID":            "S-1-5-18",
			"ImageFileName":      "cmd.exe",
		} {
			got, err := ev.EventData.GetString(name)
			tt.CheckErr(err)
			if got != want {
				t.Errorf("%s = %q, want %q", name, got, want)
			}
		}
	}

	rec64 := classicRecord(processClassGuid, 1, 3, processV3(8))
	rec32 := classicRecord(processClassGuid, 1, 3, processV3(4))
	rec32.EventHeader.Flags |= EVENT_HEADER_FLAG_32_BIT_HEADER

	d := NewDecoder()
	for _, rec := range []*EventRecord{rec64, rec32, rec64, rec32} {
		ev, err := d.Decode(rec)
		tt.CheckErr(err)
		check(ev)
	}
	st := d.Stats()
	tt.Assert(st.MofFallbacks == 2)
	tt.Assert(st.SchemaHits == 2)

	// a forced pointer size also selects the MOF layout
	plain := classicRecord(processClassGuid, 1, 3, processV3(4))
	ev, err := NewDecoder(WithPointerSize(4)).Decode(plain)
	tt.CheckErr(err)
	check(ev)
}

func TestMofTemplates(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	class := MofLookup(processClassGuid, 2, 3)
	tt.Assert(class != nil && class.Name == "Process_V3_TypeGroup1")
	tt.Assert(MofClassQueryMap["Process_V3_TypeGroup1"] == class)

	t32 := class.template(4)
	t64 := class.template(8)
	tt.Assert(t32[0].Length == 4 && t64[0].Length == 8)
	// SID is reported as WBEMSID, strings with a NULL OutType
	tt.Assert(t64[6].InType == TDH_INTYPE_WBEMSID)
	tt.Assert(t64[7].OutType == TDH_OUTTYPE_NULL && t64[7].Length == 0)
	// templates are built once per pointer size
	tt.Assert(&class.template(8)[0] == &t64[0])

	// IPv6 addresses are fixed at 16 bytes
	v6 := MofLookup(tcpIpClassGuid, 27, 2).template(8)
	tt.Assert(v6[2].Length == 16 && v6[2].Flags&PropertyParamFixedLength != 0)
}

func TestMofSizeFromID(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	class := &MofClassDef{
		Name:       "Test_Counted",
		Base:       "Test",
		GUID:       *MustParseGUID("{11111111-2222-3333-4444-555555555555}"),
		Version:    1,
		EventTypes: []uint8{5},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "Count", InType: TDH_INTYPE_UINT32},
			{ID: 2, Name: "Values", InType: TDH_INTYPE_UINT16, IsArray: true, SizeFromID: 1},
			{ID: 3, Name: "Tag", InType: TDH_INTYPE_UINT8, OutType: TDH_OUTTYPE_STRING, IsArray: true, ArraySize: 4},
		},
	}
	MofRegister(class)

	props := class.template(8)
	tt.Assert(props[1].Flags&PropertyParamCount != 0 && props[1].Count == 0)
	tt.Assert(props[1].Length == 2)
	tt.Assert(props[2].InType == TDH_INTYPE_ANSICHAR && props[2].Count == 4)

	rec := classicRecord(class.GUID, 5, 1, concat(le32(2), le16(10), le16(20), []byte("ABCD")))
	ev, err := NewDecoder().Decode(rec)
	tt.CheckErr(err)
	js, err := ev.EventData.MarshalJSON()
	tt.CheckErr(err)
	tt.Assert(string(js) == `{"Count":2,"Values":[10,20],"Tag":"ABCD"}`)
	tt.Assert(ev.System.EventType == "Test_Counted/Test_Counted")
}

func TestMofUnknownClass(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	rec := classicRecord(tcpIpClassGuid, 200, 2, nil)
	_, err := BuildTraceInfoFromMof(rec)
	tt.ExpectErr(err, ErrSchemaUnavailable)
	_, err = MofSource{}.FetchSchema(rec)
	tt.ExpectErr(err, ErrSchemaUnavailable)

	_, ok := MofEventID(testProvider, 1)
	tt.Assert(!ok)
	id, ok := MofEventID(tcpIpClassGuid, 10)
	tt.Assert(ok && id == 4855)
}

func TestMofPackKey(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	key := MofPackKey(0x9a280ac0, 0xc8e0, 27, 2)
	d1, d2, op, ver := MofUnpackKey(key)
	tt.Assert(d1 == 0x9a280ac0 && d2 == 0xc8e0 && op == 27 && ver == 2)
	tt.Assert(MofPackKey(0x9a280ac0, 0xc8e0, 27, 3) != key)
}

func mofSchema(t *test.T, rec *EventRecord) *TraceEventInfo {
	t.Helper()
	blob, err := BuildTraceInfoFromMof(rec)
	t.CheckErr(err)
	tei, err := ParseTraceEventInfo(blob)
	t.CheckErr(err)
	t.Assert(tei.IsMof())
	return tei
}
