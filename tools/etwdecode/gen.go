package main

import (
	"encoding/binary"

	"github.com/tekert/etwdecode/capture"
	"github.com/tekert/etwdecode/etw"
	"github.com/tekert/etwdecode/internal/utf16f"
)

// 2024-01-01T00:00:00Z in FILETIME ticks.
const demoEpoch = 133485408000000000

var (
	demoProvider = *etw.MustParseGUID("{6A1F2B00-6A90-4C9F-95FB-8C4F0F3A9E11}")
	tcpIpClass   = *etw.MustParseGUID("{9a280ac0-c8e0-11d1-84e2-00c04fb998a2}")
)

var demoConnect = etw.SchemaBuilder{
	ProviderGUID:   demoProvider,
	Descriptor:     etw.EventDescriptor{Id: 1, Version: 1, Level: 4, Task: 1, Opcode: 1, Keyword: 0x1},
	DecodingSource: etw.DecodingSourceXMLFile,
	ProviderName:   "Demo-Network",
	LevelName:      "Information",
	TaskName:       "Connect",
	OpcodeName:     "Start",
	EventName:      "ConnectStart",
	Keywords:       []string{"Connections"},
	Properties: []etw.PropertyDef{
		{Name: "Pid", InType: etw.TDH_INTYPE_UINT32, OutType: etw.TDH_OUTTYPE_PID, Length: 4},
		{Name: "Port", InType: etw.TDH_INTYPE_UINT16, OutType: etw.TDH_OUTTYPE_PORT, Length: 2},
		{Name: "Addr", InType: etw.TDH_INTYPE_UINT32, OutType: etw.TDH_OUTTYPE_IPV4, Length: 4},
		{Name: "Size", InType: etw.TDH_INTYPE_UINT32, Length: 4},
		{Name: "Payload", InType: etw.TDH_INTYPE_BINARY, Flags: etw.PropertyParamLength, Length: 3},
		{Name: "Path", InType: etw.TDH_INTYPE_UNICODESTRING},
	},
}

var demoPeers = etw.SchemaBuilder{
	ProviderGUID:   demoProvider,
	Descriptor:     etw.EventDescriptor{Id: 2, Version: 1, Level: 5, Task: 2},
	DecodingSource: etw.DecodingSourceXMLFile,
	ProviderName:   "Demo-Network",
	TaskName:       "Peers",
	EventName:      "PeerList",
	Properties: []etw.PropertyDef{
		{Name: "Count", InType: etw.TDH_INTYPE_UINT16, Length: 2},
		{Name: "Peers", Flags: etw.PropertyStruct | etw.PropertyParamCount, Count: 0, StructStart: 2, StructMembers: 2},
		{Name: "Addr", InType: etw.TDH_INTYPE_UINT32, OutType: etw.TDH_OUTTYPE_IPV4, Length: 4},
		{Name: "Port", InType: etw.TDH_INTYPE_UINT16, OutType: etw.TDH_OUTTYPE_PORT, Length: 2},
	},
}

func demoRecord(desc etw.EventDescriptor, provider etw.GUID, seq int, data []byte) *etw.EventRecord {
	rec := &etw.EventRecord{UserData: data}
	h := &rec.EventHeader
	h.ProviderId = provider
	h.EventDescriptor = desc
	h.ProcessId = 4321
	h.ThreadId = 100 + uint32(seq)
	h.TimeStamp = etw.QuadTimestamp(demoEpoch + int64(seq)*10_000_000)
	h.KernelTime = 2
	h.UserTime = 5
	rec.BufferContext.ProcessorNumber = uint8(seq % 4)
	return rec
}

func connectPayload(port uint16, addr [4]byte, payload []byte, path string) []byte {
	b := binary.LittleEndian.AppendUint32(nil, 4321)
	b = binary.BigEndian.AppendUint16(b, port)
	b = append(b, addr[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	b = append(b, payload...)
	return append(b, utf16f.EncodeLE(path)...)
}

func peersPayload(peers ...[6]byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(len(peers)))
	for _, p := range peers {
		b = append(b, p[:]...)
	}
	return b
}

// writeDemo writes a small capture covering manifest events, a struct array,
// a classic kernel event decoded from its MOF class, a string-only event and
// one truncated record.
func writeDemo(path string) (int, error) {
	w, err := capture.Create(path)
	if err != nil {
		return 0, err
	}

	connect := demoConnect.Bytes()
	peers := demoPeers.Bytes()

	tcp := demoRecord(etw.EventDescriptor{Opcode: 11, Version: 2}, tcpIpClass, 4,
		append(append(binary.LittleEndian.AppendUint32(nil, 4), // PID
			binary.LittleEndian.AppendUint32(nil, 60)...), // size
			10, 0, 0, 1, 192, 168, 0, 5, 0x01, 0xBB, 0xD4, 0x31,
			0, 0, 0, 0, 5, 0, 0, 0, 0, 0, 0, 0))
	tcp.EventHeader.Flags = etw.EVENT_HEADER_FLAG_CLASSIC_HEADER

	str := demoRecord(etw.EventDescriptor{Id: 3, Level: 4}, demoProvider, 5,
		utf16f.EncodeLE("service started\x00"))
	str.EventHeader.Flags = etw.EVENT_HEADER_FLAG_STRING_ONLY

	truncated := demoRecord(demoConnect.Descriptor, demoProvider, 6,
		connectPayload(80, [4]byte{10, 0, 0, 9}, []byte{1, 2, 3, 4}, "")[:14])

	items := []struct {
		rec  *etw.EventRecord
		blob []byte
	}{
		{demoRecord(demoConnect.Descriptor, demoProvider, 1,
			connectPayload(443, [4]byte{93, 184, 216, 34}, []byte{0xDE, 0xAD}, `C:\Windows\System32\svchost.exe`)), connect},
		{demoRecord(demoConnect.Descriptor, demoProvider, 2,
			connectPayload(8080, [4]byte{127, 0, 0, 1}, nil, `C:\tools\agent.exe`)), connect},
		{demoRecord(demoPeers.Descriptor, demoProvider, 3,
			peersPayload([6]byte{10, 0, 0, 2, 0x00, 0x35}, [6]byte{10, 0, 0, 3, 0x01, 0xBB})), peers},
		{tcp, nil},
		{str, nil},
		{truncated, connect},
	}
	for _, it := range items {
		if err := w.Write(it.rec, it.blob); err != nil {
			w.Close()
			return 0, err
		}
	}
	return len(items), w.Close()
}
