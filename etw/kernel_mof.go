package etw

import (
	"fmt"
	"sync"
)

// systemTraceControlGuid is the provider of every classic kernel event.
var systemTraceControlGuid = MustParseGUID("{9e814aad-3204-11d2-9a82-006008a86939}")

// mofProviderName is the provider name TDH reports for classic kernel events.
const mofProviderName = "MSNT_SystemTrace"

type MofKernelNames struct {
	// Class name
	Name string
	// Serves as base to compute event id
	BaseId uint16
}

var (
	// The final event id of Mof Events is computed
	// by BaseId + Opcode. As Opcode is uint8 we jump
	// BaseIds every 0xff so that we do not overlap event
	// ids between classes
	MofClassMapping = map[uint32]MofKernelNames{
		guidToUint("45d8cccd-539f-4b72-a8b7-5c683142609a"): {Name: "ALPC", BaseId: /*0*/ calcBaseId(0)},
		guidToUint("78d14f17-0105-46d7-bfff-6fbea2f3f358"): {Name: "ApplicationVerifier", BaseId: /*255*/ calcBaseId(1)},
		guidToUint("13976d09-a327-438c-950b-7f03192815c7"): {Name: "DbgPrint", BaseId: /*510*/ calcBaseId(2)},
		guidToUint("3d6fa8d4-fe05-11d0-9dda-00c04fd7ba7c"): {Name: "DiskIo", BaseId: /*765*/ calcBaseId(3)},
		guidToUint("bdd865d1-d7c1-11d0-a501-00a0c9062910"): {Name: "DiskPerf", BaseId: /*1020*/ calcBaseId(4)},
		guidToUint("d56ca431-61bf-4904-a621-00e0381e4dde"): {Name: "DriverVerifier", BaseId: /*1275*/ calcBaseId(5)},
		guidToUint("b16f9f5e-b3da-4027-9318-adf2b79df73b"): {Name: "EventLog", BaseId: /*1530*/ calcBaseId(6)},
		guidToUint("01853a65-418f-4f36-aefc-dc0f1d2fd235"): {Name: "EventTraceConfig", BaseId: /*1785*/ calcBaseId(7)},
		guidToUint("90cbdc39-4a3e-11d1-84f4-0000f80464e3"): {Name: "FileIo", BaseId: /*2040*/ calcBaseId(8)},
		guidToUint("8d40301f-ab4a-11d2-9a93-00805f85d7c6"): {Name: "GenericMessage", BaseId: /*2295*/ calcBaseId(9)},
		guidToUint("e8908abc-aa84-11d2-9a93-00805f85d7c6"): {Name: "GlobalLogger", BaseId: /*2550*/ calcBaseId(10)},
		guidToUint("3d6fa8d2-fe05-11d0-9dda-00c04fd7ba7c"): {Name: "HardFault", BaseId: /*2805*/ calcBaseId(11)},
		guidToUint("2cb15d1d-5fc1-11d2-abe1-00a0c911f518"): {Name: "ImageLoad", BaseId: /*3060*/ calcBaseId(12)},
		guidToUint("98a2b9d7-94dd-496a-847e-67a5557a59f2"): {Name: "MsSystemInformation", BaseId: /*3315*/ calcBaseId(13)},
		guidToUint("3d6fa8d3-fe05-11d0-9dda-00c04fd7ba7c"): {Name: "PageFault", BaseId: /*3570*/ calcBaseId(14)},
		guidToUint("ce1dbfb4-137e-4da6-87b0-3f59aa102cbc"): {Name: "PerfInfo", BaseId: /*3825*/ calcBaseId(15)},
		guidToUint("3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c"): {Name: "Process", BaseId: /*4080*/ calcBaseId(16)},
		guidToUint("ae53722e-c863-11d2-8659-00c04fa321a1"): {Name: "Registry", BaseId: /*4335*/ calcBaseId(17)},
		guidToUint("d837ca92-12b9-44a5-ad6a-3a65b3578aa8"): {Name: "SplitIo", BaseId: /*4590*/ calcBaseId(18)},
		guidToUint("9a280ac0-c8e0-11d1-84e2-00c04fb998a2"): {Name: "TcpIp", BaseId: /*4845*/ calcBaseId(19)},
		guidToUint("a1bc18c0-a7c8-11d1-bf3c-00a0c9062910"): {Name: "ThermalZone", BaseId: /*5100*/ calcBaseId(20)},
		guidToUint("3d6fa8d1-fe05-11d0-9dda-00c04fd7ba7c"): {Name: "Thread", BaseId: /*5355*/ calcBaseId(21)},
		guidToUint("398191dc-2da7-11d3-8b98-00805f85d7c6"): {Name: "TraceError", BaseId: /*5610*/ calcBaseId(22)},
		guidToUint("bf3a50c5-a9c9-4988-a005-2df0b7c80f80"): {Name: "UdpIp", BaseId: /*5865*/ calcBaseId(23)},
		guidToUint("44608a51-1851-4456-98b2-b300e931ee41"): {Name: "WmiEventLogger", BaseId: /*6120*/ calcBaseId(24)},
		guidToUint("68fdd900-4a3e-11d1-84f4-0000f80464e3"): {Name: "EventTraceEvent", BaseId: /*6375*/ calcBaseId(25)},
	}
)

func calcBaseId(index int) uint16 {
	return uint16(index * 0xFF)
}

func guidToUint(guid string) uint32 {
	// First 32 bits identify the kernel class.
	return MustParseGUID(guid).Data1
}

// MofEventID returns the synthetic event id of a classic kernel event,
// BaseId of its class plus the opcode.
func MofEventID(class GUID, opcode uint8) (uint16, bool) {
	names, ok := MofClassMapping[class.Data1]
	if !ok {
		return 0, false
	}
	return names.BaseId + uint16(opcode), true
}

var (
	mofMu             sync.RWMutex
	mofClassLookupMap = make(map[uint64]*MofClassDef) // Lookup by packed key
	MofClassQueryMap  = make(map[string]*MofClassDef) // Lookup by class name
)

// MofPropertyDef is one property of a MOF class, in WmiDataId order.
type MofPropertyDef struct {
	ID         uint16 // WmiDataId
	Name       string
	InType     TdhInType  // How to read the raw data
	OutType    TdhOutType // How to represent it
	Extension  string     // From extension("...") qualifier
	IsArray    bool
	ArraySize  uint32 // MAX(n)
	SizeFromID uint32 // WmiSizeIs("PropName") - ID of property that holds array size
}

// MofClassDef represents a complete MOF class definition
type MofClassDef struct {
	Name       string           // Class name (e.g. "Process_V2_TypeGroup1")
	Base       string           // Base class name (e.g. "Process_V2")
	GUID       GUID             // From parent class
	Version    uint8            // From parent class
	EventTypes []uint8          // List of event types this class handles
	Properties []MofPropertyDef // Property definitions

	// Property templates for 4 and 8 byte pointers, built on first use.
	templates [2]struct {
		once  sync.Once
		props []PropertyDef
	}
}

// MofRegister adds a MOF class definition to the registry.
// The property template is built the first time the class is used.
func MofRegister(class *MofClassDef) {
	mofMu.Lock()
	defer mofMu.Unlock()
	for _, eventType := range class.EventTypes {
		key := MofPackKey(class.GUID.Data1, class.GUID.Data2, eventType, class.Version)
		if old, ok := mofClassLookupMap[key]; ok && old != class {
			schemalog.Debug().Str("old", old.Name).Str("new", class.Name).
				Uint8("eventType", eventType).Msg("MOF class replaced")
		}
		mofClassLookupMap[key] = class
	}
	MofClassQueryMap[class.Name] = class
}

// MofErLookup finds a MOF class definition by its event record
// A MOF event record is uniquely identified by its provider GUID, event type, and version
func MofErLookup(er *EventRecord) *MofClassDef {
	return MofLookup(er.EventHeader.ProviderId,
		er.EventHeader.EventDescriptor.Opcode,   // EventType
		er.EventHeader.EventDescriptor.Version) // EventVersion
}

// MofLookup finds a MOF class definition by its identifiers
func MofLookup(guid GUID, eventType uint8, version uint8) *MofClassDef {
	key := MofPackKey(guid.Data1, guid.Data2, eventType, version)
	mofMu.RLock()
	class := mofClassLookupMap[key]
	mofMu.RUnlock()
	return class
}

// Bit positions for packing/unpacking
const (
	bGUID_DATA1_SHIFT = 32 // ProviderId (Data1) uses bits 32-63
	bGUID_DATA2_SHIFT = 16 // ProviderId (Data2) uses bits 16-31
	bOPCODE_SHIFT     = 8  // Opcode uses bits 8-15
	bVERSION_SHIFT    = 0  // Version uses lower 8 bits
)

// Pack event identifiers into single uint64
func MofPackKey(providerId uint32, data2 uint16, opcode uint8, version uint8) uint64 {
	return uint64(providerId)<<bGUID_DATA1_SHIFT |
		uint64(data2)<<bGUID_DATA2_SHIFT |
		uint64(opcode)<<bOPCODE_SHIFT |
		uint64(version)<<bVERSION_SHIFT
}

// Unpack for debugging/display
func MofUnpackKey(key uint64) (providerId uint32, data2 uint16, opcode uint8, version uint8) {
	providerId = uint32(key >> bGUID_DATA1_SHIFT)
	data2 = uint16((key >> bGUID_DATA2_SHIFT) & 0xFFFF)
	opcode = uint8((key >> bOPCODE_SHIFT) & 0xFF)
	version = uint8(key & 0xFF)
	return
}

func mofInTypeFixedSize(inType TdhInType, pointerSize uint32) uint16 {
	switch inType {
	case TDH_INTYPE_INT8, TDH_INTYPE_UINT8, TDH_INTYPE_ANSICHAR:
		return 1
	case TDH_INTYPE_INT16, TDH_INTYPE_UINT16, TDH_INTYPE_UNICODECHAR:
		return 2
	case TDH_INTYPE_INT32, TDH_INTYPE_UINT32, TDH_INTYPE_HEXINT32, TDH_INTYPE_FLOAT, TDH_INTYPE_BOOLEAN:
		return 4
	case TDH_INTYPE_INT64, TDH_INTYPE_UINT64, TDH_INTYPE_HEXINT64, TDH_INTYPE_DOUBLE, TDH_INTYPE_FILETIME:
		return 8
	case TDH_INTYPE_GUID, TDH_INTYPE_SYSTEMTIME:
		return 16
	case TDH_INTYPE_POINTER, TDH_INTYPE_SIZET:
		return uint16(pointerSize)
	default:
		return 0 // Variable size
	}
}

// template returns the class properties as TDH reports them for classic
// events with the given pointer size.
func (c *MofClassDef) template(pointerSize uint32) []PropertyDef {
	slot := 1
	if pointerSize == 4 {
		slot = 0
	}
	t := &c.templates[slot]
	t.once.Do(func() { t.props = c.buildTemplate(pointerSize) })
	return t.props
}

func (c *MofClassDef) buildTemplate(pointerSize uint32) []PropertyDef {
	props := make([]PropertyDef, len(c.Properties))
	wmiIDToIndex := make(map[uint16]uint16, len(c.Properties))
	for i := range c.Properties {
		wmiIDToIndex[c.Properties[i].ID] = uint16(i)
	}

	for i := range c.Properties {
		def := &c.Properties[i]
		p := &props[i]
		p.Name = def.Name

		// TDH reports the older WBEM types for classic events.
		inType, outType := def.InType, def.OutType
		switch inType {
		case TDH_INTYPE_SID:
			inType = TDH_INTYPE_WBEMSID
		case TDH_INTYPE_BINARY:
			if outType == TDH_OUTTYPE_HEXBINARY {
				inType = TDH_INTYPE_HEXDUMP
			}
		case TDH_INTYPE_POINTER:
			if def.Extension == "SizeT" {
				inType = TDH_INTYPE_SIZET
			}
		case TDH_INTYPE_UINT16:
			if outType == TDH_OUTTYPE_STRING {
				inType = TDH_INTYPE_UNICODECHAR
			}
		case TDH_INTYPE_UINT8:
			if outType == TDH_OUTTYPE_STRING {
				inType = TDH_INTYPE_ANSICHAR
			}
		}
		// and a NULL OutType for strings and GUIDs.
		if def.InType == TDH_INTYPE_UNICODESTRING ||
			def.InType == TDH_INTYPE_ANSISTRING ||
			def.InType == TDH_INTYPE_GUID {
			outType = TDH_OUTTYPE_NULL
		}
		p.InType, p.OutType = inType, outType

		if def.IsArray {
			p.Count = uint16(def.ArraySize)
			// Length is the size of one element.
			p.Length = mofInTypeFixedSize(def.InType, pointerSize)
		} else {
			p.Count = 1
			if def.SizeFromID == 0 {
				if size := mofInTypeFixedSize(def.InType, pointerSize); size > 0 {
					p.Length = size
				} else if def.InType == TDH_INTYPE_BINARY && def.OutType == TDH_OUTTYPE_IPV6 {
					p.Length = 16
					p.Flags |= PropertyParamFixedLength
				}
			}
		}

		// WmiSizeIs
		if def.SizeFromID != 0 {
			if j, ok := wmiIDToIndex[uint16(def.SizeFromID)]; ok {
				p.Flags |= PropertyParamCount
				p.Count = j
			}
		}
	}
	return props
}

// BuildTraceInfoFromMof encodes the TRACE_EVENT_INFO of a classic kernel
// event from its registered class, with the pointer size of the record
// header. It serves as a fallback when the schema source has no schema for
// the event.
func BuildTraceInfoFromMof(er *EventRecord) ([]byte, error) {
	return buildTraceInfoFromMof(er, er.PointerSize())
}

func buildTraceInfoFromMof(er *EventRecord, pointerSize uint32) ([]byte, error) {
	class := MofErLookup(er)
	if class == nil {
		return nil, fmt.Errorf("%w: no MOF class for event with GUID %s, Opcode %d, Version %d",
			ErrSchemaUnavailable,
			er.EventHeader.ProviderId.String(),
			er.EventHeader.EventDescriptor.Opcode,
			er.EventHeader.EventDescriptor.Version)
	}

	b := SchemaBuilder{
		ProviderGUID:   *systemTraceControlGuid,
		EventGUID:      class.GUID,
		Descriptor:     er.EventHeader.EventDescriptor,
		DecodingSource: DecodingSourceWbem,
		ProviderName:   mofProviderName,
		TaskName:       class.Base,
		OpcodeName:     class.Name,
		// MOF properties are flat.
		TopLevel:   len(class.Properties),
		Properties: class.template(pointerSize),
	}
	return b.Bytes(), nil
}

// MofSource is a SchemaSource over the registered MOF classes.
type MofSource struct{}

// FetchSchema implements SchemaSource.
func (MofSource) FetchSchema(rec *EventRecord) ([]byte, error) {
	return BuildTraceInfoFromMof(rec)
}

// Classes missing from, or reported differently by, the system repository.
func init() {
	tcpIpGuid := *MustParseGUID("{9a280ac0-c8e0-11d1-84e2-00c04fb998a2}")

	// TCP send/recv/disconnect/retransmit/reconnect over IPv4.
	var TcpIp_TypeGroup1 = &MofClassDef{
		Name:       "TcpIp_TypeGroup1",
		Base:       "TcpIp",
		GUID:       tcpIpGuid,
		Version:    2,
		EventTypes: []uint8{11, 13, 14, 16, 18},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "PID", InType: TDH_INTYPE_UINT32},
			{ID: 2, Name: "size", InType: TDH_INTYPE_UINT32},
			{ID: 3, Name: "daddr", InType: TDH_INTYPE_UINT32, OutType: TDH_OUTTYPE_IPV4},
			{ID: 4, Name: "saddr", InType: TDH_INTYPE_UINT32, OutType: TDH_OUTTYPE_IPV4},
			{ID: 5, Name: "dport", InType: TDH_INTYPE_UINT16, OutType: TDH_OUTTYPE_PORT},
			{ID: 6, Name: "sport", InType: TDH_INTYPE_UINT16, OutType: TDH_OUTTYPE_PORT},
			{ID: 7, Name: "seqnum", InType: TDH_INTYPE_UINT32},
			{ID: 8, Name: "connid", InType: TDH_INTYPE_POINTER},
		},
	}

	// Same over IPv6. The addresses are BINARY with an IPV6 OutType and
	// no declared length.
	var TcpIp_TypeGroup2 = &MofClassDef{
		Name:       "TcpIp_TypeGroup2",
		Base:       "TcpIp",
		GUID:       tcpIpGuid,
		Version:    2,
		EventTypes: []uint8{27, 29, 30, 32, 34},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "PID", InType: TDH_INTYPE_UINT32},
			{ID: 2, Name: "size", InType: TDH_INTYPE_UINT32},
			{ID: 3, Name: "daddr", InType: TDH_INTYPE_BINARY, OutType: TDH_OUTTYPE_IPV6},
			{ID: 4, Name: "saddr", InType: TDH_INTYPE_BINARY, OutType: TDH_OUTTYPE_IPV6},
			{ID: 5, Name: "dport", InType: TDH_INTYPE_UINT16, OutType: TDH_OUTTYPE_PORT},
			{ID: 6, Name: "sport", InType: TDH_INTYPE_UINT16, OutType: TDH_OUTTYPE_PORT},
			{ID: 7, Name: "seqnum", InType: TDH_INTYPE_UINT32},
			{ID: 8, Name: "connid", InType: TDH_INTYPE_POINTER},
		},
	}

	// Process start/end/DCStart/DCEnd/Defunct.
	var Process_V3_TypeGroup1 = &MofClassDef{
		Name:       "Process_V3_TypeGroup1",
		Base:       "Process",
		GUID:       *MustParseGUID("{3d6fa8d0-fe05-11d0-9dda-00c04fd7ba7c}"),
		Version:    3,
		EventTypes: []uint8{1, 2, 3, 4, 39},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "UniqueProcessKey", InType: TDH_INTYPE_POINTER},
			{ID: 2, Name: "ProcessId", InType: TDH_INTYPE_UINT32},
			{ID: 3, Name: "ParentId", InType: TDH_INTYPE_UINT32},
			{ID: 4, Name: "SessionId", InType: TDH_INTYPE_UINT32},
			{ID: 5, Name: "ExitStatus", InType: TDH_INTYPE_INT32},
			{ID: 6, Name: "DirectoryTableBase", InType: TDH_INTYPE_POINTER},
			{ID: 7, Name: "UserSID", InType: TDH_INTYPE_SID},
			{ID: 8, Name: "ImageFileName", InType: TDH_INTYPE_ANSISTRING},
			{ID: 9, Name: "CommandLine", InType: TDH_INTYPE_UNICODESTRING},
		},
	}

	// FileIo 83/84 are not in the kernel MOF classes; layout from user data dumps:
	// IrpPtr, FileObject, FileKey, ExtraInfo, TTID, InfoClass (40 bytes).
	var FileIo_V3_Type8X = &MofClassDef{
		Name:       "FileIo_V3_TypeX",
		Base:       "FileIo",
		GUID:       *MustParseGUID("{90cbdc39-4a3e-11d1-84f4-0000f80464e3}"), // FileIo GUID
		Version:    3,
		EventTypes: []uint8{83, 84},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "IrpPtr", InType: TDH_INTYPE_POINTER},
			{ID: 2, Name: "FileObject", InType: TDH_INTYPE_POINTER},
			{ID: 3, Name: "FileKey", InType: TDH_INTYPE_POINTER},
			{ID: 4, Name: "ExtraInfo", InType: TDH_INTYPE_POINTER},
			{ID: 5, Name: "TTID", InType: TDH_INTYPE_UINT32},
			{ID: 6, Name: "InfoClass", InType: TDH_INTYPE_UINT32},
		},
	}

	// FileIo v3 MapFile/UnmapFile: FileIo_V2_MapFile plus a trailing 4-byte field (44 bytes).
	var FileIo_V3_MapFile = &MofClassDef{
		Name:       "FileIo_V3_MapFile",
		Base:       "FileIo",
		GUID:       *MustParseGUID("{90cbdc39-4a3e-11d1-84f4-0000f80464e3}"), // FileIo GUID
		Version:    3,
		EventTypes: []uint8{37, 38, 39},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "FileObject", InType: TDH_INTYPE_POINTER},
			{ID: 2, Name: "ImageBase", InType: TDH_INTYPE_POINTER},
			{ID: 3, Name: "ViewBase", InType: TDH_INTYPE_POINTER},
			{ID: 4, Name: "PageProtection", InType: TDH_INTYPE_UINT32},
			{ID: 5, Name: "ProcessId", InType: TDH_INTYPE_UINT32},
			{ID: 6, Name: "FileKey", InType: TDH_INTYPE_POINTER},
			{ID: 7, Name: "Reserved", InType: TDH_INTYPE_UINT32},
		},
	}

	// ALPC v2 38/39/41 carry a single UINT32.
	var ALPC_V2_Type3X = &MofClassDef{
		Name:       "ALPC_V2_Type38",
		Base:       "ALPC",
		GUID:       *MustParseGUID("{45d8cccd-539f-4b72-a8b7-5c683142609a}"), // ALPC GUID
		Version:    2,
		EventTypes: []uint8{38, 39, 41},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "Data", InType: TDH_INTYPE_UINT32},
		},
	}

	// Registry 33: two unknown u32, KeyHandle and KeyName.
	var Registry_V2_Type33 = &MofClassDef{
		Name:       "Registry_Type33",
		Base:       "Registry",
		GUID:       *MustParseGUID("{ae53722e-c863-11d2-8659-00c04fa321a1}"), // Registry
		Version:    2,
		EventTypes: []uint8{33},
		Properties: []MofPropertyDef{
			{ID: 1, Name: "InitialTime", InType: TDH_INTYPE_INT64},
			{ID: 2, Name: "Status", InType: TDH_INTYPE_UINT32},
			{ID: 3, Name: "Index", InType: TDH_INTYPE_UINT32},
			{ID: 4, Name: "KeyHandle", InType: TDH_INTYPE_POINTER},
			{ID: 5, Name: "KeyName", InType: TDH_INTYPE_UNICODESTRING, OutType: TDH_OUTTYPE_STRING},
		},
	}

	MofRegister(TcpIp_TypeGroup1)
	MofRegister(TcpIp_TypeGroup2)
	MofRegister(Process_V3_TypeGroup1)
	MofRegister(FileIo_V3_Type8X)
	MofRegister(FileIo_V3_MapFile)
	MofRegister(Registry_V2_Type33)
	MofRegister(ALPC_V2_Type3X)
}
