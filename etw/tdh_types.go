package etw

import "strconv"

// TdhInType is the TDH_IN_TYPE of a property: how the raw bytes are laid out.
type TdhInType uint16

// TdhOutType is the TDH_OUT_TYPE of a property: how the value should be rendered.
type TdhOutType uint16

// TDH_IN_TYPE values (tdh.h).
const (
	TDH_INTYPE_NULL TdhInType = iota
	TDH_INTYPE_UNICODESTRING
	TDH_INTYPE_ANSISTRING
	TDH_INTYPE_INT8
	TDH_INTYPE_UINT8
	TDH_INTYPE_INT16
	TDH_INTYPE_UINT16
	TDH_INTYPE_INT32
	TDH_INTYPE_UINT32
	TDH_INTYPE_INT64
	TDH_INTYPE_UINT64
	TDH_INTYPE_FLOAT
	TDH_INTYPE_DOUBLE
	TDH_INTYPE_BOOLEAN
	TDH_INTYPE_BINARY
	TDH_INTYPE_GUID
	TDH_INTYPE_POINTER
	TDH_INTYPE_FILETIME
	TDH_INTYPE_SYSTEMTIME
	TDH_INTYPE_SID
	TDH_INTYPE_HEXINT32
	TDH_INTYPE_HEXINT64
	TDH_INTYPE_MANIFEST_COUNTEDSTRING
	TDH_INTYPE_MANIFEST_COUNTEDANSISTRING
	TDH_INTYPE_RESERVED24
	TDH_INTYPE_MANIFEST_COUNTEDBINARY
)

// In-types only produced by classic (MOF/WPP) providers.
const (
	TDH_INTYPE_COUNTEDSTRING TdhInType = iota + 300
	TDH_INTYPE_COUNTEDANSISTRING
	TDH_INTYPE_REVERSEDCOUNTEDSTRING
	TDH_INTYPE_REVERSEDCOUNTEDANSISTRING
	TDH_INTYPE_NONNULLTERMINATEDSTRING
	TDH_INTYPE_NONNULLTERMINATEDANSISTRING
	TDH_INTYPE_UNICODECHAR
	TDH_INTYPE_ANSICHAR
	TDH_INTYPE_SIZET
	TDH_INTYPE_HEXDUMP
	TDH_INTYPE_WBEMSID
)

// TDH_OUT_TYPE values (tdh.h).
const (
	TDH_OUTTYPE_NULL TdhOutType = iota
	TDH_OUTTYPE_STRING
	TDH_OUTTYPE_DATETIME
	TDH_OUTTYPE_BYTE
	TDH_OUTTYPE_UNSIGNEDBYTE
	TDH_OUTTYPE_SHORT
	TDH_OUTTYPE_UNSIGNEDSHORT
	TDH_OUTTYPE_INT
	TDH_OUTTYPE_UNSIGNEDINT
	TDH_OUTTYPE_LONG
	TDH_OUTTYPE_UNSIGNEDLONG
	TDH_OUTTYPE_FLOAT
	TDH_OUTTYPE_DOUBLE
	TDH_OUTTYPE_BOOLEAN
	TDH_OUTTYPE_GUID
	TDH_OUTTYPE_HEXBINARY
	TDH_OUTTYPE_HEXINT8
	TDH_OUTTYPE_HEXINT16
	TDH_OUTTYPE_HEXINT32
	TDH_OUTTYPE_HEXINT64
	TDH_OUTTYPE_PID
	TDH_OUTTYPE_TID
	TDH_OUTTYPE_PORT
	TDH_OUTTYPE_IPV4
	TDH_OUTTYPE_IPV6
	TDH_OUTTYPE_SOCKETADDRESS
	TDH_OUTTYPE_CIMDATETIME
	TDH_OUTTYPE_ETWTIME
	TDH_OUTTYPE_XML
	TDH_OUTTYPE_ERRORCODE
	TDH_OUTTYPE_WIN32ERROR
	TDH_OUTTYPE_NTSTATUS
	TDH_OUTTYPE_HRESULT
	TDH_OUTTYPE_CULTURE_INSENSITIVE_DATETIME
	TDH_OUTTYPE_JSON
	TDH_OUTTYPE_UTF8
	TDH_OUTTYPE_PKCS7_WITH_TYPE_INFO
	TDH_OUTTYPE_CODE_POINTER
	TDH_OUTTYPE_DATETIME_UTC
)

// Out-types only produced by classic providers.
const (
	TDH_OUTTYPE_REDUCEDSTRING TdhOutType = iota + 300
	TDH_OUTTYPE_NOPRINT
)

var inTypeNames = map[TdhInType]string{
	TDH_INTYPE_NULL:                        "NULL",
	TDH_INTYPE_UNICODESTRING:               "UNICODESTRING",
	TDH_INTYPE_ANSISTRING:                  "ANSISTRING",
	TDH_INTYPE_INT8:                        "INT8",
	TDH_INTYPE_UINT8:                       "UINT8",
	TDH_INTYPE_INT16:                       "INT16",
	TDH_INTYPE_UINT16:                      "UINT16",
	TDH_INTYPE_INT32:                       "INT32",
	TDH_INTYPE_UINT32:                      "UINT32",
	TDH_INTYPE_INT64:                       "INT64",
	TDH_INTYPE_UINT64:                      "UINT64",
	TDH_INTYPE_FLOAT:                       "FLOAT",
	TDH_INTYPE_DOUBLE:                      "DOUBLE",
	TDH_INTYPE_BOOLEAN:                     "BOOLEAN",
	TDH_INTYPE_BINARY:                      "BINARY",
	TDH_INTYPE_GUID:                        "GUID",
	TDH_INTYPE_POINTER:                     "POINTER",
	TDH_INTYPE_FILETIME:                    "FILETIME",
	TDH_INTYPE_SYSTEMTIME:                  "SYSTEMTIME",
	TDH_INTYPE_SID:                         "SID",
	TDH_INTYPE_HEXINT32:                    "HEXINT32",
	TDH_INTYPE_HEXINT64:                    "HEXINT64",
	TDH_INTYPE_MANIFEST_COUNTEDSTRING:      "MANIFEST_COUNTEDSTRING",
	TDH_INTYPE_MANIFEST_COUNTEDANSISTRING:  "MANIFEST_COUNTEDANSISTRING",
	TDH_INTYPE_MANIFEST_COUNTEDBINARY:      "MANIFEST_COUNTEDBINARY",
	TDH_INTYPE_COUNTEDSTRING:               "COUNTEDSTRING",
	TDH_INTYPE_COUNTEDANSISTRING:           "COUNTEDANSISTRING",
	TDH_INTYPE_REVERSEDCOUNTEDSTRING:       "REVERSEDCOUNTEDSTRING",
	TDH_INTYPE_REVERSEDCOUNTEDANSISTRING:   "REVERSEDCOUNTEDANSISTRING",
	TDH_INTYPE_NONNULLTERMINATEDSTRING:     "NONNULLTERMINATEDSTRING",
	TDH_INTYPE_NONNULLTERMINATEDANSISTRING: "NONNULLTERMINATEDANSISTRING",
	TDH_INTYPE_UNICODECHAR:                 "UNICODECHAR",
	TDH_INTYPE_ANSICHAR:                    "ANSICHAR",
	TDH_INTYPE_SIZET:                       "SIZET",
	TDH_INTYPE_HEXDUMP:                     "HEXDUMP",
	TDH_INTYPE_WBEMSID:                     "WBEMSID",
}

func (t TdhInType) String() string {
	if s, ok := inTypeNames[t]; ok {
		return s
	}
	return "INTYPE(" + strconv.Itoa(int(t)) + ")"
}

var outTypeNames = map[TdhOutType]string{
	TDH_OUTTYPE_NULL:                         "NULL",
	TDH_OUTTYPE_STRING:                       "STRING",
	TDH_OUTTYPE_DATETIME:                     "DATETIME",
	TDH_OUTTYPE_BYTE:                         "BYTE",
	TDH_OUTTYPE_UNSIGNEDBYTE:                 "UNSIGNEDBYTE",
	TDH_OUTTYPE_SHORT:                        "SHORT",
	TDH_OUTTYPE_UNSIGNEDSHORT:                "UNSIGNEDSHORT",
	TDH_OUTTYPE_INT:                          "INT",
	TDH_OUTTYPE_UNSIGNEDINT:                  "UNSIGNEDINT",
	TDH_OUTTYPE_LONG:                         "LONG",
	TDH_OUTTYPE_UNSIGNEDLONG:                 "UNSIGNEDLONG",
	TDH_OUTTYPE_FLOAT:                        "FLOAT",
	TDH_OUTTYPE_DOUBLE:                       "DOUBLE",
	TDH_OUTTYPE_BOOLEAN:                      "BOOLEAN",
	TDH_OUTTYPE_GUID:                         "GUID",
	TDH_OUTTYPE_HEXBINARY:                    "HEXBINARY",
	TDH_OUTTYPE_HEXINT8:                      "HEXINT8",
	TDH_OUTTYPE_HEXINT16:                     "HEXINT16",
	TDH_OUTTYPE_HEXINT32:                     "HEXINT32",
	TDH_OUTTYPE_HEXINT64:                     "HEXINT64",
	TDH_OUTTYPE_PID:                          "PID",
	TDH_OUTTYPE_TID:                          "TID",
	TDH_OUTTYPE_PORT:                         "PORT",
	TDH_OUTTYPE_IPV4:                         "IPV4",
	TDH_OUTTYPE_IPV6:                         "IPV6",
	TDH_OUTTYPE_SOCKETADDRESS:                "SOCKETADDRESS",
	TDH_OUTTYPE_CIMDATETIME:                  "CIMDATETIME",
	TDH_OUTTYPE_ETWTIME:                      "ETWTIME",
	TDH_OUTTYPE_XML:                          "XML",
	TDH_OUTTYPE_ERRORCODE:                    "ERRORCODE",
	TDH_OUTTYPE_WIN32ERROR:                   "WIN32ERROR",
	TDH_OUTTYPE_NTSTATUS:                     "NTSTATUS",
	TDH_OUTTYPE_HRESULT:                      "HRESULT",
	TDH_OUTTYPE_CULTURE_INSENSITIVE_DATETIME: "CULTURE_INSENSITIVE_DATETIME",
	TDH_OUTTYPE_JSON:                         "JSON",
	TDH_OUTTYPE_UTF8:                         "UTF8",
	TDH_OUTTYPE_PKCS7_WITH_TYPE_INFO:         "PKCS7_WITH_TYPE_INFO",
	TDH_OUTTYPE_CODE_POINTER:                 "CODE_POINTER",
	TDH_OUTTYPE_DATETIME_UTC:                 "DATETIME_UTC",
	TDH_OUTTYPE_REDUCEDSTRING:                "REDUCEDSTRING",
	TDH_OUTTYPE_NOPRINT:                      "NOPRINT",
}

func (t TdhOutType) String() string {
	if s, ok := outTypeNames[t]; ok {
		return s
	}
	return "OUTTYPE(" + strconv.Itoa(int(t)) + ")"
}

// isStringInType reports whether zero length means "scan for the terminator".
func isStringInType(t TdhInType) bool {
	switch t {
	case TDH_INTYPE_UNICODESTRING,
		TDH_INTYPE_ANSISTRING,
		TDH_INTYPE_MANIFEST_COUNTEDSTRING,
		TDH_INTYPE_MANIFEST_COUNTEDANSISTRING,
		TDH_INTYPE_COUNTEDSTRING,
		TDH_INTYPE_COUNTEDANSISTRING,
		TDH_INTYPE_REVERSEDCOUNTEDSTRING,
		TDH_INTYPE_REVERSEDCOUNTEDANSISTRING,
		TDH_INTYPE_NONNULLTERMINATEDSTRING,
		TDH_INTYPE_NONNULLTERMINATEDANSISTRING:
		return true
	}
	return false
}

// isSelfSizedInType reports in-types that carry their own size in the data.
func isSelfSizedInType(t TdhInType) bool {
	switch t {
	case TDH_INTYPE_SID,
		TDH_INTYPE_WBEMSID,
		TDH_INTYPE_HEXDUMP,
		TDH_INTYPE_MANIFEST_COUNTEDBINARY:
		return true
	}
	return false
}

// PropertyFlags mirrors PROPERTY_FLAGS.
type PropertyFlags uint32

const (
	PropertyStruct           PropertyFlags = 0x1
	PropertyParamLength      PropertyFlags = 0x2
	PropertyParamCount       PropertyFlags = 0x4
	PropertyWBEMXmlFragment  PropertyFlags = 0x8
	PropertyParamFixedLength PropertyFlags = 0x10
	PropertyParamFixedCount  PropertyFlags = 0x20
	PropertyHasTags          PropertyFlags = 0x40
	PropertyHasCustomSchema  PropertyFlags = 0x80
)

// DecodingSource mirrors DECODING_SOURCE.
type DecodingSource uint32

const (
	DecodingSourceXMLFile DecodingSource = iota
	DecodingSourceWbem
	DecodingSourceWPP
	DecodingSourceTlg
	DecodingSourceMax
)

func (d DecodingSource) String() string {
	switch d {
	case DecodingSourceXMLFile:
		return "XMLFile"
	case DecodingSourceWbem:
		return "Wbem"
	case DecodingSourceWPP:
		return "WPP"
	case DecodingSourceTlg:
		return "Tlg"
	}
	return "DecodingSource(" + strconv.Itoa(int(d)) + ")"
}

// TemplateFlags mirrors TEMPLATE_FLAGS.
type TemplateFlags uint32

const (
	TemplateEventDdata  TemplateFlags = 1
	TemplateUserData    TemplateFlags = 2
	TemplateControlGUID TemplateFlags = 4
)

// EVENT_HEADER flags.
const (
	EVENT_HEADER_FLAG_EXTENDED_INFO   = 0x0001
	EVENT_HEADER_FLAG_PRIVATE_SESSION = 0x0002
	EVENT_HEADER_FLAG_STRING_ONLY     = 0x0004
	EVENT_HEADER_FLAG_TRACE_MESSAGE   = 0x0008
	EVENT_HEADER_FLAG_NO_CPUTIME      = 0x0010
	EVENT_HEADER_FLAG_32_BIT_HEADER   = 0x0020
	EVENT_HEADER_FLAG_64_BIT_HEADER   = 0x0040
	EVENT_HEADER_FLAG_DECODE_GUID     = 0x0080
	EVENT_HEADER_FLAG_CLASSIC_HEADER  = 0x0100
	EVENT_HEADER_FLAG_PROCESSOR_INDEX = 0x0200
)

// EVENT_HEADER_EXTENDED_DATA_ITEM ExtType values.
const (
	EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID = 0x0001
	EVENT_HEADER_EXT_TYPE_SID                = 0x0002
	EVENT_HEADER_EXT_TYPE_TS_ID              = 0x0003
	EVENT_HEADER_EXT_TYPE_INSTANCE_INFO      = 0x0004
	EVENT_HEADER_EXT_TYPE_STACK_TRACE32      = 0x0005
	EVENT_HEADER_EXT_TYPE_STACK_TRACE64      = 0x0006
	EVENT_HEADER_EXT_TYPE_PEBS_INDEX         = 0x0007
	EVENT_HEADER_EXT_TYPE_PMC_COUNTERS       = 0x0008
	EVENT_HEADER_EXT_TYPE_PSM_KEY            = 0x0009
	EVENT_HEADER_EXT_TYPE_EVENT_KEY          = 0x000A
	EVENT_HEADER_EXT_TYPE_EVENT_SCHEMA_TL    = 0x000B
	EVENT_HEADER_EXT_TYPE_PROV_TRAITS        = 0x000C
	EVENT_HEADER_EXT_TYPE_PROCESS_START_KEY  = 0x000D
	EVENT_HEADER_EXT_TYPE_CONTROL_GUID       = 0x000E
	EVENT_HEADER_EXT_TYPE_QPC_DELTA          = 0x000F
	EVENT_HEADER_EXT_TYPE_CONTAINER_ID       = 0x0010
	EVENT_HEADER_EXT_TYPE_STACK_KEY32        = 0x0011
	EVENT_HEADER_EXT_TYPE_STACK_KEY64        = 0x0012
)
