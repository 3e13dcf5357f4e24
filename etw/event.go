package etw

import (
	"math"
	"os"
	"strconv"
	"time"

	"github.com/tekert/etwdecode/internal/hexf"
)

var hostname, _ = os.Hostname()

const nullGUIDStr = "{00000000-0000-0000-0000-000000000000}"

// Event is one fully decoded record.
type Event struct {
	System       SystemMetadata
	EventData    *EventData
	ExtendedData []ExtendedDataItem
	// UserData is set for schemas flagged TEMPLATE_USER_DATA; the
	// properties are then rendered under "UserData".
	UserData bool

	// keep filters the properties written by MarshalJSON.
	keep func(string) bool
}

// SystemMetadata holds all the structured metadata for an ETW event.
type SystemMetadata struct {
	Channel     string
	Computer    string
	EventID     uint16
	Version     uint8  `json:",omitempty"`
	EventType   string `json:",omitempty"`
	EventGuid   GUID
	Correlation struct {
		ActivityID        string
		RelatedActivityID string
	}
	Execution struct {
		ProcessID     uint32
		ThreadID      uint32
		ProcessorTime uint64 `json:",omitempty"`
		ProcessorID   uint16
		KernelTime    uint32
		UserTime      uint32
	}
	Keywords MarshalKeywords
	Level    struct {
		Value uint8
		Name  string
	}
	Opcode struct {
		Value uint8
		Name  string
	}
	Task struct {
		Value uint8
		Name  string
	}
	Provider struct {
		Guid GUID
		Name string
	}
	TimeCreated struct {
		SystemTime time.Time
	}
}

// MarshalKeywords renders the keyword mask as a zero-padded hex string.
type MarshalKeywords struct {
	Mask uint64
	Name []string
}

// AppendText appends the JSON representation of the keywords to the buffer.
func (k MarshalKeywords) AppendText(buf []byte) []byte {
	buf = append(buf, `{"Mask":"0x`...)
	buf = hexf.AppendUint64PaddedU(buf, k.Mask)
	buf = append(buf, `","Name":[`...)
	for i, name := range k.Name {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, name)
	}
	return append(buf, "]}"...)
}

// MarshalJSON implements the json.Marshaler interface.
func (k MarshalKeywords) MarshalJSON() ([]byte, error) {
	size := 26 + 18 // {"Mask":"0x...","Name":[]}
	for _, name := range k.Name {
		size += len(name) + 3
	}
	return k.AppendText(make([]byte, 0, size)), nil
}

// set fills m from the record header and its schema.
func (m *SystemMetadata) set(rec *EventRecord, tei *TraceEventInfo) {
	h := &rec.EventHeader
	m.Computer = hostname

	// Some providers log from separate threads and set 0xFFFFFFFF.
	if h.ProcessId != math.MaxUint32 {
		m.Execution.ProcessID = h.ProcessId
	}
	if h.ThreadId != math.MaxUint32 {
		m.Execution.ThreadID = h.ThreadId
	}
	m.Execution.ProcessorID = rec.ProcessorIndex()
	if h.HasCPUTime() {
		m.Execution.KernelTime = h.KernelTime
		m.Execution.UserTime = h.UserTime
	} else {
		m.Execution.ProcessorTime = h.ProcessorTime
	}

	m.TimeCreated.SystemTime = h.TimeStamp.Time()
	m.Correlation.ActivityID = h.ActivityId.String()
	m.Correlation.RelatedActivityID = nullGUIDStr
	m.Level.Value = h.EventDescriptor.Level
	m.Opcode.Value = h.EventDescriptor.Opcode
	m.Task.Value = uint8(h.EventDescriptor.Task)
	m.Keywords.Mask = h.EventDescriptor.Keyword
	m.EventID = h.EventDescriptor.Id
	m.Version = h.EventDescriptor.Version
	m.Provider.Guid = h.ProviderId

	for i := range rec.ExtendedData {
		if item, err := decodeExtendedItem(&rec.ExtendedData[i]); err == nil {
			if rel, ok := item.(RelatedActivityID); ok && !rel.ID.IsZero() {
				m.Correlation.RelatedActivityID = rel.ID.String()
			}
		}
	}

	if tei == nil {
		return
	}

	m.EventID = tei.EventID()
	m.Version = tei.EventDescriptor.Version
	m.Channel = tei.ChannelName()
	m.Provider.Guid = tei.ProviderGUID
	m.Provider.Name = tei.ProviderName()
	m.Level.Name = tei.LevelName()
	m.Opcode.Name = tei.OpcodeName()
	m.Task.Name = tei.TaskName()
	m.Keywords.Name = tei.KeywordsNames()

	if tei.IsMof() {
		// The record ProviderId is the class GUID for MOF events.
		if c := MofErLookup(rec); c != nil {
			m.EventType = c.Name + "/" + tei.OpcodeName()
		} else {
			m.EventType = "UnknownClass/" + tei.OpcodeName()
		}
		m.EventGuid = tei.EventGUID
		if s := tei.ActivityIDName(); s != "" {
			m.Correlation.ActivityID = s
		}
		if s := tei.RelatedActivityIDName(); s != "" {
			m.Correlation.RelatedActivityID = s
		}
	}
}

// AppendText manually marshals the SystemMetadata to a byte buffer.
func (m *SystemMetadata) AppendText(buf []byte) []byte {
	buf = append(buf, `{"Channel":`...)
	buf = strconv.AppendQuote(buf, m.Channel)
	buf = append(buf, `,"Computer":`...)
	buf = strconv.AppendQuote(buf, m.Computer)
	buf = append(buf, `,"EventID":`...)
	buf = strconv.AppendUint(buf, uint64(m.EventID), 10)

	if m.Version != 0 {
		buf = append(buf, `,"Version":`...)
		buf = strconv.AppendUint(buf, uint64(m.Version), 10)
	}
	if m.EventType != "" {
		buf = append(buf, `,"EventType":`...)
		buf = strconv.AppendQuote(buf, m.EventType)
	}

	buf = append(buf, `,"EventGuid":"`...)
	buf = m.EventGuid.appendText(buf)
	buf = append(buf, '"')

	buf = append(buf, `,"Correlation":{"ActivityID":`...)
	buf = strconv.AppendQuote(buf, m.Correlation.ActivityID)
	buf = append(buf, `,"RelatedActivityID":`...)
	buf = strconv.AppendQuote(buf, m.Correlation.RelatedActivityID)
	buf = append(buf, '}')

	buf = append(buf, `,"Execution":{"ProcessID":`...)
	buf = strconv.AppendUint(buf, uint64(m.Execution.ProcessID), 10)
	buf = append(buf, `,"ThreadID":`...)
	buf = strconv.AppendUint(buf, uint64(m.Execution.ThreadID), 10)
	if m.Execution.ProcessorTime != 0 {
		buf = append(buf, `,"ProcessorTime":`...)
		buf = strconv.AppendUint(buf, m.Execution.ProcessorTime, 10)
	}
	buf = append(buf, `,"ProcessorID":`...)
	buf = strconv.AppendUint(buf, uint64(m.Execution.ProcessorID), 10)
	buf = append(buf, `,"KernelTime":`...)
	buf = strconv.AppendUint(buf, uint64(m.Execution.KernelTime), 10)
	buf = append(buf, `,"UserTime":`...)
	buf = strconv.AppendUint(buf, uint64(m.Execution.UserTime), 10)
	buf = append(buf, '}')

	buf = append(buf, `,"Keywords":`...)
	buf = m.Keywords.AppendText(buf)

	buf = appendValueName(buf, "Level", m.Level.Value, m.Level.Name)
	buf = appendValueName(buf, "Opcode", m.Opcode.Value, m.Opcode.Name)
	buf = appendValueName(buf, "Task", m.Task.Value, m.Task.Name)

	buf = append(buf, `,"Provider":{"Guid":"`...)
	buf = m.Provider.Guid.appendText(buf)
	buf = append(buf, `","Name":`...)
	buf = strconv.AppendQuote(buf, m.Provider.Name)
	buf = append(buf, '}')

	buf = append(buf, `,"TimeCreated":{"SystemTime":"`...)
	buf = m.TimeCreated.SystemTime.UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `"}`...)

	return append(buf, '}')
}

func appendValueName(buf []byte, key string, v uint8, name string) []byte {
	buf = append(buf, ',', '"')
	buf = append(buf, key...)
	buf = append(buf, `":{"Value":`...)
	buf = strconv.AppendUint(buf, uint64(v), 10)
	buf = append(buf, `,"Name":`...)
	buf = strconv.AppendQuote(buf, name)
	return append(buf, '}')
}

// MarshalJSON implements json.Marshaler.
func (m *SystemMetadata) MarshalJSON() ([]byte, error) {
	return m.AppendText(make([]byte, 0, 512)), nil
}

// AppendJSON appends the event as one JSON object: the properties under
// "EventData" (or "UserData"), the extended items and "System".
func (e *Event) AppendJSON(buf []byte) ([]byte, error) {
	buf = append(buf, '{')
	if e.EventData != nil {
		if e.UserData {
			buf = append(buf, `"UserData":`...)
		} else {
			buf = append(buf, `"EventData":`...)
		}
		var err error
		if buf, err = appendFieldsJSON(buf, e.EventData.Fields, e.keep); err != nil {
			return buf, err
		}
		buf = append(buf, ',')
	}
	if len(e.ExtendedData) > 0 {
		buf = append(buf, `"ExtendedData":[`...)
		for i, item := range e.ExtendedData {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendExtendedItemJSON(buf, item)
		}
		buf = append(buf, "],"...)
	}
	buf = append(buf, `"System":`...)
	buf = e.System.AppendText(buf)
	return append(buf, '}'), nil
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	return e.AppendJSON(make([]byte, 0, 1024))
}

// ExtendedTypeName returns the EVENT_HEADER_EXT_TYPE name of t.
func ExtendedTypeName(t uint16) string {
	switch t {
	case EVENT_HEADER_EXT_TYPE_RELATED_ACTIVITYID:
		return "RELATED_ACTIVITYID"
	case EVENT_HEADER_EXT_TYPE_SID:
		return "SID"
	case EVENT_HEADER_EXT_TYPE_TS_ID:
		return "TS_ID"
	case EVENT_HEADER_EXT_TYPE_INSTANCE_INFO:
		return "INSTANCE_INFO"
	case EVENT_HEADER_EXT_TYPE_STACK_TRACE32:
		return "STACK_TRACE32"
	case EVENT_HEADER_EXT_TYPE_STACK_TRACE64:
		return "STACK_TRACE64"
	case EVENT_HEADER_EXT_TYPE_PEBS_INDEX:
		return "PEBS_INDEX"
	case EVENT_HEADER_EXT_TYPE_PMC_COUNTERS:
		return "PMC_COUNTERS"
	case EVENT_HEADER_EXT_TYPE_PSM_KEY:
		return "PSM_KEY"
	case EVENT_HEADER_EXT_TYPE_EVENT_KEY:
		return "EVENT_KEY"
	case EVENT_HEADER_EXT_TYPE_EVENT_SCHEMA_TL:
		return "EVENT_SCHEMA_TL"
	case EVENT_HEADER_EXT_TYPE_PROV_TRAITS:
		return "PROV_TRAITS"
	case EVENT_HEADER_EXT_TYPE_PROCESS_START_KEY:
		return "PROCESS_START_KEY"
	case EVENT_HEADER_EXT_TYPE_CONTROL_GUID:
		return "CONTROL_GUID"
	case EVENT_HEADER_EXT_TYPE_QPC_DELTA:
		return "QPC_DELTA"
	case EVENT_HEADER_EXT_TYPE_CONTAINER_ID:
		return "CONTAINER_ID"
	case EVENT_HEADER_EXT_TYPE_STACK_KEY32:
		return "STACK_KEY32"
	case EVENT_HEADER_EXT_TYPE_STACK_KEY64:
		return "STACK_KEY64"
	}
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

func appendExtendedItemJSON(buf []byte, item ExtendedDataItem) []byte {
	buf = append(buf, `{"Type":"`...)
	buf = append(buf, ExtendedTypeName(item.Type())...)
	buf = append(buf, '"')

	switch v := item.(type) {
	case *StackTrace:
		buf = append(buf, `,"MatchId":`...)
		buf = strconv.AppendUint(buf, v.MatchId, 10)
		buf = append(buf, `,"Addresses":[`...)
		for i, a := range v.Addresses {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, '"')
			buf = hexf.AppendNUm64p(buf, a, true)
			buf = append(buf, '"')
		}
		buf = append(buf, ']')
	case *StackKey:
		buf = append(buf, `,"MatchId":`...)
		buf = strconv.AppendUint(buf, v.MatchId, 10)
		buf = append(buf, `,"StackKey":`...)
		buf = strconv.AppendUint(buf, v.StackKey, 10)
	case RelatedActivityID:
		buf = append(buf, `,"ID":"`...)
		buf = v.ID.appendText(buf)
		buf = append(buf, '"')
	case UserSID:
		buf = append(buf, `,"SID":`...)
		buf = strconv.AppendQuote(buf, v.SID.String())
	case TerminalSessionID:
		buf = append(buf, `,"SessionID":`...)
		buf = strconv.AppendUint(buf, uint64(v.SessionID), 10)
	case InstanceInfo:
		buf = append(buf, `,"InstanceID":`...)
		buf = strconv.AppendUint(buf, uint64(v.InstanceID), 10)
		buf = append(buf, `,"ParentInstanceID":`...)
		buf = strconv.AppendUint(buf, uint64(v.ParentInstanceID), 10)
		buf = append(buf, `,"ParentGUID":"`...)
		buf = v.ParentGUID.appendText(buf)
		buf = append(buf, '"')
	case EventKey:
		buf = append(buf, `,"Key":`...)
		buf = strconv.AppendUint(buf, v.Key, 10)
	case ProcessStartKey:
		buf = append(buf, `,"Key":`...)
		buf = strconv.AppendUint(buf, v.Key, 10)
	case Opaque:
		buf = append(buf, `,"DataPtr":"`...)
		buf = hexf.AppendNUm64p(buf, v.DataPtr, true)
		buf = append(buf, `","DataSize":`...)
		buf = strconv.AppendUint(buf, uint64(v.DataSize), 10)
	}
	return append(buf, '}')
}
