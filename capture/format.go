// Package capture reads and writes raw event records and their schema blobs
// as JSON lines, optionally zstd compressed.
//
// A capture holds two kinds of lines. Schema lines carry a TRACE_EVENT_INFO
// blob under its schema key; record lines carry the header fields, the user
// data and the extended items of one record. Schema lines must precede the
// records that use them.
//
//	{"kind":"schema","key":"{...}/...","blob":"<base64>"}
//	{"kind":"record","schema":"{...}/...","provider":"{...}","id":1,...,"user_data":"<base64>"}
package capture

import (
	"errors"

	"github.com/tekert/etwdecode/etw"
)

const (
	KindSchema = "schema"
	KindRecord = "record"
)

// zstd frame magic, little endian 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	ErrUnknownKind = errors.New("capture: unknown line kind")
	ErrKeyMismatch = errors.New("capture: record schema key does not match its header")
)

type extendedLine struct {
	Type    uint16 `json:"type"`
	Linkage uint16 `json:"linkage,omitempty"`
	Ptr     uint64 `json:"ptr,omitempty"`
	Data    []byte `json:"data"`
}

// line is the union of both line kinds; Kind selects which fields are set.
type line struct {
	Kind string `json:"kind"`

	// schema
	Key  string `json:"key,omitempty"`
	Blob []byte `json:"blob,omitempty"`

	// record
	Schema        string         `json:"schema,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Flags         uint16         `json:"flags,omitempty"`
	EventProperty uint16         `json:"event_property,omitempty"`
	ThreadID      uint32         `json:"tid,omitempty"`
	ProcessID     uint32         `json:"pid,omitempty"`
	Timestamp     int64          `json:"ts,omitempty"`
	SplitTime     bool           `json:"ts_split,omitempty"`
	ID            uint16         `json:"id,omitempty"`
	Version       uint8          `json:"version,omitempty"`
	Channel       uint8          `json:"channel,omitempty"`
	Level         uint8          `json:"level,omitempty"`
	Opcode        uint8          `json:"opcode,omitempty"`
	Task          uint16         `json:"task,omitempty"`
	Keyword       uint64         `json:"keyword,omitempty"`
	KernelTime    uint32         `json:"kernel_time,omitempty"`
	UserTime      uint32         `json:"user_time,omitempty"`
	ProcessorTime uint64         `json:"processor_time,omitempty"`
	ActivityID    string         `json:"activity_id,omitempty"`
	Processor     uint8          `json:"cpu,omitempty"`
	Alignment     uint8          `json:"alignment,omitempty"`
	LoggerID      uint16         `json:"logger_id,omitempty"`
	UserData      []byte         `json:"user_data,omitempty"`
	Extended      []extendedLine `json:"extended,omitempty"`
}

func recordToLine(rec *etw.EventRecord) *line {
	h := &rec.EventHeader
	d := &h.EventDescriptor
	l := &line{
		Kind:          KindRecord,
		Schema:        etw.SchemaKeyOf(rec).String(),
		Provider:      h.ProviderId.String(),
		Flags:         h.Flags,
		EventProperty: h.EventProperty,
		ThreadID:      h.ThreadId,
		ProcessID:     h.ProcessId,
		Timestamp:     h.TimeStamp.Int64(),
		SplitTime:     h.TimeStamp.Form == etw.TimestampSplit,
		ID:            d.Id,
		Version:       d.Version,
		Channel:       d.Channel,
		Level:         d.Level,
		Opcode:        d.Opcode,
		Task:          d.Task,
		Keyword:       d.Keyword,
		KernelTime:    h.KernelTime,
		UserTime:      h.UserTime,
		ProcessorTime: h.ProcessorTime,
		Processor:     rec.BufferContext.ProcessorNumber,
		Alignment:     rec.BufferContext.Alignment,
		LoggerID:      rec.BufferContext.LoggerId,
		UserData:      rec.UserData,
	}
	if !h.ActivityId.IsZero() {
		l.ActivityID = h.ActivityId.String()
	}
	if len(rec.ExtendedData) > 0 {
		l.Extended = make([]extendedLine, len(rec.ExtendedData))
		for i := range rec.ExtendedData {
			item := &rec.ExtendedData[i]
			l.Extended[i] = extendedLine{
				Type:    item.ExtType,
				Linkage: item.Linkage,
				Ptr:     item.DataPtr,
				Data:    item.Data,
			}
		}
	}
	return l
}

func (l *line) record() (*etw.EventRecord, error) {
	provider, err := etw.ParseGUID(l.Provider)
	if err != nil {
		return nil, err
	}
	rec := &etw.EventRecord{UserData: l.UserData}
	h := &rec.EventHeader
	h.ProviderId = *provider
	h.Flags = l.Flags
	h.EventProperty = l.EventProperty
	h.ThreadId = l.ThreadID
	h.ProcessId = l.ProcessID
	if l.SplitTime {
		h.TimeStamp = etw.SplitTimestamp(uint32(uint64(l.Timestamp)>>32), uint32(l.Timestamp))
	} else {
		h.TimeStamp = etw.QuadTimestamp(l.Timestamp)
	}
	h.EventDescriptor = etw.EventDescriptor{
		Id:      l.ID,
		Version: l.Version,
		Channel: l.Channel,
		Level:   l.Level,
		Opcode:  l.Opcode,
		Task:    l.Task,
		Keyword: l.Keyword,
	}
	h.KernelTime = l.KernelTime
	h.UserTime = l.UserTime
	h.ProcessorTime = l.ProcessorTime
	if l.ActivityID != "" {
		act, err := etw.ParseGUID(l.ActivityID)
		if err != nil {
			return nil, err
		}
		h.ActivityId = *act
	}
	rec.BufferContext = etw.BufferContext{
		ProcessorNumber: l.Processor,
		Alignment:       l.Alignment,
		LoggerId:        l.LoggerID,
	}
	if len(l.Extended) > 0 {
		rec.ExtendedData = make([]etw.RawExtendedItem, len(l.Extended))
		for i, x := range l.Extended {
			rec.ExtendedData[i] = etw.RawExtendedItem{
				ExtType:  x.Type,
				Linkage:  x.Linkage,
				DataSize: uint16(len(x.Data)),
				DataPtr:  x.Ptr,
				Data:     x.Data,
			}
		}
	}
	if l.Schema != "" && l.Schema != etw.SchemaKeyOf(rec).String() {
		return nil, ErrKeyMismatch
	}
	return rec, nil
}
