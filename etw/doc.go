// Package etw decodes Event Tracing for Windows (ETW) records using TDH
// schemas, without calling into Windows.
//
// A record is the raw EVENT_RECORD payload plus its header; a schema is the
// TRACE_EVENT_INFO blob TDH returns for that event. Both are plain byte
// slices, so records can be decoded on any platform: from a capture, from a
// network feed, or from a live session on another host. Every offset read
// from either blob is bounds checked.
//
// Basic usage:
//
//	d := etw.NewDecoder(etw.WithSchemaSource(src))
//	e, err := d.Decode(rec)
//	if err != nil {
//	    return err
//	}
//	b, _ := e.MarshalJSON()
//
// Schemas are cached per provider and event descriptor and shared by every
// goroutine using the Decoder. Classic kernel events without a schema are
// decoded from the built-in MOF classes.
package etw

// To modernize:
// go run golang.org/x/tools/gopls/internal/analysis/modernize/cmd/modernize@latest -fix -test ./...
