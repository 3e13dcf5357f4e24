package etw

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// SchemaSource supplies the TRACE_EVENT_INFO blob of a record's event class.
// On Windows this is TdhGetEventInformation; offline it is a capture file.
// Implementations must be safe for concurrent use and return an error
// wrapping ErrSchemaUnavailable when they have no schema for the record.
type SchemaSource interface {
	FetchSchema(rec *EventRecord) ([]byte, error)
}

// SchemaSourceFunc adapts a function to SchemaSource.
type SchemaSourceFunc func(rec *EventRecord) ([]byte, error)

func (f SchemaSourceFunc) FetchSchema(rec *EventRecord) ([]byte, error) { return f(rec) }

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// Source is asked for schemas missing from the cache.
	Source SchemaSource
	// Cache memoizes parsed schemas. Nil disables caching.
	Cache *SchemaCache
	// MofFallback builds schemas for classic kernel events from the
	// registered MOF classes when Source has none.
	MofFallback bool
	// Fields, when not empty, limits the properties written by
	// Event.MarshalJSON. Decoding always walks every property.
	Fields []string
	// PointerSize overrides the pointer width taken from the header flags.
	PointerSize uint32
}

// Option is any function that modifies DecoderOptions. Options are applied
// in order on the defaults in NewDecoder.
type Option func(cfg *DecoderOptions)

// WithSchemaSource sets the schema source.
func WithSchemaSource(src SchemaSource) Option {
	return func(cfg *DecoderOptions) {
		cfg.Source = src
	}
}

// WithSchemaCache shares a schema cache between decoders. A nil cache
// disables caching.
func WithSchemaCache(c *SchemaCache) Option {
	return func(cfg *DecoderOptions) {
		cfg.Cache = c
	}
}

// WithMofFallback enables or disables building classic kernel schemas
// from the MOF registry.
func WithMofFallback(enable bool) Option {
	return func(cfg *DecoderOptions) {
		cfg.MofFallback = enable
	}
}

// WithFieldFilter limits the properties rendered in JSON to names.
func WithFieldFilter(names ...string) Option {
	return func(cfg *DecoderOptions) {
		cfg.Fields = names
	}
}

// WithPointerSize forces the pointer width (4 or 8) used for POINTER and
// SIZET properties.
func WithPointerSize(size uint32) Option {
	return func(cfg *DecoderOptions) {
		cfg.PointerSize = size
	}
}

// DecoderStats are counters since the decoder was created.
type DecoderStats struct {
	Decoded      uint64
	Failed       uint64
	SchemaHits   uint64
	SchemaMisses uint64
	MofFallbacks uint64
	// Trailing counts records with unparsed bytes after the last property.
	Trailing uint64
}

// Decoder turns raw records into Events. It is safe for concurrent use
// when its SchemaSource is.
type Decoder struct {
	opts DecoderOptions
	keep func(string) bool

	decoded      atomic.Uint64
	failed       atomic.Uint64
	schemaHits   atomic.Uint64
	schemaMisses atomic.Uint64
	mofFallbacks atomic.Uint64
	trailing     atomic.Uint64
}

// NewDecoder creates a decoder. By default it has a private schema cache,
// no schema source and the MOF fallback enabled.
func NewDecoder(opts ...Option) *Decoder {
	cfg := DecoderOptions{
		Cache:       NewSchemaCache(),
		MofFallback: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	d := &Decoder{opts: cfg}
	if len(cfg.Fields) > 0 {
		set := make(map[string]struct{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			set[f] = struct{}{}
		}
		d.keep = func(name string) bool {
			_, ok := set[name]
			return ok
		}
	}
	return d
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Decoded:      d.decoded.Load(),
		Failed:       d.failed.Load(),
		SchemaHits:   d.schemaHits.Load(),
		SchemaMisses: d.schemaMisses.Load(),
		MofFallbacks: d.mofFallbacks.Load(),
		Trailing:     d.trailing.Load(),
	}
}

// pointerSize returns the pointer width used for rec.
func (d *Decoder) pointerSize(rec *EventRecord) uint32 {
	if d.opts.PointerSize != 0 {
		return d.opts.PointerSize
	}
	return rec.PointerSize()
}

// Schema returns the validated schema of rec: from the cache, then the
// schema source, then the MOF registry. Cache entries are scoped to the
// record's pointer size.
func (d *Decoder) Schema(rec *EventRecord) (*TraceEventInfo, error) {
	return d.schema(rec, d.pointerSize(rec))
}

func (d *Decoder) schema(rec *EventRecord, pointerSize uint32) (*TraceEventInfo, error) {
	key := SchemaKeyOf(rec).WithPointerSize(pointerSize)
	if d.opts.Cache != nil {
		if tei, ok := d.opts.Cache.Get(key); ok {
			d.schemaHits.Add(1)
			return tei, nil
		}
	}
	d.schemaMisses.Add(1)

	blob, err := d.fetch(rec, pointerSize)
	if err != nil {
		return nil, err
	}
	tei, err := ParseTraceEventInfo(blob)
	if err != nil {
		return nil, err
	}
	if d.opts.Cache != nil {
		return d.opts.Cache.Put(key, tei)
	}
	if err := tei.Validate(); err != nil {
		return nil, err
	}
	return tei, nil
}

func (d *Decoder) fetch(rec *EventRecord, pointerSize uint32) ([]byte, error) {
	var srcErr error = ErrSchemaUnavailable
	if d.opts.Source != nil {
		blob, err := d.opts.Source.FetchSchema(rec)
		if err == nil {
			return blob, nil
		}
		srcErr = err
	}
	if d.opts.MofFallback {
		if blob, err := buildTraceInfoFromMof(rec, pointerSize); err == nil {
			d.mofFallbacks.Add(1)
			schemalog.Debug().Str("class", rec.EventHeader.ProviderId.String()).
				Uint8("opcode", rec.EventHeader.EventDescriptor.Opcode).
				Uint8("version", rec.EventHeader.EventDescriptor.Version).
				Msg("schema built from MOF class")
			return blob, nil
		}
	}
	if !errors.Is(srcErr, ErrSchemaUnavailable) {
		srcErr = fmt.Errorf("%w: %w", ErrSchemaUnavailable, srcErr)
	}
	return nil, srcErr
}

// Decode decodes the record's properties and extended data. The returned
// Event references rec.UserData; it is valid as long as the record is.
func (d *Decoder) Decode(rec *EventRecord) (*Event, error) {
	ev, err := d.decode(rec)
	if err != nil {
		d.failed.Add(1)
		conlog.SampledWarnWithErrSig("decode", err).
			Str("provider", rec.EventHeader.ProviderId.String()).
			Uint16("id", rec.EventHeader.EventDescriptor.Id).
			Uint8("opcode", rec.EventHeader.EventDescriptor.Opcode).
			Msg("failed to decode event")
		return nil, err
	}
	d.decoded.Add(1)
	return ev, nil
}

func (d *Decoder) decode(rec *EventRecord) (*Event, error) {
	pointerSize := d.pointerSize(rec)
	var tei *TraceEventInfo
	if rec.EventHeader.Flags&EVENT_HEADER_FLAG_STRING_ONLY == 0 {
		var err error
		if tei, err = d.schema(rec, pointerSize); err != nil {
			return nil, err
		}
	}
	data, err := decodeProperties(tei, rec, pointerSize)
	if err != nil {
		return nil, err
	}
	if len(data.Remaining) > 0 {
		d.trailing.Add(1)
	}

	ext, err := DecodeExtendedData(rec.ExtendedData)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		EventData:    data,
		ExtendedData: ext,
		UserData:     tei != nil && tei.Flags&TemplateUserData != 0,
		keep:         d.keep,
	}
	ev.System.set(rec, tei)
	return ev, nil
}
