package etw

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/tekert/etwdecode/internal/hexf"
)

// SchemaKey identifies an event class: the provider plus the packed
// descriptor. It works for both manifest and MOF events, the descriptor
// alone is not unique across providers.
type SchemaKey struct {
	Provider GUID
	high     uint64
	low      uint64
	ptr      uint8 // pointer size the schema was built for, 0 if any
}

// SchemaKeyOf returns the cache key of the record's event class.
func SchemaKeyOf(rec *EventRecord) SchemaKey {
	return NewSchemaKey(rec.EventHeader.ProviderId, &rec.EventHeader.EventDescriptor)
}

// NewSchemaKey packs a descriptor:
//
//	| 16 bits | 8 bits | 8 bits | 8 bits | 8 bits  | 16 bits |
//	| Task    | Opcode | Level  | Channel| Version | ID      |
//
// with the keyword mask in the high half (MOF classes need it).
func NewSchemaKey(provider GUID, desc *EventDescriptor) SchemaKey {
	low := uint64(desc.Id)
	low |= uint64(desc.Version) << 16
	low |= uint64(desc.Channel) << 24
	low |= uint64(desc.Level) << 32
	low |= uint64(desc.Opcode) << 40
	low |= uint64(desc.Task) << 48
	return SchemaKey{Provider: provider, high: desc.Keyword, low: low}
}

// WithPointerSize returns k scoped to one pointer size. MOF schemas lay
// out POINTER and SIZET fields with the producer's pointer size, so the
// same class needs one cache entry per size.
func (k SchemaKey) WithPointerSize(size uint32) SchemaKey {
	k.ptr = uint8(size)
	return k
}

// PointerSize returns the pointer size set by WithPointerSize, or 0.
func (k SchemaKey) PointerSize() uint32 { return uint32(k.ptr) }

func (k *SchemaKey) hash() uint64 {
	var b [guidSize + 17]byte
	k.Provider.AppendBinary(b[:0])
	binary.LittleEndian.PutUint64(b[guidSize:], k.low)
	binary.LittleEndian.PutUint64(b[guidSize+8:], k.high)
	b[guidSize+16] = k.ptr
	return xxhash.Sum64(b[:])
}

// String renders the key for logs and capture files. Capture keys carry no
// pointer size; scoped keys end in "/p4" or "/p8".
func (k SchemaKey) String() string {
	b := k.Provider.appendText(make([]byte, 0, 76))
	b = append(b, '/')
	b = hexf.AppendUint64PaddedU(b, k.low)
	b = append(b, '/')
	b = hexf.AppendUint64PaddedU(b, k.high)
	if k.ptr != 0 {
		b = append(b, '/', 'p', '0'+k.ptr%10)
	}
	return string(b)
}

const schemaCacheShards = 32

type schemaShard struct {
	mu sync.RWMutex
	m  map[SchemaKey]*TraceEventInfo
}

// SchemaCache memoizes validated schemas by event class. Lookups take a
// shard read lock; it is safe for concurrent use.
type SchemaCache struct {
	shards [schemaCacheShards]schemaShard
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewSchemaCache creates an empty cache.
func NewSchemaCache() *SchemaCache {
	c := &SchemaCache{}
	for i := range c.shards {
		c.shards[i].m = make(map[SchemaKey]*TraceEventInfo)
	}
	return c
}

func (c *SchemaCache) shard(k *SchemaKey) *schemaShard {
	return &c.shards[k.hash()%schemaCacheShards]
}

// Get returns the cached schema for k.
func (c *SchemaCache) Get(k SchemaKey) (*TraceEventInfo, bool) {
	s := c.shard(&k)
	s.mu.RLock()
	tei, ok := s.m[k]
	s.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return tei, ok
}

// Put validates tei and stores it under k. Invalid schemas are not cached.
// When another goroutine stored k first, its schema is kept and returned.
func (c *SchemaCache) Put(k SchemaKey, tei *TraceEventInfo) (*TraceEventInfo, error) {
	if err := tei.Validate(); err != nil {
		return nil, err
	}
	s := c.shard(&k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.m[k]; ok {
		return prev, nil
	}
	s.m[k] = tei
	schemalog.Debug().Str("key", k.String()).
		Str("provider", tei.ProviderName()).
		Str("event", tei.EventName()).
		Msg("schema cached")
	return tei, nil
}

// Len returns the number of cached schemas.
func (c *SchemaCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Purge drops every cached schema.
func (c *SchemaCache) Purge() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.m)
		s.mu.Unlock()
	}
}

// Stats returns the hit and miss counters.
func (c *SchemaCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
