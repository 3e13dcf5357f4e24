package capture

import (
	"fmt"
	"sync"

	"github.com/tekert/etwdecode/etw"
)

// MemorySource serves schema blobs collected from a capture. It implements
// etw.SchemaSource and is safe for concurrent use.
type MemorySource struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ etw.SchemaSource = (*MemorySource)(nil)

func NewMemorySource() *MemorySource {
	return &MemorySource{blobs: make(map[string][]byte)}
}

// Add registers blob under key, replacing any previous blob. Decoders
// that already cached the key keep the old schema until their
// etw.SchemaCache is purged.
func (s *MemorySource) Add(key etw.SchemaKey, blob []byte) {
	s.add(key.String(), blob)
}

func (s *MemorySource) add(key string, blob []byte) {
	s.mu.Lock()
	s.blobs[key] = blob
	s.mu.Unlock()
}

// FetchSchema returns the blob stored under the record's schema key.
func (s *MemorySource) FetchSchema(rec *etw.EventRecord) ([]byte, error) {
	key := etw.SchemaKeyOf(rec).String()
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no blob for %s", etw.ErrSchemaUnavailable, key)
	}
	return blob, nil
}

// Len returns the number of stored blobs.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
