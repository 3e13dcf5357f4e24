package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/tekert/etwdecode/etw"
)

const maxLineSize = 16 << 20

// Reader reads records from a capture. Schema lines are collected into
// Schemas as they are read, so a record's schema is available by the time
// Next returns it.
type Reader struct {
	sc      *bufio.Scanner
	dec     *zstd.Decoder
	closer  io.Closer
	schemas *MemorySource
	line    int
	failed  bool
}

// NewReader returns a Reader on r. zstd input is detected from the frame magic.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	cr := &Reader{schemas: NewMemorySource()}

	var src io.Reader = br
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		cr.dec = dec
		src = dec
	}
	cr.sc = bufio.NewScanner(src)
	cr.sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return cr, nil
}

// Open opens the capture file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next record, or io.EOF after the last one. A malformed
// line is reported and skipped; a read error is reported once and ends the
// capture.
func (r *Reader) Next() (*etw.EventRecord, error) {
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, fmt.Errorf("capture: line %d: %w", r.line, err)
		}
		switch l.Kind {
		case KindSchema:
			r.schemas.add(l.Key, l.Blob)
		case KindRecord:
			rec, err := l.record()
			if err != nil {
				return nil, fmt.Errorf("capture: line %d: %w", r.line, err)
			}
			return rec, nil
		default:
			return nil, fmt.Errorf("%w %q at line %d", ErrUnknownKind, l.Kind, r.line)
		}
	}
	if err := r.sc.Err(); err != nil && !r.failed {
		r.failed = true
		return nil, fmt.Errorf("capture: line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Schemas returns the schema blobs read so far.
func (r *Reader) Schemas() *MemorySource {
	return r.schemas
}

// Line returns the number of the last line read.
func (r *Reader) Line() int {
	return r.line
}

// Close releases the zstd decoder and closes the file opened by Open.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
