package capture

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/tekert/etwdecode/etw"
)

// Writer writes a capture. Schema blobs are written once per key.
// A Writer is not safe for concurrent use.
type Writer struct {
	bw     *bufio.Writer
	enc    *zstd.Encoder
	closer io.Closer
	seen   map[string]struct{}
	buf    []byte
}

// NewWriter returns a Writer on w. With compress set the output is a zstd stream.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	cw := &Writer{seen: make(map[string]struct{})}
	if compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		cw.enc = enc
		w = enc
	}
	cw.bw = bufio.NewWriterSize(w, 64*1024)
	return cw, nil
}

// Create creates the file at path. Paths ending in .zst are compressed.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, strings.HasSuffix(path, ".zst"))
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteSchema writes a schema line unless key was already written.
func (w *Writer) WriteSchema(key etw.SchemaKey, blob []byte) error {
	ks := key.String()
	if _, ok := w.seen[ks]; ok {
		return nil
	}
	if err := w.writeLine(&line{Kind: KindSchema, Key: ks, Blob: blob}); err != nil {
		return err
	}
	w.seen[ks] = struct{}{}
	return nil
}

// WriteRecord writes a record line.
func (w *Writer) WriteRecord(rec *etw.EventRecord) error {
	return w.writeLine(recordToLine(rec))
}

// Write writes the record, preceded by its schema when blob is not nil.
func (w *Writer) Write(rec *etw.EventRecord, blob []byte) error {
	if blob != nil {
		if err := w.WriteSchema(etw.SchemaKeyOf(rec), blob); err != nil {
			return err
		}
	}
	return w.WriteRecord(rec)
}

func (w *Writer) writeLine(l *line) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	w.buf = append(append(w.buf[:0], b...), '\n')
	_, err = w.bw.Write(w.buf)
	return err
}

// Close flushes buffered lines, ends the zstd stream and closes the file
// opened by Create.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
