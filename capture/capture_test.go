package capture

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tekert/etwdecode/etw"
)

var testProvider = *etw.MustParseGUID("{22FB2CD6-0E7B-422B-A0C7-2FAD1FD0E716}")

func testSchema(id uint16) []byte {
	return (&etw.SchemaBuilder{
		ProviderGUID: testProvider,
		Descriptor:   etw.EventDescriptor{Id: id, Version: 1, Level: 4},
		ProviderName: "Test-Provider",
		Properties: []etw.PropertyDef{
			{Name: "Port", InType: etw.TDH_INTYPE_UINT16, OutType: etw.TDH_OUTTYPE_PORT, Length: 2},
			{Name: "Count", InType: etw.TDH_INTYPE_UINT32, Length: 4},
		},
	}).Bytes()
}

func testRecord(id uint16, port byte) *etw.EventRecord {
	rec := &etw.EventRecord{UserData: []byte{0x00, port, 7, 0, 0, 0}}
	h := &rec.EventHeader
	h.ProviderId = testProvider
	h.EventDescriptor = etw.EventDescriptor{Id: id, Version: 1, Level: 4, Keyword: 0x10}
	h.ProcessId = 1234
	h.ThreadId = 5678
	h.TimeStamp = etw.QuadTimestamp(133000000000000000)
	h.ActivityId = *etw.MustParseGUID("{9E814AAD-3204-11D2-9A82-006008A86939}")
	rec.BufferContext.ProcessorNumber = 3
	return rec
}

func writeCapture(t *testing.T, compress bool, records ...*etw.EventRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, compress)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Write(rec, testSchema(rec.EventHeader.EventDescriptor.Id)))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, r *Reader) []*etw.EventRecord {
	t.Helper()
	var out []*etw.EventRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	split := testRecord(2, 80)
	split.EventHeader.TimeStamp = etw.SplitTimestamp(1, 0xFFFFFFFF)
	split.EventHeader.Flags = etw.EVENT_HEADER_FLAG_NO_CPUTIME
	split.EventHeader.ProcessorTime = 99
	split.ExtendedData = []etw.RawExtendedItem{{
		ExtType:  etw.EVENT_HEADER_EXT_TYPE_TS_ID,
		DataSize: 4,
		DataPtr:  0x7FF0_0000_1000,
		Data:     []byte{1, 0, 0, 0},
	}}
	records := []*etw.EventRecord{testRecord(1, 0x50), split, testRecord(1, 0x51)}

	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			t.Parallel()
			data := writeCapture(t, compress, records...)
			assert.Equal(t, compress, bytes.HasPrefix(data, zstdMagic))

			r, err := NewReader(bytes.NewReader(data))
			require.NoError(t, err)
			defer r.Close()

			got := readAll(t, r)
			require.Len(t, got, len(records))
			for i := range records {
				assert.Equal(t, records[i], got[i], "record %d", i)
			}
			assert.Equal(t, 2, r.Schemas().Len())
			assert.Equal(t, etw.SchemaKeyOf(split), etw.SchemaKeyOf(got[1]))
		})
	}
}

func TestSchemaWrittenOnce(t *testing.T) {
	t.Parallel()

	data := writeCapture(t, false, testRecord(1, 1), testRecord(1, 2), testRecord(1, 3))
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"kind":"schema"`)
	for _, l := range lines[1:] {
		assert.Contains(t, l, `"kind":"record"`)
	}
}

func TestDecodeFromCapture(t *testing.T) {
	t.Parallel()

	data := writeCapture(t, true, testRecord(1, 0x50), testRecord(2, 0x51))
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	d := etw.NewDecoder(etw.WithSchemaSource(r.Schemas()), etw.WithMofFallback(false))
	var ports []string
	for _, rec := range readAll(t, r) {
		ev, err := d.Decode(rec)
		require.NoError(t, err)
		// ports are network order on the wire
		port, err := ev.EventData.GetString("Port")
		require.NoError(t, err)
		ports = append(ports, port)
		assert.Equal(t, "Test-Provider", ev.System.Provider.Name)
		assert.Equal(t, uint32(1234), ev.System.Execution.ProcessID)
	}
	assert.Equal(t, []string{"80", "81"}, ports)
	assert.Equal(t, uint64(2), d.Stats().Decoded)
}

func TestMemorySourceMiss(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	rec := testRecord(1, 0)
	_, err := src.FetchSchema(rec)
	require.ErrorIs(t, err, etw.ErrSchemaUnavailable)

	src.Add(etw.SchemaKeyOf(rec), testSchema(1))
	blob, err := src.FetchSchema(rec)
	require.NoError(t, err)
	assert.Equal(t, testSchema(1), blob)

	// a different version is a different schema
	rec.EventHeader.EventDescriptor.Version = 2
	_, err = src.FetchSchema(rec)
	require.ErrorIs(t, err, etw.ErrSchemaUnavailable)
}

func TestMemorySourceReplace(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	cache := etw.NewSchemaCache()
	d := etw.NewDecoder(etw.WithSchemaSource(src), etw.WithSchemaCache(cache))

	rec := testRecord(1, 80)
	key := etw.SchemaKeyOf(rec)
	src.Add(key, testSchema(1))
	renamed := (&etw.SchemaBuilder{
		ProviderGUID: testProvider,
		Descriptor:   etw.EventDescriptor{Id: 1, Version: 1, Level: 4},
		Properties: []etw.PropertyDef{
			{Name: "LocalPort", InType: etw.TDH_INTYPE_UINT16, OutType: etw.TDH_OUTTYPE_PORT, Length: 2},
			{Name: "Count", InType: etw.TDH_INTYPE_UINT32, Length: 4},
		},
	}).Bytes()

	fieldNames := func() []string {
		ev, err := d.Decode(rec)
		require.NoError(t, err)
		var names []string
		for _, f := range ev.EventData.Fields {
			names = append(names, f.Name)
		}
		return names
	}

	assert.Equal(t, []string{"Port", "Count"}, fieldNames())
	src.Add(key, renamed)
	assert.Equal(t, 1, src.Len())
	assert.Equal(t, []string{"Port", "Count"}, fieldNames(), "cached schema is still served")

	cache.Purge()
	assert.Equal(t, []string{"LocalPort", "Count"}, fieldNames())
}

func TestReaderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"unknown kind", `{"kind":"bogus"}`, ErrUnknownKind},
		{"key mismatch", `{"kind":"record","schema":"x","provider":"{22FB2CD6-0E7B-422B-A0C7-2FAD1FD0E716}"}`, ErrKeyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(tt.input + "\n"))
			require.NoError(t, err)
			_, err = r.Next()
			require.ErrorIs(t, err, tt.want)
		})
	}

	r, err := NewReader(strings.NewReader("\n{not json\n"))
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	r, err = NewReader(strings.NewReader(`{"kind":"record","provider":"nope"}`))
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)

	// empty input is an empty capture
	r, err = NewReader(strings.NewReader(""))
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestCreateOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trace.jsonl.zst")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(testRecord(1, 9), testSchema(1)))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	got := readAll(t, r)
	require.NoError(t, r.Close())
	require.Len(t, got, 1)
	assert.Equal(t, testRecord(1, 9), got[0])
	assert.Equal(t, 2, r.Line())
}
