// Command etwdecode decodes a capture of raw event records into one JSON
// object per line.
//
//	etwdecode -gen demo.jsonl.zst
//	etwdecode -in demo.jsonl.zst -stats
//	etwdecode -in trace.jsonl -fields Pid,Path -ids 1,2 -debug lite
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	plog "github.com/phuslu/log"

	"github.com/tekert/etwdecode/capture"
	"github.com/tekert/etwdecode/etw"
	"github.com/tekert/etwdecode/internal/hexf"
	"github.com/tekert/etwdecode/logsampler"
)

// --- Custom Flag Types ---

// fieldList is a comma-separated list of property names. It can be given
// more than once.
type fieldList []string

func (f *fieldList) String() string {
	return strings.Join(*f, ",")
}

func (f *fieldList) Set(value string) error {
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*f = append(*f, name)
		}
	}
	return nil
}

// idList is a custom flag type for comma-separated lists of uint16.
type idList []uint16

func (i *idList) String() string {
	if i == nil || len(*i) == 0 {
		return ""
	}
	s := make([]string, len(*i))
	for j, v := range *i {
		s[j] = strconv.Itoa(int(v))
	}
	return strings.Join(s, ",")
}

func (i *idList) Set(value string) error {
	if value == "" {
		*i = nil
		return nil
	}
	parts := strings.Split(value, ",")
	ids := make([]uint16, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return fmt.Errorf("invalid ID '%s': %w", part, err)
		}
		ids = append(ids, uint16(val))
	}
	*i = ids
	return nil
}

func (i idList) set() map[uint16]struct{} {
	if len(i) == 0 {
		return nil
	}
	m := make(map[uint16]struct{}, len(i))
	for _, id := range i {
		m[id] = struct{}{}
	}
	return m
}

// debugLevel is "", "lite" or "full".
type debugLevel string

func (d *debugLevel) String() string { return string(*d) }

func (d *debugLevel) Set(value string) error {
	switch value {
	case "", "lite", "full":
		*d = debugLevel(value)
		return nil
	}
	return fmt.Errorf("invalid debug level '%s': must be 'lite' or 'full'", value)
}

// logLevel sets the level of the library loggers.
type logLevel struct {
	level plog.Level
	set   bool
}

var logLevels = map[string]plog.Level{
	"trace": plog.TraceLevel,
	"debug": plog.DebugLevel,
	"info":  plog.InfoLevel,
	"warn":  plog.WarnLevel,
	"error": plog.ErrorLevel,
}

func (l *logLevel) String() string {
	if !l.set {
		return ""
	}
	for name, lvl := range logLevels {
		if lvl == l.level {
			return name
		}
	}
	return ""
}

func (l *logLevel) Set(value string) error {
	lvl, ok := logLevels[strings.ToLower(value)]
	if !ok {
		return fmt.Errorf("invalid log level '%s'", value)
	}
	l.level, l.set = lvl, true
	return nil
}

// --- Main Application Logic ---

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	in, out, gen string
	fields       fieldList
	ids          idList
	debug        debugLevel
	log          logLevel
	logLimit     int
	stats, noMof bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("etwdecode", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.in, "in", "", "Capture to decode (.jsonl or .jsonl.zst). Use '-' for stdin.")
	fs.StringVar(&o.out, "out", "", "Write decoded events to this file instead of stdout.")
	fs.StringVar(&o.gen, "gen", "", "Write a demo capture to this path and exit.")
	fs.Var(&o.fields, "fields", "Comma-separated property names to keep in the output.")
	fs.Var(&o.ids, "ids", "Comma-separated list of Event IDs to output (e.g., '1,2,10').")
	fs.Var(&o.debug, "debug", "Set debug output level ('lite' or 'full').")
	fs.Var(&o.log, "log", "Library log level (trace, debug, info, warn, error).")
	fs.IntVar(&o.logLimit, "log-limit", 0, "Write at most this many decode warnings per second. Default is a per-key backoff.")
	fs.BoolVar(&o.stats, "stats", false, "Print decoder statistics to stderr when done.")
	fs.BoolVar(&o.noMof, "no-mof", false, "Do not decode classic kernel events from the built-in MOF classes.")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: etwdecode [options]\n\n")
		fmt.Fprintln(stderr, "Decodes raw event records and their schemas into JSON lines.")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "\nExamples:")
		fmt.Fprintln(stderr, "  etwdecode -gen demo.jsonl.zst")
		fmt.Fprintln(stderr, "  etwdecode -in demo.jsonl.zst -stats")
		fmt.Fprintln(stderr, "  etwdecode -in demo.jsonl.zst -fields Port,Addr -ids 1")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.in == "" && o.gen == "" {
		fs.Usage()
		return nil, errors.New("no input specified. Use -in or -gen")
	}
	if o.in != "" && o.gen != "" {
		return nil, errors.New("-in and -gen cannot be used together")
	}
	return &o, nil
}

type errorLine struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if o.log.set {
		etw.SetLogLevelsAll(o.log.level)
	}
	if o.logLimit > 0 {
		etw.SetSampler(logsampler.NewWindowSampler(o.logLimit, time.Second))
	}

	if o.gen != "" {
		n, err := writeDemo(o.gen)
		if err != nil {
			return fmt.Errorf("writing demo capture: %w", err)
		}
		fmt.Fprintf(stderr, "Wrote %d records to %s\n", n, o.gen)
		return nil
	}

	var r *capture.Reader
	if o.in == "-" {
		r, err = capture.NewReader(stdin)
	} else {
		r, err = capture.Open(o.in)
	}
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer r.Close()

	out := stdout
	if o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)

	d := etw.NewDecoder(
		etw.WithSchemaSource(r.Schemas()),
		etw.WithMofFallback(!o.noMof),
		etw.WithFieldFilter(o.fields...),
	)
	ids := o.ids.set()

	var (
		buf     []byte
		records int
		skipped int
	)
	for index := 0; ; index++ {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if err := writeError(bw, index, err); err != nil {
				return err
			}
			continue
		}
		records++

		if o.debug != "" {
			debugRecord(stderr, d, o.debug, index, rec)
		}

		ev, err := d.Decode(rec)
		if err != nil {
			if err := writeError(bw, index, err); err != nil {
				return err
			}
			continue
		}
		if ids != nil {
			if _, ok := ids[ev.System.EventID]; !ok {
				skipped++
				continue
			}
		}
		if buf, err = ev.AppendJSON(buf[:0]); err != nil {
			return fmt.Errorf("rendering record %d: %w", index, err)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if o.stats {
		printStats(stderr, d.Stats(), records, skipped, r.Schemas().Len())
	}
	return nil
}

func writeError(w io.Writer, index int, err error) error {
	b, merr := json.Marshal(errorLine{Index: index, Error: err.Error()})
	if merr != nil {
		return merr
	}
	_, werr := w.Write(append(b, '\n'))
	return werr
}

func debugRecord(w io.Writer, d *etw.Decoder, level debugLevel, index int, rec *etw.EventRecord) {
	h := &rec.EventHeader
	switch level {
	case "lite":
		fmt.Fprintf(w, "[DEBUG] Record %d: Provider=%s, ID=%d, Opcode=%d, Flags=0x%04X, UserDataLen=%d, UserData=%s\n",
			index, h.ProviderId.String(), h.EventDescriptor.Id, h.EventDescriptor.Opcode,
			h.Flags, len(rec.UserData), hexf.EncodeToStringUPrefix(rec.UserData))
	case "full":
		fmt.Fprintln(w, "--- DEBUG EventRecord ---")
		recBytes, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(w, string(recBytes))
		if h.Flags&etw.EVENT_HEADER_FLAG_STRING_ONLY != 0 {
			break
		}
		fmt.Fprintln(w, "--- DEBUG TraceEventInfo ---")
		tei, err := d.Schema(rec)
		if err != nil {
			fmt.Fprintf(w, "  schema: %v\n", err)
			break
		}
		fmt.Fprintf(w, "  Provider=%s Event=%s Task=%s Opcode=%s Source=%s\n",
			tei.ProviderName(), tei.EventName(), tei.TaskName(), tei.OpcodeName(), tei.DecodingSource)
		for i := 0; i < int(tei.PropertyCount); i++ {
			p := tei.Property(i)
			if p.IsStruct() {
				fmt.Fprintf(w, "  [%d] %s struct members=%d..%d\n", i, tei.PropertyName(i),
					p.StructStartIndex(), int(p.StructStartIndex())+int(p.NumOfStructMembers())-1)
				continue
			}
			fmt.Fprintf(w, "  [%d] %s %s/%s\n", i, tei.PropertyName(i), p.InType(), p.OutType())
		}
	}
	fmt.Fprintln(w, "--------------------------")
}

func printStats(w io.Writer, st etw.DecoderStats, records, skipped, schemas int) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "\n--- Decoder Statistics ---")
	fmt.Fprintf(tw, "Records read:\t%d\n", records)
	fmt.Fprintf(tw, "Decoded:\t%d\n", st.Decoded)
	fmt.Fprintf(tw, "Failed:\t%d\n", st.Failed)
	fmt.Fprintf(tw, "Filtered by ID:\t%d\n", skipped)
	fmt.Fprintf(tw, "Schemas in capture:\t%d\n", schemas)
	fmt.Fprintf(tw, "Schema cache hits:\t%d\n", st.SchemaHits)
	fmt.Fprintf(tw, "Schema cache misses:\t%d\n", st.SchemaMisses)
	fmt.Fprintf(tw, "MOF fallbacks:\t%d\n", st.MofFallbacks)
	fmt.Fprintf(tw, "Events with trailing bytes:\t%d\n", st.Trailing)
}
