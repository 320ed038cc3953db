package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/tekert/gomtrace/internal/hexf"
	"github.com/tekert/gomtrace/mtrace"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		traceFile  string
		jsonOut    bool
		sqlitePath string
		records    bool
		debug      bool
	)

	fs := flag.NewFlagSet("tracedump", flag.ContinueOnError)
	fs.StringVar(&traceFile, "f", "", "Path to the method trace file to read.")
	fs.BoolVar(&jsonOut, "json", false, "Print the decoded trace as JSON.")
	fs.StringVar(&sqlitePath, "sqlite", "", "Export threads, methods and records into this sqlite database.")
	fs.BoolVar(&records, "records", false, "Also print every record in text mode.")
	fs.BoolVar(&debug, "debug", false, "Enable debug logging of the trace reader.")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tracedump -f <trace file> [options]\n\n")
		fmt.Fprintln(fs.Output(), "Decodes a method trace and prints a per-method summary.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  tracedump -f app.trace")
		fmt.Fprintln(fs.Output(), "  tracedump -f app.trace -json > app.json")
		fmt.Fprintln(fs.Output(), "  tracedump -f app.trace -sqlite app.db")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if traceFile == "" {
		fs.Usage()
		return fmt.Errorf("no trace file specified, use -f")
	}

	if debug {
		mtrace.SetLogDebugLevel()
	}

	tf, err := mtrace.ReadTraceFile(traceFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", traceFile, err)
	}

	if sqlitePath != "" {
		if err := exportSQLite(sqlitePath, tf); err != nil {
			return fmt.Errorf("sqlite export: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", len(tf.Records), sqlitePath)
	}

	if jsonOut {
		return printJSON(stdout, tf)
	}
	printText(stdout, tf, records)
	return nil
}

// jsonTrace is the -json document.
type jsonTrace struct {
	Start   time.Time      `json:"start"`
	Header  mtrace.Header  `json:"header"`
	Footer  mtrace.Footer  `json:"footer"`
	Profile []*methodStats `json:"profile"`
	Records []jsonRecord   `json:"records"`
}

type jsonRecord struct {
	Thread uint16 `json:"thread"`
	Method string `json:"method"`
	Action string `json:"action"`
	CPU    uint32 `json:"cpuUsec,omitempty"`
	Wall   uint32 `json:"wallUsec,omitempty"`
}

func printJSON(w io.Writer, tf *mtrace.TraceFile) error {
	doc := jsonTrace{
		Start:   time.UnixMicro(int64(tf.Header.StartMicros)).UTC(),
		Header:  tf.Header,
		Footer:  tf.Footer,
		Profile: profile(tf),
		Records: make([]jsonRecord, len(tf.Records)),
	}
	for i, r := range tf.Records {
		doc.Records[i] = jsonRecord{
			Thread: r.ThreadID,
			Method: hexf.Num32p(r.Method, true),
			Action: r.Action.String(),
			CPU:    r.ThreadCPUDelta,
			Wall:   r.WallDelta,
		}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printText(out io.Writer, tf *mtrace.TraceFile, withRecords bool) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	f := &tf.Footer
	fmt.Fprintf(w, "Version:\t%d\n", f.Version)
	fmt.Fprintf(w, "Clock:\t%s\n", f.Clock)
	fmt.Fprintf(w, "VM:\t%s\n", f.VM)
	fmt.Fprintf(w, "Start:\t%s\n", time.UnixMicro(int64(tf.Header.StartMicros)).UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Elapsed:\t%s\n", time.Duration(f.ElapsedMicros)*time.Microsecond)
	fmt.Fprintf(w, "Records:\t%d\n", len(tf.Records))
	fmt.Fprintf(w, "Overflow:\t%t\n", f.Overflow)
	fmt.Fprintf(w, "Clock overhead:\t%dns\n", f.ClockOverheadNsec)
	if f.Allocs != nil {
		fmt.Fprintf(w, "Allocations:\t%d objects, %d bytes, %d GCs\n", f.Allocs.Count, f.Allocs.Size, f.Allocs.GCInvokes)
	}
	for k, v := range f.Extra {
		fmt.Fprintf(w, "%s:\t%s\n", k, v)
	}

	fmt.Fprintln(w, "\nThreads:")
	for _, t := range f.Threads {
		fmt.Fprintf(w, "  %d\t%s\n", t.ID, t.Name)
	}

	fmt.Fprintln(w, "\nMethods:")
	fmt.Fprintln(w, "  ID\tCalls\tUnwinds\tWall(µs)\tCPU(µs)\tMethod")
	for _, s := range profile(tf) {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\t%s.%s %s\n",
			hexf.Num32p(s.ID, true), s.Calls, s.Unwinds, s.InclusiveWall, s.InclusiveCPU, s.Class, s.Name, s.Signature)
	}

	if !withRecords {
		return
	}
	names := make(map[mtrace.MethodID]string, len(f.Methods))
	for _, m := range f.Methods {
		names[m.ID] = m.DeclaringClass + "." + m.Name
	}
	depth := make(map[uint16]int)
	fmt.Fprintln(w, "\nRecords:")
	fmt.Fprintln(w, "  Thread\tWall(µs)\tCPU(µs)\tEvent")
	for _, r := range tf.Records {
		d := depth[r.ThreadID]
		if r.Action != mtrace.ActionEnter && d > 0 {
			d--
		}
		fmt.Fprintf(w, "  %d\t%d\t%d\t%s%s %s\n", r.ThreadID, r.WallDelta, r.ThreadCPUDelta,
			strings.Repeat("  ", d), r.Action, names[r.Method])
		if r.Action == mtrace.ActionEnter {
			d++
		}
		depth[r.ThreadID] = d
	}
}
