package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/psaab/vtnflow/pkg/config"
)

// DefaultTraceDir holds trace files configured with a relative path.
const DefaultTraceDir = "/var/log/vtnflow"

// TraceWriter writes matching trace records to a size-rotated file.
type TraceWriter struct {
	mu    sync.Mutex
	out   *lumberjack.Logger
	path  string
	flags map[string]bool
}

// NewTraceWriter opens the trace file described by opts. Sizes round up to
// whole megabytes; FileCount counts the live file and its backups.
func NewTraceWriter(opts *config.Traceoptions) (*TraceWriter, error) {
	if opts == nil || opts.File == "" {
		return nil, fmt.Errorf("no trace file specified")
	}

	path := opts.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(DefaultTraceDir, path)
	}
	const mb = 1024 * 1024
	maxSize := 10
	if opts.FileSize > 0 {
		maxSize = int((opts.FileSize + mb - 1) / mb)
	}
	backups := 2
	if opts.FileCount > 1 {
		backups = opts.FileCount - 1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	tw := &TraceWriter{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: backups,
			LocalTime:  true,
		},
		path:  path,
		flags: make(map[string]bool),
	}
	for _, f := range opts.Flags {
		tw.flags[f] = true
	}
	if len(tw.flags) == 0 {
		tw.flags["all"] = true
	}
	return tw, nil
}

// Path returns the resolved trace file path.
func (tw *TraceWriter) Path() string { return tw.path }

// Close closes the trace file.
func (tw *TraceWriter) Close() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.out != nil {
		tw.out.Close()
		tw.out = nil
	}
}

// Run writes records from sub until its channel is closed.
func (tw *TraceWriter) Run(sub *Subscription) {
	for rec := range sub.C {
		tw.Write(rec)
	}
}

// Write appends rec to the trace file if it matches the configured flags.
func (tw *TraceWriter) Write(rec TraceRecord) {
	if !tw.match(&rec) {
		return
	}
	line := formatTrace(&rec)

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.out == nil {
		return
	}
	tw.out.Write([]byte(line))
}

func (tw *TraceWriter) match(rec *TraceRecord) bool {
	if tw.flags["all"] {
		return true
	}
	switch rec.Type {
	case TypeLog:
		return tw.flags["log"]
	case TypeDecision:
		switch {
		case tw.flags["decision"]:
			return true
		case rec.Reason != "":
			return tw.flags["drop"]
		default:
			return tw.flags["redirect"] && rec.Hops > 0
		}
	}
	return false
}

func formatTrace(rec *TraceRecord) string {
	ts := rec.Time.Format("2006-01-02 15:04:05.000")
	if rec.Type == TypeLog {
		return fmt.Sprintf("%s %-8s %s %s\n", ts, rec.Type, rec.Level, rec.Message)
	}
	verdict := rec.Verdict
	if rec.Reason != "" {
		verdict += "(" + rec.Reason + ")"
	}
	return fmt.Sprintf("%s %-8s %s %s hops=%d path=[%s] %s\n",
		ts, rec.Type, rec.Location, verdict, rec.Hops, strings.Join(rec.Path, ", "), rec.Fields)
}
