package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"palbridge.ai/internal/sim/primitives"
)

const tracePrefix = "primitives"

// TraceLogger writes one JSON line per primitive outcome into hourly
// primitives-YYYY-MM-DD-HH.jsonl.zst segments under dir.
type TraceLogger struct{ w *segmentWriter }

func NewTraceLogger(dir string) *TraceLogger {
	return &TraceLogger{w: newSegmentWriter(dir, tracePrefix)}
}

func (l *TraceLogger) Record(o primitives.Outcome) error { return l.w.append(o) }
func (l *TraceLogger) Close() error                      { return l.w.close() }

// Segment reports the segment being written and how many outcomes this
// logger has put in it.
func (l *TraceLogger) Segment() (string, int) { return l.w.current() }

// TraceFiles lists the trace files in dir, oldest first.
func TraceFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, tracePrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadTrace decodes every outcome in one trace file. fn returning an error
// stops the scan.
func ReadTrace(path string, fn func(primitives.Outcome) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var o primitives.Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return sc.Err()
}
