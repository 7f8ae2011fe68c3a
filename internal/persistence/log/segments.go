package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"palbridge.ai/internal/sim/primitives"
)

const segmentHour = "2006-01-02-15"

// segmentWriter appends outcomes to one zstd segment per UTC hour. Each
// process that opens a segment adds its own frame; ReadTrace reads them back
// as one stream.
type segmentWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	hour    string
	records int
	f       *os.File
	zw      *zstd.Encoder
	buf     *bufio.Writer
	enc     *json.Encoder
}

func newSegmentWriter(dir, prefix string) *segmentWriter {
	return &segmentWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *segmentWriter) path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// current is the open segment path and how many outcomes this writer put in
// it. Empty before the first append.
func (w *segmentWriter) current() (string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hour == "" {
		return "", 0
	}
	return w.path(w.hour), w.records
}

func (w *segmentWriter) append(o primitives.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format(segmentHour); hour != w.hour {
		if err := w.open(hour); err != nil {
			return fmt.Errorf("trace segment %s: %w", hour, err)
		}
	}
	// Encode writes the trailing newline.
	if err := w.enc.Encode(o); err != nil {
		return err
	}
	w.records++
	return w.buf.Flush()
}

func (w *segmentWriter) open(hour string) error {
	if err := w.closeSegment(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.zw = f, zw
	w.buf = bufio.NewWriterSize(zw, 64*1024)
	w.enc = json.NewEncoder(w.buf)
	w.hour, w.records = hour, 0
	return nil
}

// closeSegment ends the zstd frame; every error on the way is reported.
func (w *segmentWriter) closeSegment() error {
	var errs []error
	if w.buf != nil {
		errs = append(errs, w.buf.Flush())
	}
	if w.zw != nil {
		errs = append(errs, w.zw.Close())
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
	}
	w.f, w.zw, w.buf, w.enc = nil, nil, nil, nil
	w.hour, w.records = "", 0
	return errors.Join(errs...)
}

func (w *segmentWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment()
}
