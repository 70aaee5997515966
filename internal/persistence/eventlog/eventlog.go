// Package eventlog appends touch records and statistics reports to hourly
// zstd-compressed JSONL files.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Garsondee/Volley-Sense/internal/config"
	"github.com/Garsondee/Volley-Sense/internal/volley"
)

// Writer appends one JSON value per line to <dir>/<prefix>-<hour>.jsonl.zst,
// starting a new file every UTC hour.
type Writer struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v. Each line is flushed through the encoder so a crash
// loses at most the current frame.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

// Path is the file currently written to, or "" before the first Write.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curHour == "" {
		return ""
	}
	return w.pathForHour(w.curHour)
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// touchLine is a touch record plus the legacy text rendering.
type touchLine struct {
	volley.TouchRecord
	Line string `json:"line"`
}

// reportLine is a report plus one legacy text line per row.
type reportLine struct {
	volley.Report
	Lines []string `json:"lines"`
}

// Sink writes touch records and reports to two logs under one directory.
type Sink struct {
	touches *Writer
	reports *Writer
}

// NewSink opens (lazily) the touch and report logs named by the
// statistics prefixes.
func NewSink(dir string, cfg config.Statistics) *Sink {
	tp, rp := cfg.TouchLogPrefix, cfg.ReportLogPrefix
	if tp == "" {
		tp = "ballTouches"
	}
	if rp == "" {
		rp = "statistics"
	}
	return &Sink{touches: NewWriter(dir, tp), reports: NewWriter(dir, rp)}
}

func (s *Sink) WriteTouch(r volley.TouchRecord) error {
	return s.touches.Write(touchLine{TouchRecord: r, Line: r.Line()})
}

func (s *Sink) WriteReport(r volley.Report) error {
	line := reportLine{Report: r}
	for _, row := range r.Rows {
		line.Lines = append(line.Lines, row.Line())
	}
	return s.reports.Write(line)
}

// TouchPath and ReportPath are the files currently written to.
func (s *Sink) TouchPath() string  { return s.touches.Path() }
func (s *Sink) ReportPath() string { return s.reports.Path() }

func (s *Sink) Close() error {
	return errors.Join(s.touches.Close(), s.reports.Close())
}

// ReadLines decodes a log file and calls fn with each raw JSON line.
func ReadLines(path string, fn func(json.RawMessage) error) error {
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

	br := bufio.NewReader(dec)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			if ferr := fn(json.RawMessage(line)); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ReadTouches decodes every touch record in a touch log.
func ReadTouches(path string) ([]volley.TouchRecord, error) {
	var out []volley.TouchRecord
	err := ReadLines(path, func(raw json.RawMessage) error {
		var tl touchLine
		if err := json.Unmarshal(raw, &tl); err != nil {
			return err
		}
		out = append(out, tl.TouchRecord)
		return nil
	})
	return out, err
}

// ReadReports decodes every report in a statistics log.
func ReadReports(path string) ([]volley.Report, error) {
	var out []volley.Report
	err := ReadLines(path, func(raw json.RawMessage) error {
		var rl reportLine
		if err := json.Unmarshal(raw, &rl); err != nil {
			return err
		}
		out = append(out, rl.Report)
		return nil
	})
	return out, err
}
