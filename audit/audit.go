// Package audit keeps an append-only, pipe-delimited record of pipeline
// stages for post-hoc reconciliation. Each event is exactly one line,
// safe for concurrent append.
package audit

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Stage identifies a pipeline step being recorded
type Stage string

// all stages written by extractor and downloader
const (
	SliderFound        Stage = "slider_found"
	SliderMissing      Stage = "slider_missing"
	ImageSelected      Stage = "image_selected"
	ExtractionComplete Stage = "extraction_complete"
	DownloadSuccess    Stage = "download_success"
	DownloadFailure    Stage = "download_failure"
	FetchFailure       Stage = "fetch_failure"
)

const header = "timestamp|stage|page_url|image_base|image_full|status|note"

// Event is a single audit record. Zero-value fields render as empty columns.
type Event struct {
	Stage     Stage
	PageURL   string
	ImageBase string
	ImageFull string
	Status    string
	Note      string
}

// Log appends events to a file, one line per event. Nil *Log is a valid
// no-op sink, so callers don't need to guard every append.
type Log struct {
	mu  sync.Mutex
	fh  *os.File
	now func() time.Time
}

// NewLog opens (or creates) the audit file and writes the column header
// for a fresh file
func NewLog(path string) (*Log, error) {
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // log file, not a secret
	if err != nil {
		return nil, fmt.Errorf("can't open audit log %s: %w", path, err)
	}
	st, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("can't stat audit log %s: %w", path, err)
	}
	res := &Log{fh: fh, now: time.Now}
	if st.Size() == 0 {
		if _, err = fh.WriteString(header + "\n"); err != nil {
			_ = fh.Close()
			return nil, fmt.Errorf("can't write audit header: %w", err)
		}
	}
	return res, nil
}

// Append writes one event line. Errors are logged, not returned, as audit
// failures should never abort the pipeline.
func (l *Log) Append(ev Event) {
	if l == nil {
		return
	}
	ts := l.now().UTC().Format(time.RFC3339)
	fields := []string{ts, string(ev.Stage), ev.PageURL, ev.ImageBase, ev.ImageFull, ev.Status, ev.Note}
	for i, f := range fields {
		// the pipe is the column separator, never allow it inside a field
		fields[i] = strings.ReplaceAll(strings.ReplaceAll(f, "|", "/"), "\n", " ")
	}
	line := strings.Join(fields, "|")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.fh.WriteString(line + "\n"); err != nil {
		log.Printf("[WARN] failed to append audit event %s, %v", ev.Stage, err)
	}
}

// Close the underlying file
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fh.Close()
}
