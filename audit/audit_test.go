package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLog(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2025, 7, 14, 12, 30, 0, 0, time.UTC) }

	l.Append(Event{Stage: ImageSelected, PageURL: "https://shop/p", ImageBase: "https://cdn/a.jpg",
		ImageFull: "https://cdn/a.jpg?width=800", Status: "selected", Note: "width=800"})
	l.Append(Event{Stage: SliderMissing, PageURL: "https://shop/q", Status: "no_slider"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp|stage|page_url|image_base|image_full|status|note", lines[0])
	assert.Equal(t, "2025-07-14T12:30:00Z|image_selected|https://shop/p|https://cdn/a.jpg|"+
		"https://cdn/a.jpg?width=800|selected|width=800", lines[1])
	assert.Equal(t, "2025-07-14T12:30:00Z|slider_missing|https://shop/q|||no_slider|", lines[2])
}

func TestLogAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLog(path)
	require.NoError(t, err)
	l.Append(Event{Stage: SliderFound, PageURL: "https://shop/p", Status: "ok"})
	require.NoError(t, l.Close())

	// reopen, header should not repeat
	l, err = NewLog(path)
	require.NoError(t, err)
	l.Append(Event{Stage: ExtractionComplete, PageURL: "https://shop/p", Status: "count", Note: "images=3"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp|stage"))
}

func TestLogFieldEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLog(path)
	require.NoError(t, err)
	l.Append(Event{Stage: DownloadFailure, PageURL: "https://shop/p", Status: "error",
		Note: "bad|note\nwith newline"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 6, strings.Count(lines[1], "|"), "each event stays a single 7-column line")
}

func TestLogConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLog(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Append(Event{Stage: DownloadSuccess, PageURL: fmt.Sprintf("https://shop/%d/%d", i, j), Status: "200"})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1+16*25)
	for _, line := range lines[1:] {
		assert.Equal(t, 6, strings.Count(line, "|"), "event line should keep column structure: %s", line)
	}
}

func TestLogNilSafe(t *testing.T) {
	var l *Log
	assert.NotPanics(t, func() { l.Append(Event{Stage: SliderFound}) })
	assert.NoError(t, l.Close())
}
