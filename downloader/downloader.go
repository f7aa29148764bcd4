// Package downloader fetches resolved gallery images, verifies the payload
// looks like a real image and writes the bytes under deterministic names.
// A failed canonical URL is retried once against the full, query-preserving
// variant; one bad image never aborts the batch.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/kennygrant/sanitize"

	"github.com/slidepick/slidepick/audit"
	"github.com/slidepick/slidepick/extractor"
)

const (
	defaultMinSize = 500 // bytes, guards against tiny error pages served as 200 OK
	defaultWorkers = 4
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15"
)

// Outcome of a single image download attempt
type Outcome struct {
	Key          string `json:"key"`
	AttemptedURL string `json:"attempted_url"`
	Status       int    `json:"status"`
	ContentType  string `json:"content_type,omitempty"`
	Size         int    `json:"size"`
	File         string `json:"file,omitempty"`
	Succeeded    bool   `json:"succeeded"`
	UsedFallback bool   `json:"used_fallback"`
	Note         string `json:"note,omitempty"`
}

// Downloader runs verified image downloads with a bounded worker pool
type Downloader struct {
	TimeOut   time.Duration
	UserAgent string
	MinSize   int
	Workers   int
	Audit     *audit.Log
}

type job struct {
	idx   int // 1-based position in the resolved sequence
	group extractor.VariantGroup
}

type jobResult struct {
	idx     int
	outcome Outcome
}

// Download fetches every resolved group into outDir. Filenames are
// "<slug>_<index>.<ext>" when slug is given, "<index>_<basename>" otherwise.
// Outcomes come back in group order regardless of worker interleaving.
func (d *Downloader) Download(ctx context.Context, pageURL, outDir, slug string, groups []extractor.VariantGroup) ([]Outcome, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("can't create download dir %s: %w", outDir, err)
	}

	jobs := make(chan job)
	results := make(chan jobResult)

	var wg sync.WaitGroup
	for w := 0; w < d.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- jobResult{idx: j.idx, outcome: d.fetchOne(ctx, pageURL, outDir, slug, j)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, g := range groups {
			select {
			case jobs <- job{idx: i + 1, group: g}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, len(groups))
	seen := 0
	for r := range results {
		outcomes[r.idx-1] = r.outcome
		seen++
	}
	if seen < len(groups) && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return outcomes, nil
}

// fetchOne downloads a single group: canonical key first, full URL fallback
func (d *Downloader) fetchOne(ctx context.Context, pageURL, outDir, slug string, j job) Outcome {
	g := j.group
	out := Outcome{Key: g.Key, AttemptedURL: g.Key}

	status, ctype, data, err := d.get(ctx, g.Key)
	out.Status, out.ContentType, out.Size = status, ctype, len(data)
	if reason := d.validate(status, ctype, len(data), err); reason != "" {
		if g.BestURL != "" && g.BestURL != g.Key {
			log.Printf("[DEBUG] fallback for %s (%s), retry %s", g.Key, reason, g.BestURL)
			status, ctype, data, err = d.get(ctx, g.BestURL)
			out.AttemptedURL = g.BestURL
			out.UsedFallback = true
			out.Status, out.ContentType, out.Size = status, ctype, len(data)
			reason = d.validate(status, ctype, len(data), err)
		}
		if reason != "" {
			out.Note = reason
			log.Printf("[WARN] failed to download %s, %s", out.AttemptedURL, reason)
			d.Audit.Append(audit.Event{Stage: audit.DownloadFailure, PageURL: pageURL, ImageBase: g.Key,
				ImageFull: out.AttemptedURL, Status: "error", Note: reason})
			return out
		}
	}

	name := fileName(slug, j.idx, g.Key)
	fpath := filepath.Join(outDir, name)
	if err = os.WriteFile(fpath, data, 0o600); err != nil {
		out.Note = fmt.Sprintf("write failed: %v", err)
		log.Printf("[WARN] failed to write %s, %v", fpath, err)
		d.Audit.Append(audit.Event{Stage: audit.DownloadFailure, PageURL: pageURL, ImageBase: g.Key,
			ImageFull: out.AttemptedURL, Status: "error", Note: out.Note})
		return out
	}

	out.Succeeded = true
	out.File = name
	log.Printf("[INFO] saved %s status=%d type=%s size=%d", name, out.Status, out.ContentType, out.Size)
	d.Audit.Append(audit.Event{Stage: audit.DownloadSuccess, PageURL: pageURL, ImageBase: g.Key,
		ImageFull: out.AttemptedURL, Status: fmt.Sprintf("%d", out.Status), Note: fmt.Sprintf("size=%d", out.Size)})
	return out
}

// get issues a single GET with the browser-like identification header
func (d *Downloader) get(ctx context.Context, imgURL string) (status int, contentType string, data []byte, err error) {
	httpClient := &http.Client{Timeout: d.timeout()}
	req, err := http.NewRequestWithContext(ctx, "GET", imgURL, http.NoBody)
	if err != nil {
		return 0, "", nil, err
	}
	req.Close = true
	req.Header.Set("User-Agent", d.userAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer func() {
		if e := resp.Body.Close(); e != nil {
			log.Printf("[WARN] failed to close response body, error=%v", e)
		}
	}()

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header.Get("Content-Type"), nil, err
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), data, nil
}

// validate returns an empty string for a plausible image response,
// a reason otherwise
func (d *Downloader) validate(status int, contentType string, size int, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("fetch error: %v", err)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return fmt.Sprintf("status %d", status)
	case !strings.HasPrefix(contentType, "image/"):
		return fmt.Sprintf("non-image content-type %q", contentType)
	case size < d.minSize():
		return fmt.Sprintf("body too small, %d bytes", size)
	}
	return ""
}

// fileName builds the deterministic target name from sequence index and
// either the caller-supplied slug or the URL basename
func fileName(slug string, idx int, key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		ext = ".jpg"
	}
	if slug != "" {
		return fmt.Sprintf("%s_%d%s", sanitize.BaseName(slug), idx, ext)
	}
	base := key
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return fmt.Sprintf("%d_%s", idx, sanitize.Name(base))
}

func (d *Downloader) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return defaultWorkers
}

func (d *Downloader) minSize() int {
	if d.MinSize > 0 {
		return d.MinSize
	}
	return defaultMinSize
}

func (d *Downloader) timeout() time.Duration {
	if d.TimeOut > 0 {
		return d.TimeOut
	}
	return 30 * time.Second
}

func (d *Downloader) userAgent() string {
	if d.UserAgent != "" {
		return d.UserAgent
	}
	return userAgent
}
