// Package extractor resolves the real media URLs of a product image gallery
// embedded in an HTML page: candidate discovery inside a located container,
// srcset best-variant selection, canonical-key deduplication.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/go-pkgz/lgr"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/slidepick/slidepick/audit"
	"github.com/slidepick/slidepick/datastore"
)

// rulesProvider interface with all methods to access the locator store
type rulesProvider interface {
	Get(ctx context.Context, rURL string) (datastore.Rule, bool)
	GetByID(ctx context.Context, id primitive.ObjectID) (datastore.Rule, bool)
	Save(ctx context.Context, rule datastore.Rule) (datastore.Rule, error)
	Disable(ctx context.Context, id primitive.ObjectID) error
	All(ctx context.Context) []datastore.Rule
}

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15"

// Gallery fetches product pages and resolves gallery images. Rules, when
// configured, override the default locator per domain.
type Gallery struct {
	TimeOut        time.Duration
	UserAgent      string
	DefaultLocator Locator
	DefaultOptions Options
	Rules          rulesProvider
	Audit          *audit.Log
}

// Response from an extraction call
type Response struct {
	URL         string         `json:"url"`
	Domain      string         `json:"domain"`
	Title       string         `json:"title,omitempty"`
	Found       bool           `json:"found"`
	Images      []VariantGroup `json:"images"`
	ContentType string         `json:"type,omitempty"`
	Charset     string         `json:"charset,omitempty"`
}

// Extract fetches the page and resolves gallery images using the stored rule
// for the page's domain when available, the default locator otherwise
func (g *Gallery) Extract(ctx context.Context, reqURL string) (*Response, error) {
	loc, opts := g.locatorFor(ctx, reqURL)
	return g.extract(ctx, reqURL, loc, opts)
}

// ExtractWithLocator fetches the page and resolves gallery images under the
// caller-supplied locator, bypassing the rule store
func (g *Gallery) ExtractWithLocator(ctx context.Context, reqURL string, loc Locator, opts Options) (*Response, error) {
	return g.extract(ctx, reqURL, loc, opts)
}

func (g *Gallery) extract(ctx context.Context, reqURL string, loc Locator, opts Options) (*Response, error) {
	log.Printf("[INFO] extract gallery from %s, locator %s", reqURL, loc)

	body, finalURL, contentType, encoding, err := g.fetchPage(ctx, reqURL)
	if err != nil {
		g.Audit.Append(audit.Event{Stage: audit.FetchFailure, PageURL: reqURL, Status: "error", Note: err.Error()})
		return nil, err
	}

	rb := &Response{URL: finalURL, ContentType: contentType, Charset: encoding}
	if u, e := url.Parse(finalURL); e == nil {
		rb.Domain = u.Host
	}
	if dbody, e := goquery.NewDocumentFromReader(strings.NewReader(body)); e == nil {
		rb.Title = strings.TrimSpace(dbody.Find("title").First().Text())
	}

	res, err := Resolve(body, loc, finalURL, opts)
	if err != nil {
		log.Printf("[WARN] failed to parse %s, error=%v", reqURL, err)
		return nil, err
	}
	rb.Found = res.Found
	rb.Images = res.Groups

	if !res.Found {
		log.Printf("[INFO] no gallery container %s in %s", loc, reqURL)
		g.Audit.Append(audit.Event{Stage: audit.SliderMissing, PageURL: reqURL, Status: "no_slider",
			Note: fmt.Sprintf("container %s not found", loc)})
		return rb, nil
	}

	g.Audit.Append(audit.Event{Stage: audit.SliderFound, PageURL: reqURL, Status: "ok"})
	for _, gr := range res.Groups {
		g.Audit.Append(audit.Event{Stage: audit.ImageSelected, PageURL: reqURL, ImageBase: gr.Key,
			ImageFull: gr.BestURL, Status: "selected", Note: fmt.Sprintf("width=%d", gr.BestWidth)})
	}
	g.Audit.Append(audit.Event{Stage: audit.ExtractionComplete, PageURL: reqURL, Status: "count",
		Note: fmt.Sprintf("images=%d", len(res.Groups))})

	log.Printf("[INFO] resolved %d images from %s", len(res.Groups), reqURL)
	return rb, nil
}

// fetchPage gets the page body with the browser-like identification header.
// Non-2xx and network errors surface to the caller - page fetch is not retried.
func (g *Gallery) fetchPage(ctx context.Context, reqURL string) (body, finalURL, contentType, encoding string, err error) {
	httpClient := &http.Client{Timeout: g.TimeOut}
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, http.NoBody)
	if err != nil {
		log.Printf("[WARN] failed to create request for %s, error=%v", reqURL, err)
		return "", "", "", "", err
	}
	req.Close = true
	req.Header.Set("User-Agent", g.userAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Printf("[WARN] failed to get anything from %s, error=%v", reqURL, err)
		return "", "", "", "", err
	}
	defer func() {
		if e := resp.Body.Close(); e != nil {
			log.Printf("[WARN] failed to close response body, error=%v", e)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", "", "", "", fmt.Errorf("failed to fetch %s: status %d", reqURL, resp.StatusCode)
	}

	dataBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[WARN] failed to read data from %s, error=%v", reqURL, err)
		return "", "", "", "", err
	}

	contentType, encoding, body = g.toUtf8(dataBytes, resp.Header)
	return body, resp.Request.URL.String(), contentType, encoding, nil
}

// locatorFor checks the rule store for a per-domain override, falling back to
// the configured default
func (g *Gallery) locatorFor(ctx context.Context, reqURL string) (Locator, Options) {
	if g.Rules == nil {
		return g.DefaultLocator, g.DefaultOptions
	}
	rule, found := g.Rules.Get(ctx, reqURL)
	if !found {
		return g.DefaultLocator, g.DefaultOptions
	}
	log.Printf("[DEBUG] custom locator rule for %s: %v", reqURL, rule)
	loc := Locator{Tag: rule.Tag, Kind: rule.Kind, Value: rule.Value}
	opts := Options{CollectBoth: rule.CollectBoth, IncludeAnchors: rule.IncludeAnchors, LazyAttrs: rule.LazyAttrs}
	return loc, opts
}

func (g *Gallery) userAgent() string {
	if g.UserAgent != "" {
		return g.UserAgent
	}
	return userAgent
}
