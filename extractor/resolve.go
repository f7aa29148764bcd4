package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/go-pkgz/lgr"
)

// VariantGroup is the set of raw candidates collapsing to one canonical key.
// Key is the truncated, query-free URL used for grouping (and as the primary
// download target); BestURL keeps the full URL of the widest member, query
// string included, which serves as the download fallback.
type VariantGroup struct {
	Key       string `json:"key"`
	BestURL   string `json:"url"`
	BestWidth int    `json:"width"`
	Members   int    `json:"members"`
}

// Result is the ordered, duplicate-free output of one resolution pass.
// Groups keep the order each key was first observed, regardless of later
// width updates, so enumeration is stable and deterministic.
type Result struct {
	Found  bool           `json:"found"`
	Groups []VariantGroup `json:"images"`
}

// Resolve is the single entry point for in-memory resolution: parse the
// html, gather candidates under the locator, group them by canonical key
// and keep the max-width member per group. A missing container yields
// Found=false with no groups and no error.
func Resolve(html string, loc Locator, baseURL string, opts Options) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse html: %w", err)
	}

	var base *url.URL
	if baseURL != "" {
		u, e := url.Parse(baseURL)
		if e != nil {
			log.Printf("[WARN] failed to parse base url %s, relative candidates stay unresolved, %v", baseURL, e)
		} else {
			base = u
		}
	}

	cands, found := gather(gqDocument{doc: doc}, loc, base, opts)
	if !found {
		return Result{Found: false}, nil
	}
	return Result{Found: true, Groups: fold(cands)}, nil
}

// fold groups candidates by canonical key, replacing the best member only on
// strictly greater width (ties keep first-seen)
func fold(cands []RawCandidate) []VariantGroup {
	index := make(map[string]int, len(cands))
	groups := make([]VariantGroup, 0, len(cands))
	for _, c := range cands {
		key := CanonicalKey(c.URL)
		if i, ok := index[key]; ok {
			g := &groups[i]
			g.Members++
			if c.Width > g.BestWidth {
				g.BestWidth = c.Width
				g.BestURL = c.URL
			}
			continue
		}
		index[key] = len(groups)
		groups = append(groups, VariantGroup{Key: key, BestURL: c.URL, BestWidth: c.Width, Members: 1})
	}
	return groups
}
