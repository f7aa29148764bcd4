package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source tells which attribute produced a candidate
type Source string

// candidate sources, in priority order
const (
	SourceLazy   Source = "lazy"
	SourceSrcset Source = "srcset"
	SourceSrc    Source = "src"
	SourceAnchor Source = "href"
)

// Locator addresses the gallery container inside the page,
// e.g. {Tag: "product-slider", Kind: "id", Value: "Product-Slider"}
type Locator struct {
	Tag   string `json:"tag,omitempty"`
	Kind  string `json:"kind"` // "id" or "class"
	Value string `json:"value"`
}

// Defined reports whether the locator carries enough to match anything
func (l Locator) Defined() bool { return l.Value != "" }

func (l Locator) String() string {
	return fmt.Sprintf("<%s %s=%q>", l.Tag, l.Kind, l.Value)
}

// selector builds a goquery/cascadia selector. Class matches any of the
// element's classes, id matches exact.
func (l Locator) selector() string {
	attr, op := "id", "="
	if strings.EqualFold(l.Kind, "class") {
		attr, op = "class", "~="
	}
	return fmt.Sprintf("%s[%s%s%q]", l.Tag, attr, op, l.Value)
}

// Options control attribute-priority behavior of the gatherer
type Options struct {
	// CollectBoth keeps the plain src alongside a lazy-load attribute when
	// both are real and differ. The legacy scripts disagreed on this, so it
	// stays a caller decision, default off.
	CollectBoth bool `json:"collect_both,omitempty"`
	// IncludeAnchors also collects anchor hrefs ending in an image extension
	// (zoom/full-size links), at lower priority than img candidates
	IncludeAnchors bool `json:"include_anchors,omitempty"`
	// LazyAttrs overrides the deferred-source attributes checked first
	LazyAttrs []string `json:"lazy_attrs,omitempty"`
}

var defaultLazyAttrs = []string{"data-src", "d-src", "data-original"}

func (o Options) lazyAttrs() []string {
	if len(o.LazyAttrs) > 0 {
		return o.LazyAttrs
	}
	return defaultLazyAttrs
}

// RawCandidate is one possible image URL pulled from an element attribute,
// already normalized to absolute form
type RawCandidate struct {
	Source Source
	URL    string
	Width  int
}

// document abstracts HTML traversal so the parsing library is swappable
// without touching resolution logic
type document interface {
	findContainer(l Locator) (container, bool)
}

type container interface {
	images() []element
	anchors() []element
}

type element interface {
	attr(name string) (string, bool)
}

// goquery-backed implementation

type gqDocument struct{ doc *goquery.Document }

func (d gqDocument) findContainer(l Locator) (container, bool) {
	sel := d.doc.Find(l.selector()).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return gqContainer{sel: sel}, true
}

type gqContainer struct{ sel *goquery.Selection }

func (c gqContainer) images() []element  { return collect(c.sel.Find("img")) }
func (c gqContainer) anchors() []element { return collect(c.sel.Find("a")) }

func collect(sel *goquery.Selection) []element {
	res := make([]element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) { res = append(res, gqElement{sel: s}) })
	return res
}

type gqElement struct{ sel *goquery.Selection }

func (e gqElement) attr(name string) (string, bool) { return e.sel.Attr(name) }

// gather walks the container and yields ordered raw candidates. The second
// return is false when the locator matched nothing - a valid "no gallery"
// outcome, not an error.
func gather(doc document, loc Locator, base *url.URL, opts Options) ([]RawCandidate, bool) {
	cont, found := doc.findContainer(loc)
	if !found {
		return nil, false
	}

	var res []RawCandidate
	add := func(src Source, u string, width int) {
		res = append(res, RawCandidate{Source: src, URL: u, Width: width})
	}

	for _, img := range cont.images() {
		if lazy := firstLazy(img, opts.lazyAttrs()); lazy != "" {
			norm := Normalize(lazy, base)
			add(SourceLazy, norm, widthFromURL(norm))
			if opts.CollectBoth {
				if src, ok := img.attr("src"); ok && src != "" && !isDataURI(src) && src != lazy {
					norm = Normalize(src, base)
					add(SourceSrc, norm, widthFromURL(norm))
				}
			}
			continue
		}
		if srcset, ok := img.attr("srcset"); ok && strings.TrimSpace(srcset) != "" {
			if v, ok := bestVariant(srcset, base); ok {
				add(SourceSrcset, v.url, v.width)
				continue
			}
		}
		if src, ok := img.attr("src"); ok && src != "" && !isDataURI(src) {
			norm := Normalize(src, base)
			add(SourceSrc, norm, widthFromURL(norm))
		}
	}

	if opts.IncludeAnchors {
		for _, a := range cont.anchors() {
			href, ok := a.attr("href")
			if !ok || href == "" || isDataURI(href) {
				continue
			}
			norm := Normalize(href, base)
			if !hasImageExtension(CanonicalKey(norm)) {
				continue
			}
			add(SourceAnchor, norm, widthFromURL(norm))
		}
	}

	return res, true
}

// firstLazy returns the first non-empty, non-inline lazy-load attribute value
func firstLazy(el element, attrs []string) string {
	for _, name := range attrs {
		if v, ok := el.attr(name); ok && v != "" && !isDataURI(v) {
			return v
		}
	}
	return ""
}
