package extractor

import (
	"net/url"
	"strconv"
	"strings"
)

// variant is a single srcset entry, url plus parsed width descriptor
type variant struct {
	url   string
	width int
}

// parseSrcset splits a srcset-style attribute into variants. Each entry is
// "<url> <width>w"; the split is on the last whitespace, so commas inside the
// URL path survive. A malformed or missing descriptor yields width 0 and
// never aborts parsing.
func parseSrcset(attr string, base *url.URL) []variant {
	var res []variant
	inDataURI := false
	for _, part := range strings.Split(attr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if inDataURI {
			// payload fragment of a data URI split on its internal comma,
			// the entry ends at the fragment carrying the descriptor
			if strings.ContainsAny(part, " \t") {
				inDataURI = false
			}
			continue
		}
		u, desc := part, ""
		if idx := strings.LastIndexAny(part, " \t"); idx >= 0 {
			u, desc = strings.TrimSpace(part[:idx]), strings.TrimSpace(part[idx+1:])
		}
		if u == "" {
			continue
		}
		if isDataURI(u) {
			// inline placeholders never resolve to a fetchable variant
			inDataURI = !strings.ContainsAny(part, " \t")
			continue
		}
		res = append(res, variant{url: Normalize(u, base), width: parseWidth(desc)})
	}
	return res
}

// bestVariant returns the entry with the strictly greatest width; ties keep
// the first-seen entry, so the result is stable in document order.
func bestVariant(attr string, base *url.URL) (variant, bool) {
	variants := parseSrcset(attr, base)
	if len(variants) == 0 {
		return variant{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.width > best.width {
			best = v
		}
	}
	return best, true
}

// parseWidth parses a "123w" descriptor, 0 on anything else
func parseWidth(desc string) int {
	if !strings.HasSuffix(desc, "w") {
		return 0
	}
	w, err := strconv.Atoi(strings.TrimSuffix(desc, "w"))
	if err != nil || w < 0 {
		return 0
	}
	return w
}
