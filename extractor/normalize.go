package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// imageExtensions are the recognized media suffixes, matched case-insensitive
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tiff"}

var reQueryWidth = regexp.MustCompile(`[?&]width=(\d+)`)

// Normalize makes a candidate URL absolute: protocol-relative URLs get https,
// relative URLs resolve against the page base, absolute URLs pass unchanged.
// Idempotent - normalizing a normalized URL yields the same string.
func Normalize(raw string, base *url.URL) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	if base != nil {
		if u, err := base.Parse(raw); err == nil {
			return u.String()
		}
	}
	return raw
}

// CanonicalKey truncates a URL right after the first recognized image
// extension, dropping resize query params and fragments. CDN variants of the
// same asset differ only past the extension, so the key groups them.
// A URL with no recognized extension acts as its own key.
func CanonicalKey(u string) string {
	lower := strings.ToLower(u)
	best, cut := -1, 0
	for _, ext := range imageExtensions {
		if idx := strings.Index(lower, ext); idx >= 0 && (best < 0 || idx < best) {
			best, cut = idx, idx+len(ext)
		}
	}
	if best < 0 {
		return u
	}
	return u[:cut]
}

// hasImageExtension reports whether the url (or key) ends with a recognized extension
func hasImageExtension(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// widthFromURL picks a width hint from a "width=N" query param, used for
// candidates that carry no descriptor. Returns 0 when absent.
func widthFromURL(u string) int {
	m := reQueryWidth.FindStringSubmatch(u)
	if m == nil {
		return 0
	}
	w, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return w
}

func isDataURI(s string) bool { return strings.HasPrefix(s, "data:") }
