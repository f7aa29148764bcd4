package extractor

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	base, err := url.Parse("https://shop.example.com/products/studs")
	require.NoError(t, err)

	tbl := []struct {
		name string
		in   string
		base *url.URL
		out  string
	}{
		{"absolute passes unchanged", "https://cdn.example.com/a/b.jpg?width=800", base, "https://cdn.example.com/a/b.jpg?width=800"},
		{"protocol-relative gets https", "//cdn.example.com/a/b.jpg", base, "https://cdn.example.com/a/b.jpg"},
		{"relative resolves against base", "/files/b.jpg", base, "https://shop.example.com/files/b.jpg"},
		{"relative without base unchanged", "files/b.jpg", nil, "files/b.jpg"},
		{"http absolute unchanged", "http://cdn.example.com/b.png", base, "http://cdn.example.com/b.png"},
		{"data uri unchanged", "data:image/png;base64,AAAA", base, "data:image/png;base64,AAAA"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.in, tt.base)
			assert.Equal(t, tt.out, res)
			assert.Equal(t, res, Normalize(res, tt.base), "normalization should be idempotent")
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	tbl := []struct {
		in  string
		out string
	}{
		{"https://cdn/a/p.jpg?v=3&width=800", "https://cdn/a/p.jpg"},
		{"https://cdn/a/p.JPG?v=3", "https://cdn/a/p.JPG"},
		{"https://cdn/a/p.jpeg#frag", "https://cdn/a/p.jpeg"},
		{"https://cdn/p2.png?v=3", "https://cdn/p2.png"},
		{"https://cdn/p.webp", "https://cdn/p.webp"},
		{"https://cdn/p.gif?x=.png", "https://cdn/p.gif"},
		{"https://cdn/p.png?x=.jpg", "https://cdn/p.png"},
		{"https://cdn/no-extension?v=3", "https://cdn/no-extension?v=3"},
		{"https://cdn/p.tiff/extra.jpg", "https://cdn/p.tiff"},
	}

	for _, tt := range tbl {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.out, CanonicalKey(tt.in))
			assert.Equal(t, CanonicalKey(tt.out), CanonicalKey(CanonicalKey(tt.in)), "key extraction should be stable")
		})
	}
}

func TestWidthFromURL(t *testing.T) {
	assert.Equal(t, 800, widthFromURL("https://cdn/p.jpg?width=800"))
	assert.Equal(t, 400, widthFromURL("https://cdn/p.jpg?v=3&width=400"))
	assert.Equal(t, 0, widthFromURL("https://cdn/p.jpg?v=3"))
	assert.Equal(t, 0, widthFromURL("https://cdn/p.jpg"))
	assert.Equal(t, 0, widthFromURL("https://cdn/p.jpg?width=abc"))
}

func TestHasImageExtension(t *testing.T) {
	assert.True(t, hasImageExtension("https://cdn/p.jpg"))
	assert.True(t, hasImageExtension("https://cdn/p.WEBP"))
	assert.False(t, hasImageExtension("https://cdn/p.jpg?v=3"))
	assert.False(t, hasImageExtension("https://cdn/page.html"))
}
