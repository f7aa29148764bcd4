package extractor

import (
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/go-pkgz/lgr"
	"golang.org/x/net/html/charset"
)

// detect encoding and content type, convert the page body to utf8
func (g *Gallery) toUtf8(content []byte, header http.Header) (contentType, origEncoding, result string) {
	getContentTypeAndEncoding := func(str string) (contentType, encoding string) { // from "text/html; charset=windows-1251"
		elems := strings.Split(str, ";")
		contentType = strings.TrimSpace(elems[0])
		if len(elems) > 1 && strings.Contains(elems[1], "charset=") {
			encoding = strings.TrimPrefix(strings.TrimSpace(elems[1]), "charset=")
		}
		return contentType, encoding
	}

	body := string(content)

	result = body
	contentType = "text/html"
	origEncoding = "utf-8"

	if h := header.Get("Content-Type"); h != "" {
		contentType, origEncoding = getContentTypeAndEncoding(h)
	}

	dbody, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return contentType, origEncoding, result
	}

	dbody.Find("head meta").Each(func(_ int, s *goquery.Selection) {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "Content-Type") {
			contentTypeStr := s.AttrOr("content", "")
			contentType, origEncoding = getContentTypeAndEncoding(contentTypeStr)
		}
	})
	if origEncoding == "" { // content-type without charset, assume utf-8
		origEncoding = "utf-8"
	}

	if origEncoding != "utf-8" {
		log.Printf("[DEBUG] non utf8 encoding detected, %s", origEncoding)
		// NewReader expects a content-type, a bare label would make it sniff instead
		rr, err := charset.NewReader(strings.NewReader(body), "text/html; charset="+origEncoding)
		if err != nil {
			log.Printf("[WARN] charset reader failed, %v", err)
			return contentType, origEncoding, result
		}
		conv2utf8, err := io.ReadAll(rr)
		if err != nil {
			log.Printf("[WARN] convert to utf-8 failed, %v", err)
			return contentType, origEncoding, result
		}
		result = string(conv2utf8)
	}

	return contentType, origEncoding, result
}
