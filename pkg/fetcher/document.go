package fetcher

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Document is a successfully fetched and parsed page.
type Document struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Doc        *goquery.Document

	Title string
	Text  string   // readable text of <body>
	Links []string // absolute links found on the page

	Stage     string // stage that produced the response
	FetchedAt time.Time
}

// ParseDocument builds a Document from r. An empty body is a parse error:
// a Document is either fully populated or not returned at all.
func ParseDocument(r *Response, stage string) (*Document, error) {
	if r == nil {
		return nil, errors.New("nil response")
	}
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil, errors.New("empty body")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	d := &Document{
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Header:     r.Header,
		Body:       r.Body,
		Doc:        doc,
		Stage:      stage,
		FetchedAt:  time.Now(),
	}
	d.Title = strings.TrimSpace(doc.Find("title").First().Text())

	// Text and links come from a clone so Doc keeps scripts and styles.
	text := goquery.CloneDocument(doc)
	text.Find("script, style, noscript, iframe, svg").Remove()

	var textParts []string
	text.Find("body").Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			textParts = append(textParts, t)
		}
	})
	d.Text = strings.Join(textParts, "\n")

	baseURL, _ := url.Parse(r.URL)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linkURL.IsAbs() && baseURL != nil {
			linkURL = baseURL.ResolveReference(linkURL)
		}
		d.Links = append(d.Links, linkURL.String())
	})

	return d, nil
}

// cleanText normalizes whitespace in text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
