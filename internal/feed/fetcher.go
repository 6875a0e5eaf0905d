package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	userAgent = "Mozilla/5.0 (compatible; feedstream/1.0; +https://github.com/feedstream/feedstream)"

	maxFeedSize = 10 << 20
)

var feedMIMETypes = map[string]struct{}{
	"application/atom+xml":  {},
	"application/rss+xml":   {},
	"application/feed+json": {},
	"application/json":      {},
	"application/xml":       {},
	"text/xml":              {},
}

// Document is a fetched resource. URL is where the feed was finally read
// from, which differs from the requested URL after autodiscovery.
type Document struct {
	URL  string
	Body []byte
}

type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

func NewFetcher(timeout time.Duration, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Fetch downloads rawURL. When the response is an HTML page rather than a
// feed, the first feed it advertises through <link rel="alternate"> is
// fetched instead.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	rawURL = strings.TrimSpace(rawURL)

	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if gofeed.DetectFeedType(bytes.NewReader(body)) != gofeed.FeedTypeUnknown {
		return &Document{URL: rawURL, Body: body}, nil
	}

	discovered, err := discoverFeedURL(rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("discover feed (URL = %s): %w", rawURL, err)
	}

	f.log.InfoContext(ctx, "Feed is discovered on HTML page",
		"pageURL", rawURL,
		"feedURL", discovered)

	body, err = f.get(ctx, discovered)
	if err != nil {
		return nil, err
	}

	return &Document{URL: discovered, Body: body}, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req) //nolint:gosec // admin-supplied feed URL
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"url", rawURL,
				"operation", "get")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("do request: unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

func discoverFeedURL(pageURL string, body []byte) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create document from reader: %w", err)
	}

	var found string

	doc.Find("link[rel~='alternate']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		mimeType, _ := s.Attr("type")
		mimeType = strings.ToLower(strings.TrimSpace(mimeType))
		if _, ok := feedMIMETypes[mimeType]; !ok {
			return true
		}

		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}

		ref, parseErr := url.Parse(strings.TrimSpace(href))
		if parseErr != nil {
			return true
		}

		found = base.ResolveReference(ref).String()

		return false
	})

	if found == "" {
		return "", errors.New("no feed link on page")
	}

	return found, nil
}
