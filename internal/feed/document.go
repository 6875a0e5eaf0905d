package feed

import (
	"strings"
	"time"

	"feedstream/internal/domain"
)

const (
	relAlternate = "alternate"
	relSelf      = "self"
	relHub       = "hub"
	relGDataFeed = "http://schemas.google.com/g/2005#feed"

	legacyFeedURLSuffix = "rss"
)

type dialect int

const (
	dialectAtom dialect = iota + 1
	dialectRSS
	dialectJSON
)

func (d dialect) String() string {
	switch d {
	case dialectAtom:
		return "atom"
	case dialectRSS:
		return "rss"
	case dialectJSON:
		return "json"
	default:
		return "unknown"
	}
}

// entryShape is decided once per entry while reading the dialect.
type entryShape int

const (
	// shapeInline entries carry their body as inline content (Atom content,
	// RSS content:encoded, JSON Feed content_html/content_text).
	shapeInline entryShape = iota + 1
	// shapeSummary entries only have a link and a description.
	shapeSummary
)

type link struct {
	rel  string
	href string
}

type person struct {
	name string
}

type entry struct {
	shape        entryShape
	id           string
	link         string
	links        []link
	title        string
	content      string
	description  string
	authorDetail *person
	author       string
	updated      *time.Time
}

type document struct {
	dialect      dialect
	id           string
	link         string
	links        []link
	authorDetail *person
	author       string
	entries      []entry
}

func findLink(links []link, rels ...string) (string, bool) {
	for _, l := range links {
		for _, rel := range rels {
			if l.rel == rel {
				return l.href, true
			}
		}
	}

	return "", false
}

func (d *document) selfURL() (string, bool) {
	return findLink(d.links, relGDataFeed, relSelf)
}

func (d *document) feedURL() string {
	if self, ok := d.selfURL(); ok {
		return self
	}

	if d.link == "" {
		return ""
	}

	return d.link + legacyFeedURLSuffix
}

func (d *document) sourceURL() string {
	if alternate, ok := findLink(d.links, relAlternate); ok {
		return alternate
	}

	return d.id
}

func (d *document) hub(defaultHub string, alwaysUseDefault bool) string {
	if alwaysUseDefault {
		return defaultHub
	}

	if hub, ok := findLink(d.links, relHub); ok {
		return hub
	}

	return defaultHub
}

func (d *document) feedAuthor() string {
	if author := resolveAuthor(d.authorDetail, d.author); author != "" {
		return author
	}

	if len(d.entries) == 0 {
		return ""
	}

	first := d.entries[0]

	return resolveAuthor(first.authorDetail, first.author)
}

func (d *document) posts(now time.Time) []domain.Post {
	feedURL := d.feedURL()
	posts := make([]domain.Post, 0, len(d.entries))

	for i := range d.entries {
		posts = append(posts, d.entries[i].post(feedURL, now))
	}

	return posts
}

func (e *entry) post(feedURL string, now time.Time) domain.Post {
	published := now
	if e.updated != nil {
		published = *e.updated
	}
	published = published.UTC().Truncate(time.Second)

	switch e.shape {
	case shapeInline:
		permalink, ok := findLink(e.links, relAlternate)
		if !ok {
			permalink = e.id
		}

		return domain.Post{
			URL:           permalink,
			FeedURL:       feedURL,
			Title:         e.title,
			Content:       e.content,
			DatePublished: published,
			Author:        resolveAuthor(e.authorDetail, e.author),
		}
	default:
		return domain.Post{
			URL:           e.link,
			FeedURL:       feedURL,
			Title:         e.title,
			Content:       e.description,
			DatePublished: published,
		}
	}
}

func resolveAuthor(detail *person, plain string) string {
	if detail != nil && strings.TrimSpace(detail.name) != "" {
		return strings.TrimSpace(detail.name)
	}

	return strings.TrimSpace(plain)
}
