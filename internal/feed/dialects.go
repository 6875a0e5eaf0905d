package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	jsonfeed "github.com/mmcdole/gofeed/json"
	"github.com/mmcdole/gofeed/rss"
)

func readAtom(data []byte) (*document, error) {
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}

	doc := &document{
		dialect: dialectAtom,
		id:      strings.TrimSpace(parsed.ID),
		links:   atomLinks(parsed.Links),
		entries: make([]entry, 0, len(parsed.Entries)),
	}
	doc.link, _ = findLink(doc.links, relAlternate)
	doc.authorDetail, doc.author = atomAuthor(parsed.Authors)

	for _, e := range parsed.Entries {
		if e == nil {
			continue
		}

		item := entry{
			shape:       shapeSummary,
			id:          strings.TrimSpace(e.ID),
			links:       atomLinks(e.Links),
			title:       e.Title,
			description: e.Summary,
			updated:     firstTime(e.UpdatedParsed, e.PublishedParsed),
		}
		item.link, _ = findLink(item.links, relAlternate)
		item.authorDetail, item.author = atomAuthor(e.Authors)

		if e.Content != nil {
			item.shape = shapeInline
			item.content = e.Content.Value
		}

		doc.entries = append(doc.entries, item)
	}

	return doc, nil
}

func atomLinks(links []*atom.Link) []link {
	result := make([]link, 0, len(links))

	for _, l := range links {
		if l == nil || strings.TrimSpace(l.Href) == "" {
			continue
		}

		rel := strings.TrimSpace(l.Rel)
		if rel == "" {
			rel = relAlternate
		}

		result = append(result, link{rel: rel, href: strings.TrimSpace(l.Href)})
	}

	return result
}

func atomAuthor(authors []*atom.Person) (*person, string) {
	for _, a := range authors {
		if a == nil {
			continue
		}

		return &person{name: a.Name}, a.Name
	}

	return nil, ""
}

func readRSS(data []byte) (*document, error) {
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	doc := &document{
		dialect: dialectRSS,
		link:    strings.TrimSpace(parsed.Link),
		entries: make([]entry, 0, len(parsed.Items)),
	}
	if doc.link != "" {
		doc.links = append(doc.links, link{rel: relAlternate, href: doc.link})
	}
	doc.links = append(doc.links, extensionLinks(parsed.Extensions)...)
	doc.authorDetail, doc.author = rssAuthor(parsed.DublinCoreExt, parsed.ManagingEditor)

	for _, it := range parsed.Items {
		if it == nil {
			continue
		}

		item := entry{
			shape:       shapeSummary,
			link:        strings.TrimSpace(it.Link),
			title:       it.Title,
			description: it.Description,
			updated:     firstTime(it.PubDateParsed, dublinCoreDate(it.DublinCoreExt)),
		}
		if it.GUID != nil {
			item.id = strings.TrimSpace(it.GUID.Value)
		}
		if item.link != "" {
			item.links = append(item.links, link{rel: relAlternate, href: item.link})
		}
		item.links = append(item.links, extensionLinks(it.Extensions)...)
		item.authorDetail, item.author = rssAuthor(it.DublinCoreExt, it.Author)

		if it.Content != "" {
			item.shape = shapeInline
			item.content = it.Content
		}

		doc.entries = append(doc.entries, item)
	}

	return doc, nil
}

// extensionLinks collects namespaced <atom:link> elements, whatever prefix
// the document bound the Atom namespace to.
func extensionLinks(extensions ext.Extensions) []link {
	var result []link

	for _, prefix := range slices.Sorted(maps.Keys(extensions)) {
		for _, e := range extensions[prefix]["link"] {
			href := strings.TrimSpace(e.Attrs["href"])
			if href == "" {
				continue
			}

			rel := strings.TrimSpace(e.Attrs["rel"])
			if rel == "" {
				rel = relAlternate
			}

			result = append(result, link{rel: rel, href: href})
		}
	}

	return result
}

func rssAuthor(dc *ext.DublinCoreExtension, raw string) (*person, string) {
	if dc != nil {
		for _, creator := range dc.Creator {
			if creator = strings.TrimSpace(creator); creator != "" {
				return &person{name: creator}, creator
			}
		}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}

	if name, ok := parseRSSPerson(raw); ok {
		return &person{name: name}, raw
	}

	return nil, raw
}

// parseRSSPerson extracts the display name from the "email (Name)" and
// "Name <email>" forms used by RSS author and managingEditor. A bare email
// address has no name.
func parseRSSPerson(raw string) (string, bool) {
	if open := strings.Index(raw, "("); open >= 0 {
		if end := strings.LastIndex(raw, ")"); end > open {
			if name := strings.TrimSpace(raw[open+1 : end]); name != "" {
				return name, true
			}
		}
	}

	if open := strings.Index(raw, "<"); open > 0 {
		if name := strings.TrimSpace(raw[:open]); name != "" {
			return name, true
		}
	}

	if strings.Contains(raw, "@") {
		return "", false
	}

	return raw, true
}

func dublinCoreDate(dc *ext.DublinCoreExtension) *time.Time {
	if dc == nil {
		return nil
	}

	for _, raw := range dc.Date {
		if t, ok := parseRFC3339(raw); ok {
			return &t
		}
	}

	return nil
}

func readJSON(data []byte) (*document, error) {
	parsed, err := (&jsonfeed.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse json feed: %w", err)
	}

	doc := &document{
		dialect: dialectJSON,
		link:    strings.TrimSpace(parsed.HomePageURL),
		entries: make([]entry, 0, len(parsed.Items)),
	}
	if self := strings.TrimSpace(parsed.FeedURL); self != "" {
		doc.links = append(doc.links, link{rel: relSelf, href: self})
	}
	if doc.link != "" {
		doc.links = append(doc.links, link{rel: relAlternate, href: doc.link})
	}
	for _, hub := range jsonHubs(data) {
		doc.links = append(doc.links, link{rel: relHub, href: hub})
	}
	if parsed.Author != nil {
		doc.authorDetail = &person{name: parsed.Author.Name}
		doc.author = parsed.Author.Name
	}

	for _, it := range parsed.Items {
		if it == nil {
			continue
		}

		item := entry{
			shape:       shapeSummary,
			id:          strings.TrimSpace(it.ID),
			link:        strings.TrimSpace(it.URL),
			title:       it.Title,
			description: it.Summary,
		}
		if item.link != "" {
			item.links = append(item.links, link{rel: relAlternate, href: item.link})
		}
		if it.Author != nil {
			item.authorDetail = &person{name: it.Author.Name}
			item.author = it.Author.Name
		}
		if modified, ok := parseRFC3339(it.DateModified); ok {
			item.updated = &modified
		} else if published, ok := parseRFC3339(it.DatePublished); ok {
			item.updated = &published
		}

		switch {
		case it.ContentHTML != "":
			item.shape = shapeInline
			item.content = it.ContentHTML
		case it.ContentText != "":
			item.shape = shapeInline
			item.content = it.ContentText
		}

		doc.entries = append(doc.entries, item)
	}

	return doc, nil
}

// jsonHubs reads the top-level "hubs" array, which the gofeed JSON reader
// does not expose.
func jsonHubs(data []byte) []string {
	var raw struct {
		Hubs []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"hubs"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	hubs := make([]string, 0, len(raw.Hubs))
	for _, h := range raw.Hubs {
		if u := strings.TrimSpace(h.URL); u != "" {
			hubs = append(hubs, u)
		}
	}

	return hubs
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			return t
		}
	}

	return nil
}

func parseRFC3339(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}
