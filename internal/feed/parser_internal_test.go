package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedParser(now time.Time) *Parser {
	p := NewParser("http://pollinghub.example.org/", false)
	p.now = func() time.Time { return now }

	return p
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}

	return data
}

func TestPostsWithoutTimestampUseParseTime(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC)

	for _, name := range []string{"rss_feed.xml", "no_updated_element_feed.xml"} {
		content := fixedParser(now).Parse(readFixture(t, name))
		if !content.Valid() {
			t.Fatalf("%s: expected valid content, got %s", name, content.Diagnostic())
		}

		for i, post := range content.Posts() {
			if !post.DatePublished.Equal(now.Truncate(time.Second)) {
				t.Fatalf("%s: post %d date %s, want %s", name, i, post.DatePublished, now)
			}
		}
	}
}

func TestReadRSSResolvesShapes(t *testing.T) {
	doc, err := readRSS(readFixture(t, "feedburner_feed.xml"))
	if err != nil {
		t.Fatalf("read rss: %v", err)
	}

	if doc.entries[0].shape != shapeInline {
		t.Fatalf("expected content:encoded item to be inline")
	}
	if doc.entries[1].shape != shapeSummary {
		t.Fatalf("expected description-only item to be summary")
	}
	if doc.entries[0].id != "http://blogs.thoughtworks.com/?p=101" {
		t.Fatalf("unexpected guid %q", doc.entries[0].id)
	}
}

func TestInlineEntryFallsBackToID(t *testing.T) {
	e := entry{
		shape:   shapeInline,
		id:      "tag:example.org,2009:1",
		links:   []link{{rel: "edit", href: "http://example.org/edit/1"}},
		title:   "t",
		content: "c",
		author:  "plain author",
	}

	post := e.post("http://example.org/feed", time.Unix(0, 0))
	if post.URL != "tag:example.org,2009:1" {
		t.Fatalf("expected id permalink, got %q", post.URL)
	}
	if post.Author != "plain author" {
		t.Fatalf("expected plain author fallback, got %q", post.Author)
	}
}

func TestFeedURLLegacyFallback(t *testing.T) {
	doc := &document{link: "http://example.org/"}
	if got := doc.feedURL(); got != "http://example.org/rss" {
		t.Fatalf("unexpected legacy feed URL %q", got)
	}

	doc.links = []link{{rel: relAlternate, href: "http://example.org/"}, {rel: relSelf, href: "http://example.org/atom"}}
	if got := doc.feedURL(); got != "http://example.org/atom" {
		t.Fatalf("expected self link, got %q", got)
	}

	if got := (&document{}).feedURL(); got != "" {
		t.Fatalf("expected empty feed URL without links, got %q", got)
	}
}

func TestSourceURLFallsBackToID(t *testing.T) {
	doc := &document{id: "tag:example.org,2009:feed", links: []link{{rel: relSelf, href: "http://example.org/atom"}}}
	if got := doc.sourceURL(); got != "tag:example.org,2009:feed" {
		t.Fatalf("unexpected source URL %q", got)
	}
}

func TestFeedAuthorWithoutEntries(t *testing.T) {
	if got := (&document{}).feedAuthor(); got != "" {
		t.Fatalf("expected empty author, got %q", got)
	}
}

func TestParseRSSPerson(t *testing.T) {
	tests := []struct {
		raw  string
		name string
		ok   bool
	}{
		{"editor@example.org (Jane Doe)", "Jane Doe", true},
		{"Jane Doe <editor@example.org>", "Jane Doe", true},
		{"editor@example.org", "", false},
		{"Jane", "Jane", true},
	}

	for _, tt := range tests {
		name, ok := parseRSSPerson(tt.raw)
		if name != tt.name || ok != tt.ok {
			t.Fatalf("parseRSSPerson(%q) = %q, %v; want %q, %v", tt.raw, name, ok, tt.name, tt.ok)
		}
	}
}

func TestJSONHubs(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{
			name: "two hubs",
			data: `{"hubs": [{"type": "WebSub", "url": " https://a.example.org/ "}, {"type": "rssCloud", "url": "https://b.example.org/"}]}`,
			want: []string{"https://a.example.org/", "https://b.example.org/"},
		},
		{name: "blank url", data: `{"hubs": [{"type": "WebSub", "url": ""}]}`},
		{name: "no hubs", data: `{"version": "https://jsonfeed.org/version/1.1"}`},
		{name: "not json", data: `<feed/>`},
	}

	for _, tt := range tests {
		got := jsonHubs([]byte(tt.data))
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		}
	}
}
