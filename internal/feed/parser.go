package feed

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"feedstream/internal/domain"
)

var ErrFeedTypeUnknown = errors.New("feed type not detected")

// Parser turns raw feed documents into Content. It is safe for concurrent use.
type Parser struct {
	defaultHub          string
	alwaysUseDefaultHub bool
	now                 func() time.Time
}

func NewParser(defaultHub string, alwaysUseDefaultHub bool) *Parser {
	return &Parser{
		defaultHub:          strings.TrimSpace(defaultHub),
		alwaysUseDefaultHub: alwaysUseDefaultHub,
		now:                 time.Now,
	}
}

// Content is the result of parsing one document. Every accessor is safe to
// call on invalid content.
type Content struct {
	doc                 *document
	err                 error
	defaultHub          string
	alwaysUseDefaultHub bool
	parsedAt            time.Time
}

// Parse never fails: problems with the document are reported through Valid
// and Diagnostic. A document that the lenient reader could still make sense
// of keeps its feed-level data even when it is not well-formed.
func (p *Parser) Parse(data []byte) *Content {
	c := &Content{
		defaultHub:          p.defaultHub,
		alwaysUseDefaultHub: p.alwaysUseDefaultHub,
		parsedAt:            p.now(),
	}

	var wellFormedErr error

	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeAtom:
		c.doc, c.err = readAtom(data)
		wellFormedErr = checkXML(data)
	case gofeed.FeedTypeRSS:
		c.doc, c.err = readRSS(data)
		wellFormedErr = checkXML(data)
	case gofeed.FeedTypeJSON:
		c.doc, c.err = readJSON(data)
		wellFormedErr = checkJSON(data)
	default:
		c.err = ErrFeedTypeUnknown
	}

	if c.err == nil {
		c.err = wellFormedErr
	}

	return c
}

func (c *Content) Valid() bool {
	return c.err == nil && c.doc != nil
}

func (c *Content) Err() error {
	return c.err
}

// Diagnostic describes why the content is invalid as "<error type>: <message>".
func (c *Content) Diagnostic() string {
	if c.err == nil {
		return ""
	}

	return fmt.Sprintf("%s: %v", errorClass(c.err), c.err)
}

func (c *Content) Dialect() string {
	if c.doc == nil {
		return ""
	}

	return c.doc.dialect.String()
}

// FeedURL is the self-identifying URL of the feed, or the site link with
// "rss" appended for legacy feeds that do not link to themselves.
func (c *Content) FeedURL() string {
	if c.doc == nil {
		return ""
	}

	return c.doc.feedURL()
}

// HasSelfLink reports whether FeedURL came from an explicit self link rather
// than the legacy fallback.
func (c *Content) HasSelfLink() bool {
	if c.doc == nil {
		return false
	}

	_, ok := c.doc.selfURL()

	return ok
}

func (c *Content) SourceURL() string {
	if c.doc == nil {
		return ""
	}

	return c.doc.sourceURL()
}

func (c *Content) Hub() string {
	if c.doc == nil {
		return c.defaultHub
	}

	return c.doc.hub(c.defaultHub, c.alwaysUseDefaultHub)
}

func (c *Content) FeedAuthor() string {
	if c.doc == nil {
		return ""
	}

	return c.doc.feedAuthor()
}

// Posts returns one canonical post per entry in document order. Invalid
// content yields no posts at all.
func (c *Content) Posts() []domain.Post {
	if !c.Valid() {
		return nil
	}

	return c.doc.posts(c.parsedAt)
}

// checkXML runs a strict decoder over the whole document; the dialect readers
// are lenient and accept input that is not well-formed.
func checkXML(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	decoder.CharsetReader = charset.NewReaderLabel

	for {
		_, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func checkJSON(data []byte) error {
	var raw json.RawMessage

	return json.Unmarshal(data, &raw)
}

func errorClass(err error) string {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}

	return strings.TrimPrefix(fmt.Sprintf("%T", root), "*")
}
