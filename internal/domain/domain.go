package domain

import "time"

// Post is one canonical feed entry. FeedURL weakly references the owning
// Subscription by its URL.
type Post struct {
	URL           string    `db:"url"            json:"url"`
	FeedURL       string    `db:"feed_url"       json:"feedUrl"`
	Title         string    `db:"title"          json:"title"`
	Content       string    `db:"content"        json:"content"`
	DatePublished time.Time `db:"date_published" json:"datePublished"`
	Author        string    `db:"author"         json:"author"`
}

// Subscription is one tracked feed, unique by URL (the topic).
type Subscription struct {
	URL        string    `db:"url"        json:"url"`
	Hub        string    `db:"hub"        json:"hub"`
	SourceURL  string    `db:"source_url" json:"sourceUrl"`
	Subscriber string    `db:"subscriber" json:"subscriber"`
	DateAdded  time.Time `db:"date_added" json:"dateAdded"`
	Author     string    `db:"author"     json:"author"`
}

// SubscriptionState is the hub protocol state of a topic.
type SubscriptionState int

const (
	StateUnsubscribed SubscriptionState = iota
	StateSubscribeRequested
	StateVerified
	StateFailed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateSubscribeRequested:
		return "SUBSCRIBE_REQUESTED"
	case StateVerified:
		return "VERIFIED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s SubscriptionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
