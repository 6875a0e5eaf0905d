package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"mvdan.cc/xurls/v2"

	"feedstream/internal/domain"
	"feedstream/internal/feed"
	"feedstream/internal/websub"
)

const defaultRenewConcurrency = 4

var (
	ErrInvalidURL            = errors.New("no feed URL in input")
	ErrFeedUnavailable       = errors.New("feed unavailable")
	ErrUnknownFeed           = errors.New("unknown feed")
	ErrInvalidFeed           = errors.New("invalid feed")
	ErrDuplicateSubscription = errors.New("subscription already exists")
)

// InvalidFeedError carries the parser diagnostic of a rejected document.
type InvalidFeedError struct {
	Diagnostic string
}

func (e *InvalidFeedError) Error() string {
	return "invalid feed: " + e.Diagnostic
}

func (e *InvalidFeedError) Is(target error) bool {
	return target == ErrInvalidFeed
}

type Store interface {
	SubscriptionExists(ctx context.Context, url string) (bool, error)
	CreateSubscription(ctx context.Context, sub domain.Subscription) (bool, error)
	GetSubscription(ctx context.Context, url string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	DeleteSubscription(ctx context.Context, url string) (int, error)
	AddPosts(ctx context.Context, posts []domain.Post) (int, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*feed.Document, error)
}

type Hub interface {
	Subscribe(ctx context.Context, hub, topic string) error
	Unsubscribe(ctx context.Context, hub, topic string) error
}

type Config struct {
	// HubSecret, when set, makes every delivery require a valid signature.
	HubSecret        string
	RenewConcurrency int
}

// Coordinator runs the subscription and push delivery flows. Work on one
// topic is serialised; distinct topics run concurrently.
type Coordinator struct {
	store   Store
	fetcher Fetcher
	parser  *feed.Parser
	hub     Hub
	cfg     Config
	locks   *topicLocks
	replays *replayCache
	now     func() time.Time
	log     *slog.Logger
}

func New(
	store Store,
	fetcher Fetcher,
	parser *feed.Parser,
	hub Hub,
	cfg Config,
	log *slog.Logger,
) *Coordinator {
	if cfg.RenewConcurrency <= 0 {
		cfg.RenewConcurrency = defaultRenewConcurrency
	}

	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		parser:  parser,
		hub:     hub,
		cfg:     cfg,
		locks:   newTopicLocks(),
		replays: newReplayCache(replayCacheMaxEntries),
		now:     time.Now,
		log:     log,
	}
}

// AddSubscription fetches the feed found in input, stores it together with
// its current posts and then asks its hub to start pushing. A failed hub
// request is logged and left to lease renewal; the subscription stays.
func (c *Coordinator) AddSubscription(
	ctx context.Context,
	input string,
	subscriber string,
) (*domain.Subscription, error) {
	rawURL, err := extractURL(input)
	if err != nil {
		return nil, err
	}

	exists, err := c.store.SubscriptionExists(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("check subscription: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, rawURL)
	}

	doc, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch feed: %w", ErrFeedUnavailable, err)
	}

	content := c.parser.Parse(doc.Body)
	if !content.Valid() {
		return nil, &InvalidFeedError{Diagnostic: content.Diagnostic()}
	}

	topic := doc.URL
	if content.HasSelfLink() {
		topic = content.FeedURL()
	}

	sub := domain.Subscription{
		URL:        topic,
		Hub:        content.Hub(),
		SourceURL:  content.SourceURL(),
		Subscriber: strings.TrimSpace(subscriber),
		DateAdded:  c.now().UTC().Truncate(time.Second),
		Author:     content.FeedAuthor(),
	}

	posts := content.Posts()
	for i := range posts {
		posts[i].FeedURL = topic
	}

	if err = c.storeSnapshot(ctx, sub, posts); err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "Subscription is added",
		"topic", topic,
		"requestedURL", rawURL,
		"hub", sub.Hub,
		"subscriber", sub.Subscriber,
		"postCount", len(posts))

	// The hub request outlives the admin request; the client timeout bounds it.
	if err = c.hub.Subscribe(context.WithoutCancel(ctx), sub.Hub, topic); err != nil {
		c.log.WarnContext(ctx, "Subscription is stored without hub confirmation",
			"error", err,
			"topic", topic,
			"hub", sub.Hub)
	}

	return &sub, nil
}

func (c *Coordinator) storeSnapshot(ctx context.Context, sub domain.Subscription, posts []domain.Post) error {
	unlock := c.locks.lock(sub.URL)
	defer unlock()

	created, err := c.store.CreateSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.URL)
	}

	if _, err = c.store.AddPosts(ctx, posts); err != nil {
		addErr := fmt.Errorf("add posts: %w", err)

		if _, deleteErr := c.store.DeleteSubscription(ctx, sub.URL); deleteErr != nil {
			return errors.Join(addErr, fmt.Errorf("delete subscription: %w", deleteErr))
		}

		return addErr
	}

	return nil
}

// DeleteSubscription removes the subscription and all of its posts, then
// tells the hub to stop pushing. It returns the number of deleted posts.
func (c *Coordinator) DeleteSubscription(ctx context.Context, url string) (int, error) {
	url = strings.TrimSpace(url)

	unlock := c.locks.lock(url)

	sub, err := c.store.GetSubscription(ctx, url)
	if err != nil {
		unlock()
		return 0, fmt.Errorf("get subscription: %w", err)
	}

	deleted, err := c.store.DeleteSubscription(ctx, url)
	if err == nil {
		c.replays.forgetTopic(url)
	}
	unlock()

	if err != nil {
		return deleted, fmt.Errorf("delete subscription: %w", err)
	}

	c.log.InfoContext(ctx, "Subscription is deleted",
		"topic", url,
		"deletedPosts", deleted)

	if err = c.hub.Unsubscribe(ctx, sub.Hub, url); err != nil {
		c.log.WarnContext(ctx, "Subscription is deleted without hub confirmation",
			"error", err,
			"topic", url,
			"hub", sub.Hub)
	}

	return deleted, nil
}

// HandleDelivery stores the posts pushed by a hub and returns how many were
// new. Deliveries for topics without a subscription are rejected with
// ErrUnknownFeed, malformed ones with ErrInvalidFeed; neither stores anything.
func (c *Coordinator) HandleDelivery(ctx context.Context, body []byte, signature string) (int, error) {
	if c.cfg.HubSecret != "" {
		if err := websub.VerifySignature(c.cfg.HubSecret, body, signature); err != nil {
			return 0, err
		}
	}

	content := c.parser.Parse(body)
	topic := content.FeedURL()

	unlock := c.locks.lock(topic)
	defer unlock()

	exists, err := c.store.SubscriptionExists(ctx, topic)
	if err != nil {
		return 0, fmt.Errorf("check subscription: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFeed, topic)
	}

	key := replayKey(topic, body)
	now := c.now()

	if c.replays.seen(key, now) {
		c.log.InfoContext(ctx, "Skipping replayed delivery",
			"topic", topic)

		return 0, nil
	}

	if !content.Valid() {
		c.log.WarnContext(ctx, "Delivery is not a valid feed",
			"topic", topic,
			"diagnostic", content.Diagnostic())

		return 0, &InvalidFeedError{Diagnostic: content.Diagnostic()}
	}

	posts := content.Posts()

	added, err := c.store.AddPosts(ctx, posts)
	if err != nil {
		return 0, fmt.Errorf("add posts: %w", err)
	}

	c.replays.remember(key, now.Add(replayTTL), now)

	c.log.InfoContext(ctx, "Delivery is stored",
		"topic", topic,
		"dialect", content.Dialect(),
		"postCount", len(posts),
		"addedCount", added)

	return added, nil
}

// Renew repeats the subscribe request for every stored subscription before
// its lease runs out. Failures do not stop the run and are returned joined.
func (c *Coordinator) Renew(ctx context.Context) error {
	subs, err := c.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	g.SetLimit(c.cfg.RenewConcurrency)

	for _, sub := range subs {
		g.Go(func() error {
			if subErr := c.hub.Subscribe(ctx, sub.Hub, sub.URL); subErr != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("renew %s: %w", sub.URL, subErr))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	c.log.InfoContext(ctx, "Leases are renewed",
		"subscriptionCount", len(subs),
		"failedCount", len(errs))

	return errors.Join(errs...)
}

func extractURL(input string) (string, error) {
	re, err := xurls.StrictMatchingScheme("https?://")
	if err != nil {
		return "", fmt.Errorf("create regexp: %w", err)
	}

	found := re.FindString(strings.TrimSpace(input))
	if found == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, input)
	}

	return found, nil
}
