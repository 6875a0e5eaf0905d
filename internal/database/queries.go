package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocraft/dbr/v2"

	"feedstream/internal/domain"
)

const (
	subscriptionsTable = "subscriptions"
	postsTable         = "posts"

	deleteBatchSize = 500
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrCascadeIncomplete    = errors.New("cascade delete incomplete")
)

var subscriptionColumns = []any{"url", "hub", "source_url", "subscriber", "date_added", "author"}

var postColumns = []any{"url", "feed_url", "title", "content", "date_published", "author"}

// SubscriptionExists only probes the key, it never loads the record.
func (d *Database) SubscriptionExists(ctx context.Context, url string) (bool, error) {
	var found []int

	_, err := d.session().
		Select("1").
		From(subscriptionsTable).
		Where("url = ?", strings.TrimSpace(url)).
		Limit(1).
		LoadContext(ctx, &found)
	if err != nil {
		return false, fmt.Errorf("query subscription: %w", err)
	}

	return len(found) > 0, nil
}

// CreateSubscription stores sub unless a subscription with the same URL
// exists already. It reports whether a new record was written.
func (d *Database) CreateSubscription(ctx context.Context, sub domain.Subscription) (bool, error) {
	sub.URL = strings.TrimSpace(sub.URL)
	if sub.URL == "" {
		return false, errors.New("subscription URL is empty")
	}

	sub.Hub = strings.TrimSpace(sub.Hub)
	if sub.Hub == "" {
		return false, errors.New("subscription hub is empty")
	}

	if sub.DateAdded.IsZero() {
		sub.DateAdded = time.Now()
	}

	query := "insert or ignore into subscriptions (url, hub, source_url, subscriber, date_added, author) " +
		"values (?, ?, ?, ?, ?, ?)"

	result, err := d.session().
		InsertBySql(query, sub.URL, sub.Hub, sub.SourceURL, sub.Subscriber, sub.DateAdded.UTC(), sub.Author).
		ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (d *Database) GetSubscription(ctx context.Context, url string) (*domain.Subscription, error) {
	var sub domain.Subscription

	err := d.session().
		Select(subscriptionColumns...).
		From(subscriptionsTable).
		Where("url = ?", strings.TrimSpace(url)).
		LoadOneContext(ctx, &sub)
	if errors.Is(err, dbr.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	return &sub, nil
}

func (d *Database) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var subs []domain.Subscription

	_, err := d.session().
		Select(subscriptionColumns...).
		From(subscriptionsTable).
		OrderAsc("url").
		LoadContext(ctx, &subs)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}

	return subs, nil
}

// DeleteSubscription removes every post of the feed in batches until none is
// left and only then removes the subscription itself, so a failed cascade
// can be retried. It returns the number of deleted posts.
func (d *Database) DeleteSubscription(ctx context.Context, url string) (int, error) {
	url = strings.TrimSpace(url)
	sess := d.session()
	deleted := 0

	for {
		var ids []int64

		_, err := sess.
			Select("id").
			From(postsTable).
			Where("feed_url = ?", url).
			OrderAsc("id").
			Limit(deleteBatchSize).
			LoadContext(ctx, &ids)
		if err != nil {
			return deleted, fmt.Errorf("%w: select posts: %w", ErrCascadeIncomplete, err)
		}

		if len(ids) == 0 {
			break
		}

		result, err := sess.
			DeleteFrom(postsTable).
			Where("id IN ?", ids).
			ExecContext(ctx)
		if err != nil {
			return deleted, fmt.Errorf("%w: delete posts: %w", ErrCascadeIncomplete, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("%w: get affected rows: %w", ErrCascadeIncomplete, err)
		}

		deleted += int(affected)

		d.log.DebugContext(ctx, "Post batch is deleted",
			"feedURL", url,
			"batchSize", len(ids),
			"deletedTotal", deleted)
	}

	result, err := sess.
		DeleteFrom(subscriptionsTable).
		Where("url = ?", url).
		ExecContext(ctx)
	if err != nil {
		return deleted, fmt.Errorf("delete subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return deleted, fmt.Errorf("get affected rows: %w", err)
	}

	if affected == 0 {
		return deleted, ErrSubscriptionNotFound
	}

	return deleted, nil
}

// AddPosts stores posts in one transaction. Posts whose (feed URL, URL) pair
// is already stored are skipped; the number of new rows is returned.
func (d *Database) AddPosts(ctx context.Context, posts []domain.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := d.session().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.RollbackUnlessCommitted()

	query := "insert or ignore into posts (url, feed_url, title, content, date_published, author) " +
		"values (?, ?, ?, ?, ?, ?)"

	added := 0
	for _, p := range posts {
		if strings.TrimSpace(p.FeedURL) == "" {
			return 0, fmt.Errorf("post feed URL is empty (URL = %s)", p.URL)
		}

		result, execErr := tx.
			InsertBySql(query, p.URL, p.FeedURL, p.Title, p.Content, p.DatePublished.UTC(), p.Author).
			ExecContext(ctx)
		if execErr != nil {
			return 0, fmt.Errorf("insert post: %w", execErr)
		}

		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return 0, fmt.Errorf("get affected rows: %w", affectedErr)
		}

		added += int(affected)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return added, nil
}

func (d *Database) LatestPosts(ctx context.Context, limit uint64) ([]domain.Post, error) {
	var posts []domain.Post

	_, err := d.session().
		Select(postColumns...).
		From(postsTable).
		OrderDesc("date_published").
		OrderDesc("id").
		Limit(limit).
		LoadContext(ctx, &posts)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}

	return posts, nil
}

func (d *Database) CountPosts(ctx context.Context, feedURL string) (int, error) {
	var count int

	err := d.session().
		Select("count(*)").
		From(postsTable).
		Where("feed_url = ?", strings.TrimSpace(feedURL)).
		LoadOneContext(ctx, &count)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}

	return count, nil
}
