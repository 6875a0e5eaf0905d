package ingest

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

const (
	replayCacheMaxEntries = 1024
	replayTTL             = 10 * time.Minute
	replayKeySeparator    = "#"
)

// replayCache remembers deliveries that were stored recently. Hubs retry a
// payload when our 200 is lost, so a hit is acknowledged without another
// write. Entries are keyed on the topic and a hash of the raw body: the same
// document pushed for another topic, or an edited document for this one, is
// new work. A hit is only consulted after the subscription check, and the
// entries of a deleted topic are dropped with it.
type replayCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type replayCacheEntry struct {
	key       string
	expiresAt time.Time
}

func newReplayCache(maxEntries int) *replayCache {
	if maxEntries <= 0 {
		return nil
	}

	return &replayCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func replayKey(topic string, body []byte) string {
	sum := sha256.Sum256(body)

	return topic + replayKeySeparator + hex.EncodeToString(sum[:])
}

// forgetTopic drops every delivery remembered for topic.
func (c *replayCache) forgetTopic(topic string) {
	if c == nil {
		return
	}

	prefix := topic + replayKeySeparator

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
		}
	}
}

func (c *replayCache) seen(key string, now time.Time) bool {
	if c == nil || key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}

	entry, ok := elem.Value.(*replayCacheEntry)
	if !ok {
		return false
	}

	if now.After(entry.expiresAt) {
		c.removeElement(elem)

		return false
	}

	c.order.MoveToFront(elem)

	return true
}

func (c *replayCache) remember(key string, expiresAt time.Time, now time.Time) {
	if c == nil || key == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry, castOk := elem.Value.(*replayCacheEntry)
		if !castOk {
			return
		}

		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&replayCacheEntry{
		key:       key,
		expiresAt: expiresAt,
	})
	c.entries[key] = elem

	c.evictExpiredLocked(now)
	c.enforceSizeLimitLocked()
}

func (c *replayCache) evictExpiredLocked(now time.Time) {
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()

		if entry, ok := elem.Value.(*replayCacheEntry); ok && now.After(entry.expiresAt) {
			c.removeElement(elem)
		}

		elem = prev
	}
}

func (c *replayCache) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *replayCache) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*replayCacheEntry)
	if !ok {
		return
	}

	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
