package ingest

import (
	"testing"
	"time"
)

func TestReplayCacheSeen(t *testing.T) {
	cache := newReplayCache(2)
	if cache == nil {
		t.Fatalf("expected cache instance")
	}

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	key := replayKey("http://example.org/feed", []byte("<feed/>"))

	if cache.seen(key, now) {
		t.Fatalf("expected empty cache to report nothing seen")
	}

	cache.remember(key, now.Add(time.Hour), now)

	if !cache.seen(key, now) {
		t.Fatalf("expected remembered delivery to be seen")
	}

	if cache.seen(replayKey("http://example.org/feed", []byte("<feed></feed>")), now) {
		t.Fatalf("expected different body not to be seen")
	}
	if cache.seen(replayKey("http://other.example.org/feed", []byte("<feed/>")), now) {
		t.Fatalf("expected different topic not to be seen")
	}
}

func TestReplayCacheExpiresEntries(t *testing.T) {
	cache := newReplayCache(2)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.remember("key", now.Add(time.Minute), now)

	if cache.seen("key", now.Add(2*time.Minute)) {
		t.Fatalf("expected cache entry to expire")
	}

	if len(cache.entries) != 0 {
		t.Fatalf("expected expired cache entry to be removed")
	}
}

func TestReplayCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newReplayCache(2)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Hour)

	cache.remember("a", expiresAt, now)
	cache.remember("b", expiresAt, now)

	if !cache.seen("a", now) {
		t.Fatalf("expected entry a to exist before eviction check")
	}

	cache.remember("c", expiresAt, now)

	if !cache.seen("a", now) {
		t.Fatalf("expected entry a to remain after evicting least recently used")
	}
	if cache.seen("b", now) {
		t.Fatalf("expected entry b to be evicted")
	}
	if !cache.seen("c", now) {
		t.Fatalf("expected entry c to be cached")
	}
}

func TestNilReplayCache(t *testing.T) {
	var cache *replayCache

	now := time.Now()
	cache.remember("key", now.Add(time.Hour), now)

	if cache.seen("key", now) {
		t.Fatalf("expected nil cache to never report a replay")
	}
}

func TestReplayCacheForgetTopic(t *testing.T) {
	cache := newReplayCache(8)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Hour)

	deleted := replayKey("http://example.org/feed", []byte("<feed/>"))
	kept := replayKey("http://other.example.org/feed", []byte("<feed/>"))

	cache.remember(deleted, expiresAt, now)
	cache.remember(kept, expiresAt, now)

	cache.forgetTopic("http://example.org/feed")

	if cache.seen(deleted, now) {
		t.Fatalf("expected deleted topic to be forgotten")
	}
	if !cache.seen(kept, now) {
		t.Fatalf("expected other topic to be kept")
	}
}
