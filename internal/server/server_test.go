package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedstream/internal/database"
	"feedstream/internal/domain"
	"feedstream/internal/feed"
	"feedstream/internal/ingest"
	"feedstream/internal/ratelimiter"
	"feedstream/internal/server"
	"feedstream/internal/websub"
)

const (
	sampleTopic = "http://pubsubhubbub-loadtest.appspot.com/feed/foo"
	brokenTopic = "http://broken.example.org/feed"
	verifyToken = "token"
)

type fakeFetcher map[string][]byte

func (f fakeFetcher) Fetch(_ context.Context, rawURL string) (*feed.Document, error) {
	body, ok := f[rawURL]
	if !ok {
		return nil, fmt.Errorf("do request: unexpected status: %d", http.StatusNotFound)
	}

	return &feed.Document{URL: rawURL, Body: body}, nil
}

type env struct {
	db      *database.Database
	tracker *websub.Tracker
	fetcher fakeFetcher
	srv     *httptest.Server
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("..", "feed", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}

	return data
}

func newEnv(t *testing.T, secret string) *env {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(hub.Close)

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "test.sqlite"), log)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tracker := websub.NewTracker(log)
	client := websub.NewClient(websub.ClientConfig{
		CallbackURL:  "http://streamer.example.org/posts",
		VerifyToken:  verifyToken,
		Secret:       secret,
		LeaseSeconds: 3600,
		Timeout:      time.Second,
	}, ratelimiter.New(0, log), tracker, log)

	fetcher := fakeFetcher{}
	parser := feed.NewParser(hub.URL, true)
	coord := ingest.New(db, fetcher, parser, client, ingest.Config{HubSecret: secret}, log)
	verifier := websub.NewVerifier(db, tracker, verifyToken, log)

	srv := httptest.NewServer(server.New(coord, verifier, db, tracker, 30, log).Handler())
	t.Cleanup(srv.Close)

	return &env{db: db, tracker: tracker, fetcher: fetcher, srv: srv}
}

func (e *env) do(t *testing.T, method, path string, body io.Reader, header http.Header) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	for key, values := range header {
		req.Header[key] = values
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	return resp.StatusCode, string(data)
}

func (e *env) subscribe(t *testing.T, topic string) {
	t.Helper()

	if _, err := e.db.CreateSubscription(context.Background(), domain.Subscription{URL: topic, Hub: "http://hub.example.org/"}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
}

func (e *env) countPosts(t *testing.T, topic string) int {
	t.Helper()

	count, err := e.db.CountPosts(context.Background(), topic)
	if err != nil {
		t.Fatalf("count posts: %v", err)
	}

	return count
}

func challengeQuery(mode, topic, challenge string) string {
	return "/posts?" + url.Values{
		"hub.mode":      {mode},
		"hub.topic":     {topic},
		"hub.challenge": {challenge},
	}.Encode()
}

func TestChallengeForKnownTopicIsEchoed(t *testing.T) {
	e := newEnv(t, "")
	e.subscribe(t, sampleTopic)

	status, body := e.do(t, http.MethodGet, challengeQuery("subscribe", sampleTopic, "c h&a"), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body != "c h&a" {
		t.Fatalf("expected challenge echoed verbatim, got %q", body)
	}
}

func TestChallengeForUnknownTopicFails(t *testing.T) {
	e := newEnv(t, "")

	status, body := e.do(t, http.MethodGet, challengeQuery("subscribe", sampleTopic, "abc"), nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if strings.TrimSpace(body) != "Challenge failed" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestPushForUnknownFeed(t *testing.T) {
	e := newEnv(t, "")

	status, _ := e.do(t, http.MethodPost, "/posts", strings.NewReader(string(fixture(t, "sample_entries.xml"))), nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if count := e.countPosts(t, sampleTopic); count != 0 {
		t.Fatalf("expected post count unchanged, got %d", count)
	}
}

func TestPushForKnownFeed(t *testing.T) {
	e := newEnv(t, "")
	e.subscribe(t, sampleTopic)

	status, body := e.do(t, http.MethodPost, "/posts", strings.NewReader(string(fixture(t, "sample_entries.xml"))), nil)
	if status != http.StatusOK || body != "accepted" {
		t.Fatalf("expected 200 accepted, got %d %q", status, body)
	}

	status, body = e.do(t, http.MethodGet, "/posts", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	var posts []domain.Post
	if err := json.Unmarshal([]byte(body), &posts); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if len(posts) != 2 || posts[0].Title != "A" || posts[1].Title != "B" {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if posts[0].FeedURL != sampleTopic {
		t.Fatalf("unexpected feed URL %q", posts[0].FeedURL)
	}
}

func TestPushWithBadEntries(t *testing.T) {
	e := newEnv(t, "")
	e.subscribe(t, brokenTopic)

	status, body := e.do(t, http.MethodPost, "/posts", strings.NewReader(string(fixture(t, "malformed_feed.xml"))), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if !strings.HasPrefix(body, "Bad entries: xml.SyntaxError: ") {
		t.Fatalf("unexpected body %q", body)
	}
	if count := e.countPosts(t, brokenTopic); count != 0 {
		t.Fatalf("expected nothing stored, got %d", count)
	}
}

func TestPushSignature(t *testing.T) {
	e := newEnv(t, "s3cret")
	e.subscribe(t, sampleTopic)
	payload := fixture(t, "sample_entries.xml")

	status, _ := e.do(t, http.MethodPost, "/posts", strings.NewReader(string(payload)), nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", status)
	}

	header := http.Header{websub.SignatureHeader: {websub.Sign("s3cret", payload)}}

	status, body := e.do(t, http.MethodPost, "/posts", strings.NewReader(string(payload)), header)
	if status != http.StatusOK || body != "accepted" {
		t.Fatalf("expected 200 accepted, got %d %q", status, body)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	e := newEnv(t, "")
	e.fetcher["http://example.org/feed"] = fixture(t, "sample_entries.xml")

	form := url.Values{"url": {"http://example.org/feed"}, "subscriber": {"admin"}}
	formHeader := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	status, body := e.do(t, http.MethodPost, "/subscriptions", strings.NewReader(form.Encode()), formHeader)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %q", status, body)
	}
	if !strings.Contains(body, `"state":"SUBSCRIBE_REQUESTED"`) {
		t.Fatalf("expected requested state in %s", body)
	}

	status, _ = e.do(t, http.MethodPost, "/subscriptions", strings.NewReader(form.Encode()), formHeader)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", status)
	}

	status, body = e.do(t, http.MethodGet, challengeQuery("subscribe", sampleTopic, "ok"), nil, nil)
	if status != http.StatusOK || body != "ok" {
		t.Fatalf("expected challenge to pass, got %d %q", status, body)
	}

	status, body = e.do(t, http.MethodGet, "/subscriptions", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	var subs []struct {
		URL        string `json:"url"`
		Subscriber string `json:"subscriber"`
		State      string `json:"state"`
	}
	if err := json.Unmarshal([]byte(body), &subs); err != nil {
		t.Fatalf("decode subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].URL != sampleTopic || subs[0].Subscriber != "admin" || subs[0].State != "VERIFIED" {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	status, body = e.do(t, http.MethodDelete, "/subscriptions?url="+url.QueryEscape(sampleTopic), nil, nil)
	if status != http.StatusOK || strings.TrimSpace(body) != `{"deletedPosts":2}` {
		t.Fatalf("unexpected delete response %d %q", status, body)
	}

	status, body = e.do(t, http.MethodGet, challengeQuery("unsubscribe", sampleTopic, "bye"), nil, nil)
	if status != http.StatusOK || body != "bye" {
		t.Fatalf("expected unsubscribe challenge to pass, got %d %q", status, body)
	}
	if state := e.tracker.State(sampleTopic); state != domain.StateUnsubscribed {
		t.Fatalf("expected UNSUBSCRIBED, got %s", state)
	}

	status, _ = e.do(t, http.MethodDelete, "/subscriptions?url="+url.QueryEscape(sampleTopic), nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing subscription, got %d", status)
	}
}

func TestAdminRejectsBadInput(t *testing.T) {
	e := newEnv(t, "")
	e.fetcher[brokenTopic] = fixture(t, "malformed_feed.xml")
	formHeader := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	tests := []struct {
		url    string
		status int
	}{
		{url: "no url here", status: http.StatusBadRequest},
		{url: brokenTopic, status: http.StatusUnprocessableEntity},
		{url: "http://missing.example.org/feed", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		form := url.Values{"url": {tt.url}, "subscriber": {"admin"}}

		status, body := e.do(t, http.MethodPost, "/subscriptions", strings.NewReader(form.Encode()), formHeader)
		if status != tt.status {
			t.Fatalf("%q: expected %d, got %d %q", tt.url, tt.status, status, body)
		}
	}

	status, _ := e.do(t, http.MethodDelete, "/subscriptions", nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", status)
	}
}
