package websub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"feedstream/internal/domain"
	"feedstream/internal/ratelimiter"
)

const (
	modeSubscribe   = "subscribe"
	modeUnsubscribe = "unsubscribe"

	maxErrorBodySize = 4 << 10
)

var ErrHubTransport = errors.New("hub transport error")

type ClientConfig struct {
	CallbackURL  string
	VerifyToken  string
	Secret       string
	LeaseSeconds int64
	Timeout      time.Duration
}

// Client sends subscription requests to hubs and records their outcome in
// the Tracker.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	limiter *ratelimiter.RateLimiter
	tracker *Tracker
	log     *slog.Logger
}

func NewClient(
	cfg ClientConfig,
	limiter *ratelimiter.RateLimiter,
	tracker *Tracker,
	log *slog.Logger,
) *Client {
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: limiter,
		tracker: tracker,
		log:     log,
	}
}

// Subscribe asks hub to start pushing topic to the callback URL. Only an
// HTTP 202 counts as success; anything else marks the topic FAILED and is
// returned wrapped in ErrHubTransport. Lease renewal calls it again.
func (c *Client) Subscribe(ctx context.Context, hub, topic string) error {
	version := c.tracker.Version(topic)

	if err := c.send(ctx, modeSubscribe, hub, topic); err != nil {
		c.tracker.Transition(ctx, topic, domain.StateFailed)

		c.log.ErrorContext(ctx, "Failed to subscribe to hub",
			"error", err,
			"hub", hub,
			"topic", topic)

		return err
	}

	// The hub may already have verified the topic while the request was in
	// flight; that outcome is newer than the 202.
	c.tracker.TransitionIfUnchanged(ctx, topic, version, domain.StateSubscribeRequested)

	c.log.InfoContext(ctx, "Subscription is requested",
		"hub", hub,
		"topic", topic)

	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, hub, topic string) error {
	if err := c.send(ctx, modeUnsubscribe, hub, topic); err != nil {
		c.log.ErrorContext(ctx, "Failed to unsubscribe from hub",
			"error", err,
			"hub", hub,
			"topic", topic)

		return err
	}

	c.log.InfoContext(ctx, "Unsubscription is requested",
		"hub", hub,
		"topic", topic)

	return nil
}

func (c *Client) send(ctx context.Context, mode, hub, topic string) error {
	hubURL, err := url.ParseRequestURI(strings.TrimSpace(hub))
	if err != nil {
		return fmt.Errorf("%w: parse hub URL: %w", ErrHubTransport, err)
	}

	if err = c.limiter.Wait(ctx, hubURL.Host); err != nil {
		return fmt.Errorf("%w: wait for hub slot: %w", ErrHubTransport, err)
	}

	form := c.form(mode, topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL.String(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrHubTransport, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req) //nolint:gosec // hub URL comes from a stored subscription
	if err != nil {
		return fmt.Errorf("%w: do request: %w", ErrHubTransport, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"hub", hub,
				"operation", mode)
		}
	}()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

		return fmt.Errorf("%w: unexpected status: %d: %s",
			ErrHubTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

func (c *Client) form(mode, topic string) url.Values {
	form := url.Values{
		"hub.callback":      {c.cfg.CallbackURL},
		"hub.mode":          {mode},
		"hub.topic":         {topic},
		"hub.verify":        {"async"},
		"hub.lease_seconds": {strconv.FormatInt(c.cfg.LeaseSeconds, 10)},
		"hub.verify_token":  {c.cfg.VerifyToken},
	}

	if c.cfg.Secret != "" {
		form.Set("hub.secret", c.cfg.Secret)
	}

	return form
}
