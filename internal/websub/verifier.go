package websub

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"feedstream/internal/domain"
)

var ErrChallengeFailed = errors.New("challenge failed")

// Challenge is a verification request issued by a hub.
type Challenge struct {
	Mode        string
	Topic       string
	Challenge   string
	VerifyToken string
}

// ChallengeFromQuery reports false when query carries no hub.challenge, in
// which case the request is not a verification request at all.
func ChallengeFromQuery(query url.Values) (Challenge, bool) {
	ch := Challenge{
		Mode:        query.Get("hub.mode"),
		Topic:       query.Get("hub.topic"),
		Challenge:   query.Get("hub.challenge"),
		VerifyToken: query.Get("hub.verify_token"),
	}

	return ch, ch.Challenge != ""
}

type SubscriptionChecker interface {
	SubscriptionExists(ctx context.Context, url string) (bool, error)
}

// Verifier answers hub challenges. It only reads the registry.
type Verifier struct {
	registry    SubscriptionChecker
	tracker     *Tracker
	verifyToken string
	log         *slog.Logger
}

func NewVerifier(
	registry SubscriptionChecker,
	tracker *Tracker,
	verifyToken string,
	log *slog.Logger,
) *Verifier {
	return &Verifier{
		registry:    registry,
		tracker:     tracker,
		verifyToken: verifyToken,
		log:         log,
	}
}

// Verify returns the challenge value to echo back, or an error wrapping
// ErrChallengeFailed when the hub must be told no. Other errors come from
// the registry.
func (v *Verifier) Verify(ctx context.Context, ch Challenge) (string, error) {
	if ch.VerifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(ch.VerifyToken), []byte(v.verifyToken)) != 1 {
		return "", fmt.Errorf("%w: verify token mismatch (topic = %s)", ErrChallengeFailed, ch.Topic)
	}

	exists, err := v.registry.SubscriptionExists(ctx, ch.Topic)
	if err != nil {
		return "", fmt.Errorf("check subscription: %w", err)
	}

	switch {
	case ch.Mode == modeSubscribe && exists:
		v.tracker.Transition(ctx, ch.Topic, domain.StateVerified)
	case ch.Mode == modeUnsubscribe && !exists:
		v.tracker.Forget(ch.Topic)
	default:
		return "", fmt.Errorf("%w: mode %q (topic = %s, subscribed = %t)",
			ErrChallengeFailed, ch.Mode, ch.Topic, exists)
	}

	v.log.InfoContext(ctx, "Challenge is accepted",
		"mode", ch.Mode,
		"topic", ch.Topic)

	return ch.Challenge, nil
}
