package websub

import (
	"context"
	"log/slog"
	"sync"

	"feedstream/internal/domain"
)

var allowedTransitions = map[domain.SubscriptionState][]domain.SubscriptionState{
	// A hub may verify before its 202 reaches us, so VERIFIED is reachable
	// from every state once the registry confirms the topic.
	domain.StateUnsubscribed: {
		domain.StateSubscribeRequested,
		domain.StateVerified,
		domain.StateFailed,
	},
	domain.StateSubscribeRequested: {
		domain.StateSubscribeRequested,
		domain.StateVerified,
		domain.StateFailed,
	},
	domain.StateVerified: {
		domain.StateSubscribeRequested,
		domain.StateVerified,
		domain.StateFailed,
	},
	// Only a new subscribe attempt (lease renewal) or its verification
	// leaves FAILED.
	domain.StateFailed: {
		domain.StateSubscribeRequested,
		domain.StateVerified,
		domain.StateFailed,
	},
}

type topicState struct {
	state   domain.SubscriptionState
	version uint64
}

// Tracker holds the in-memory protocol state of every topic. Unknown topics
// are UNSUBSCRIBED with version 0.
type Tracker struct {
	mu     sync.Mutex
	states map[string]topicState
	seq    uint64
	log    *slog.Logger
}

func NewTracker(log *slog.Logger) *Tracker {
	return &Tracker{
		states: make(map[string]topicState),
		log:    log,
	}
}

func (t *Tracker) State(topic string) domain.SubscriptionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.states[topic].state
}

// Version changes every time the state of topic changes.
func (t *Tracker) Version(topic string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.states[topic].version
}

// Transition moves topic to state if the protocol allows it and reports
// whether it did.
func (t *Tracker) Transition(ctx context.Context, topic string, to domain.SubscriptionState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transitionLocked(ctx, topic, to)
}

// TransitionIfUnchanged is Transition that is skipped when topic moved on
// since version was read.
func (t *Tracker) TransitionIfUnchanged(
	ctx context.Context,
	topic string,
	version uint64,
	to domain.SubscriptionState,
) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current := t.states[topic]; current.version != version {
		t.log.DebugContext(ctx, "Keeping newer subscription state",
			"topic", topic,
			"state", current.state.String(),
			"skipped", to.String())

		return false
	}

	return t.transitionLocked(ctx, topic, to)
}

func (t *Tracker) transitionLocked(ctx context.Context, topic string, to domain.SubscriptionState) bool {
	from := t.states[topic].state
	if !canTransition(from, to) {
		t.log.WarnContext(ctx, "Ignoring invalid subscription state transition",
			"topic", topic,
			"from", from.String(),
			"to", to.String())

		return false
	}

	t.seq++
	t.states[topic] = topicState{state: to, version: t.seq}

	t.log.DebugContext(ctx, "Subscription state is changed",
		"topic", topic,
		"from", from.String(),
		"to", to.String())

	return true
}

// Forget returns topic to UNSUBSCRIBED.
func (t *Tracker) Forget(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, topic)
}

func canTransition(from, to domain.SubscriptionState) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
