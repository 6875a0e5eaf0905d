package ingest

import "sync"

// topicLocks serialises work on one topic while letting distinct topics
// proceed in parallel. Entries are dropped once nobody holds or waits on them.
type topicLocks struct {
	mu    sync.Mutex
	locks map[string]*topicLock
}

type topicLock struct {
	mu   sync.Mutex
	refs int
}

func newTopicLocks() *topicLocks {
	return &topicLocks{locks: make(map[string]*topicLock)}
}

// lock blocks until topic is free and returns the matching unlock.
func (l *topicLocks) lock(topic string) func() {
	l.mu.Lock()
	tl, ok := l.locks[topic]
	if !ok {
		tl = &topicLock{}
		l.locks[topic] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()

	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, topic)
		}
		l.mu.Unlock()
	}
}

func (l *topicLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
