package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

type countingRenewer struct {
	calls atomic.Int32
	err   error
}

func (r *countingRenewer) Renew(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), "not a cron spec", &countingRenewer{}, discardLogger())

	if err := s.Start(); err == nil {
		t.Fatalf("expected invalid spec to be rejected")
	}
}

func TestRenewLeasesCallsRenewer(t *testing.T) {
	renewer := &countingRenewer{err: errors.New("hub is down")}
	s := New(context.Background(), "0 3 * * *", renewer, discardLogger())

	s.renewLeases()

	if calls := renewer.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 renewal, got %d", calls)
	}
}

func TestRenewLeasesSkipsWhenStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	renewer := &countingRenewer{}
	s := New(ctx, "0 3 * * *", renewer, discardLogger())

	s.renewLeases()

	if calls := renewer.calls.Load(); calls != 0 {
		t.Fatalf("expected no renewal after shutdown, got %d", calls)
	}
}
