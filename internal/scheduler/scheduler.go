package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	renewLeasesTimeout    = 30 * time.Minute
)

type Renewer interface {
	Renew(ctx context.Context) error
}

// Scheduler re-subscribes every feed on a cron schedule so that hub leases
// never run out.
type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	spec    string
	renewer Renewer
	log     *slog.Logger
}

func New(ctx context.Context, spec string, renewer Renewer, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:     ctx,
		cron:    c,
		spec:    spec,
		renewer: renewer,
		log:     log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.renewLeases); err != nil {
		return fmt.Errorf("add renewal job (spec = %s): %w", s.spec, err)
	}

	s.cron.Start()

	return nil
}

// Stop waits for a running renewal to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) renewLeases() {
	ctx, cancel := context.WithTimeout(s.ctx, renewLeasesTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	start := time.Now()

	if err := s.renewer.Renew(ctx); err != nil {
		s.log.ErrorContext(ctx, "Failed to renew some leases",
			"error", err,
			"durationSeconds", time.Since(start).Seconds())
		return
	}

	s.log.InfoContext(ctx, "Lease renewal is done",
		"durationSeconds", time.Since(start).Seconds())
}
