package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phillip/shared-calendar/repository"
)

// PersistentFailureAttempts is the attempt count after which a pending create
// is reported as stuck on every run.
const PersistentFailureAttempts = 10

// SplitRepairer retries the creates of splits that were left half-applied.
type SplitRepairer struct {
	events  repository.EventRepository
	journal repository.RepairJournal
	log     *slog.Logger
	timeout time.Duration

	cron *cron.Cron
}

func NewSplitRepairer(events repository.EventRepository, journal repository.RepairJournal, log *slog.Logger) *SplitRepairer {
	return &SplitRepairer{
		events:  events,
		journal: journal,
		log:     log,
		timeout: 30 * time.Second,
	}
}

// RunOnce retries every pending create and returns how many were repaired.
func (r *SplitRepairer) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.journal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending repairs: %w", err)
	}

	repaired := 0
	for _, p := range pending {
		ev := p.Event.Clone()
		err := r.events.Create(ctx, &ev)
		if err == nil || errors.Is(err, repository.ErrDuplicate) {
			// A duplicate means an earlier attempt already landed.
			if err := r.journal.Resolve(ctx, p.ID); err != nil {
				r.log.Warn("repaired split but could not clear journal", "pending_id", p.ID.Hex(), "error", err)
				continue
			}
			repaired++
			r.log.Info("split repaired", "base", p.BaseID.Hex(), "created", ev.ID.Hex(), "attempts", p.Attempts+1)
			continue
		}

		if recErr := r.journal.RecordAttempt(ctx, p.ID, err); recErr != nil {
			r.log.Warn("could not record repair attempt", "pending_id", p.ID.Hex(), "error", recErr)
		}
		attempts := p.Attempts + 1
		if attempts >= PersistentFailureAttempts {
			r.log.Error("split repair keeps failing",
				"base", p.BaseID.Hex(),
				"event", p.Event.ID.Hex(),
				"attempts", attempts,
				"error", err,
			)
		} else {
			r.log.Warn("split repair failed", "base", p.BaseID.Hex(), "attempts", attempts, "error", err)
		}
	}
	return repaired, nil
}

// Start schedules RunOnce on spec, a robfig/cron expression such as "@every 5m".
func (r *SplitRepairer) Start(spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.log})))
	if _, err := c.AddFunc(spec, r.run); err != nil {
		return fmt.Errorf("schedule split repair %q: %w", spec, err)
	}
	r.cron = c
	c.Start()
	r.log.Info("split repair job scheduled", "schedule", spec)
	return nil
}

// Stop waits for a running repair to finish, up to ctx's deadline.
func (r *SplitRepairer) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *SplitRepairer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Error("split repair run failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
