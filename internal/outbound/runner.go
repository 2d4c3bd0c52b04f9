package outbound

import (
	"context"
	"errors"
	"time"

	"techentry-bot/pkg/logger"
)

// Sweeper is the part of Scheduler the Runner drives.
type Sweeper interface {
	WindowOpen() bool
	DispatchInitial(ctx context.Context, limit int) (Result, error)
	FollowupSweep(ctx context.Context) (Result, error)
}

// Runner triggers both sweeps on a fixed interval while the window is open.
// Operators can still trigger sweeps by hand; the sweep lock keeps runs apart.
type Runner struct {
	Sweeper  Sweeper
	Interval time.Duration
}

// Run blocks until ctx is done.
func (r Runner) Run(ctx context.Context) {
	if r.Interval <= 0 || r.Sweeper == nil {
		return
	}
	log := logger.From(ctx).With("component", "sweep_runner")
	log.Info("sweep runner started", "interval", r.Interval.String())

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("sweep runner stopped")
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one dispatch and one follow-up pass.
func (r Runner) Tick(ctx context.Context) {
	log := logger.From(ctx).With("component", "sweep_runner")
	if !r.Sweeper.WindowOpen() {
		log.Debug("sending window closed; skipping tick")
		return
	}
	if _, err := r.Sweeper.DispatchInitial(ctx, 0); err != nil && !expected(err) {
		log.Error("dispatch sweep failed", "err", err)
	}
	if _, err := r.Sweeper.FollowupSweep(ctx); err != nil && !expected(err) {
		log.Error("followup sweep failed", "err", err)
	}
}

func expected(err error) bool {
	return errors.Is(err, ErrWindowClosed) || errors.Is(err, ErrSweepInProgress)
}
