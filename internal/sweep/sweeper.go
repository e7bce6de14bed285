// Package sweep runs the optional periodic cleanup of consumed and expired
// login tokens.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Store deletes stale login tokens past the retention window.
type Store interface {
	SweepExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// Sweeper schedules token cleanup on a cron pattern. Expiry on the request
// path is purely logical; the sweeper only reclaims storage.
type Sweeper struct {
	store     Store
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. An empty schedule disables it.
func NewSweeper(log *slog.Logger, store Store, schedule string, retention time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:     store,
		schedule:  strings.TrimSpace(schedule),
		retention: retention,
		logger:    log.With(slog.String("service", "sweep")),
	}
}

// Enabled reports whether a schedule is configured.
func (s *Sweeper) Enabled() bool {
	return s.schedule != ""
}

// Start validates the schedule and begins periodic sweeps. A disabled
// sweeper starts as a no-op.
func (s *Sweeper) Start() error {
	if !s.Enabled() {
		s.logger.Info("token sweep disabled")
		return nil
	}
	if s.store == nil {
		return errors.New("sweep store not configured")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("token sweep scheduled",
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.store.SweepExpired(ctx, s.retention); err != nil {
		s.logger.Error("token sweep failed", slog.Any("error", err))
	}
}
