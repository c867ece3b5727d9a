package render

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/task"
)

// TaskTypeSweep is the periodic task that re-renders every tracked list.
const TaskTypeSweep = "render.sweep"

// SweepConfig tunes the periodic sweep.
type SweepConfig struct {
	Interval  time.Duration
	Freshness time.Duration
	// Pause is the idle gap after each render of one sweep, measured from when
	// the render finished. Zero disables pacing.
	Pause time.Duration
}

// DefaultSweepConfig mirrors the documented cadence: a 5 minute period,
// 240 seconds of freshness and a short inter-render pause.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{Interval: 5 * time.Minute, Freshness: 240 * time.Second, Pause: 750 * time.Millisecond}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Rendered int
	Skipped  int
	Fresh    int
	Failed   int
}

// Sweeper periodically renders every tracked list that is not fresh.
type Sweeper struct {
	renderer *Renderer
	cfg      SweepConfig

	running   atomic.Bool
	lastSweep atomic.Time
	cancel    func()
}

// NewSweeper registers the sweep task on the renderer's router.
func NewSweeper(r *Renderer, cfg SweepConfig) *Sweeper {
	s := &Sweeper{renderer: r, cfg: cfg}
	r.router.RegisterHandler(TaskTypeSweep, s.handleSweep)
	return s
}

// Start schedules the sweep every cfg.Interval until Stop or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 || s.cancel != nil {
		return
	}
	s.cancel = s.renderer.router.ScheduleEvery(s.cfg.Interval, task.Task{
		Type: TaskTypeSweep,
		Options: task.TaskOptions{
			GroupKey:       TaskTypeSweep,
			IdempotencyKey: TaskTypeSweep,
			IdempotencyTTL: s.cfg.Interval / 2,
			MaxAttempts:    1,
		},
	})
	log.ApplicationLogger().Info("Sweeper scheduled", "interval", s.cfg.Interval.String(), "freshness", s.cfg.Freshness.String())
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop cancels the schedule. A sweep in progress finishes its current render.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// LastSweep reports when the most recent sweep started.
func (s *Sweeper) LastSweep() time.Time { return s.lastSweep.Load() }

func (s *Sweeper) handleSweep(ctx context.Context, _ any) error {
	stats, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	log.ApplicationLogger().Debug("Sweep finished",
		"rendered", stats.Rendered, "skipped", stats.Skipped, "fresh", stats.Fresh, "failed", stats.Failed)
	return nil
}

// Sweep renders every tracked list whose last render is older than the freshness window.
// Overlapping calls return immediately with empty stats.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if !s.running.CompareAndSwap(false, true) {
		return stats, nil
	}
	defer s.running.Store(false)

	now := s.renderer.now()
	s.lastSweep.Store(now)
	metrics.SweepCount.Inc()

	rendered := false
	for _, e := range s.renderer.registry.Lists() {
		if s.cfg.Freshness > 0 && e.Rendered() && now.Sub(e.LastRenderedAt) < s.cfg.Freshness {
			stats.Fresh++
			metrics.SweepSkippedFresh.Inc()
			continue
		}
		if rendered {
			if err := s.pause(ctx); err != nil {
				return stats, fmt.Errorf("sweep interrupted: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("sweep interrupted: %w", err)
		}
		rendered = true
		res, err := s.renderer.Render(ctx, e.Key())
		switch {
		case err != nil:
			stats.Failed++
			log.ApplicationLogger().Warn("Sweep render failed", "list", e.Key().String(), "err", err)
		case res.OK():
			stats.Rendered++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// pause waits cfg.Pause or until ctx ends.
func (s *Sweeper) pause(ctx context.Context) error {
	if s.cfg.Pause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Pause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
