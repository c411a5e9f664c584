// Package scheduler drives the two recurring jobs the engine needs:
// the hourly benchmark sweep and the drift-signature precompute pass.
// It is a fixed, two-duty scheduler rather than a pluggable registry —
// the engine only ever needs these two jobs, so a registry would add
// indirection with no real caller.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modelbench/engine/internal/drift"
	"github.com/modelbench/engine/internal/orchestrator"
	"github.com/modelbench/engine/internal/store"
	"github.com/modelbench/engine/pkg/models"
)

const (
	tickInterval      = time.Minute
	sweepMinute       = 0
	driftMinute       = 5
	driftSmearModulus = 300 // seconds, per-model TTL smear so every model's
	// precompute doesn't land on the exact same instant
)

// TargetLister returns the current set of models to sweep, grouped
// however the caller likes — the scheduler doesn't care, it just
// forwards the list to the orchestrator.
type TargetLister func(ctx context.Context) ([]orchestrator.ModelTarget, error)

// Status is a snapshot of scheduler state, safe to read concurrently
// with the run loop.
type Status struct {
	IsRunning        bool
	NextScheduledRun time.Time
	MinutesUntilNext int
}

// Scheduler owns the ticker loop that fires the hourly sweep and the
// drift precompute pass.
type Scheduler struct {
	orch    *orchestrator.Orchestrator
	store   store.Store
	targets TargetLister

	mu     sync.Mutex
	status Status

	stopOnce sync.Once
	doneCh   chan struct{}
}

func New(orch *orchestrator.Orchestrator, st store.Store, targets TargetLister) *Scheduler {
	return &Scheduler{
		orch:    orch,
		store:   st,
		targets: targets,
		doneCh:  make(chan struct{}),
	}
}

// Start runs the scheduler loop in the caller's goroutine. It blocks
// until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Dur("tick", tickInterval).Msg("scheduler started")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(s.doneCh)

	s.updateNextRun(time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// Done is closed once Start's loop has returned, letting a caller wait
// for an in-flight sweep to finish draining before a second shutdown
// signal forces an abort.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	minute := now.Minute()

	if minute == sweepMinute {
		s.runSweep(ctx, now)
	}
	if minute == driftMinute {
		s.runDriftPrecompute(ctx, now)
	}

	s.updateNextRun(now)
}

func (s *Scheduler) runSweep(ctx context.Context, now time.Time) {
	s.setRunning(true)
	defer s.setRunning(false)

	targets, err := s.targets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list sweep targets")
		return
	}

	batchTimestamp := now.UTC().Format(time.RFC3339)
	log.Info().Int("targets", len(targets)).Str("batch", batchTimestamp).Msg("hourly sweep starting")
	s.orch.RunSweep(ctx, targets, batchTimestamp)
	log.Info().Str("batch", batchTimestamp).Msg("hourly sweep complete")
}

// runDriftPrecompute recomputes and caches each model's drift signature
// so dashboard reads never block on the full computation. Each model's
// actual run is smeared across the five-minute window: it starts no
// earlier than its deterministic offset (ModelID mod 300 seconds) after
// the pass begins, so every model's store load and CPU work doesn't land
// in the same instant.
func (s *Scheduler) runDriftPrecompute(ctx context.Context, now time.Time) {
	targets, err := s.targets(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list drift targets")
		return
	}

	start := time.Now()
	for _, t := range targets {
		offset := time.Duration(t.ModelID%driftSmearModulus) * time.Second
		if wait := time.Until(start.Add(offset)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
		if err := s.precomputeOne(ctx, t.ModelID, now); err != nil {
			log.Warn().Err(err).Int64("modelId", t.ModelID).Msg("drift precompute failed")
		}
	}
}

func (s *Scheduler) precomputeOne(ctx context.Context, modelID int64, now time.Time) error {
	history, err := s.store.ListScores(ctx, store.ScoreFilter{
		ModelID:      modelID,
		Suite:        models.SuiteHourly,
		Limit:        28 * 24,
		ExcludeSynth: true,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	baseline := make([]float64, 0, len(history))
	last24h := make([]float64, 0, len(history))
	phSeries := make([]float64, 0, len(history))
	recentAxes := make([]models.AxisMap, 0, len(history))
	cutoff := now.Add(-24 * time.Hour)

	for _, sc := range history {
		if sc.IsSentinel() {
			continue
		}
		baseline = append(baseline, sc.StupidScore)
		phSeries = append(phSeries, sc.StupidScore)
		recentAxes = append(recentAxes, sc.Axes)
		if sc.Ts.After(cutoff) {
			last24h = append(last24h, sc.StupidScore)
		}
	}

	current := history[len(history)-1]
	sig, ok := drift.Compute(drift.SignatureInput{
		ModelID:           modelID,
		Current:           current.Axes,
		CurrentScore:      current.StupidScore,
		Baseline28d:       baseline,
		Last24h:           last24h,
		PageHinkleySeries: phSeries,
		RecentAxes:        recentAxes,
	}, now)
	if !ok {
		return nil
	}

	if err := s.detectChangePoints(ctx, modelID, history); err != nil {
		log.Warn().Err(err).Int64("modelId", modelID).Msg("change-point detection failed")
	}

	return s.store.PutDriftSignature(ctx, &sig)
}

// detectChangePoints runs change-point detection over a model's
// non-sentinel hourly history and persists any candidate that isn't a
// near-duplicate of an already-recorded change-point.
func (s *Scheduler) detectChangePoints(ctx context.Context, modelID int64, history []models.Score) error {
	existing, err := s.store.ListChangePoints(ctx, modelID, 0)
	if err != nil {
		return err
	}
	existingTs := make([]time.Time, len(existing))
	for i, cp := range existing {
		existingTs[i] = cp.DetectedAt
	}

	for _, cp := range drift.BuildChangePoints(modelID, history, existingTs) {
		near, err := s.store.ChangePointsNear(ctx, modelID, cp.DetectedAt, time.Hour)
		if err != nil {
			return err
		}
		if len(near) > 0 {
			continue
		}
		cp := cp
		if err := s.store.InsertChangePoint(ctx, &cp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.IsRunning = running
}

func (s *Scheduler) updateNextRun(now time.Time) {
	next := now.Truncate(time.Hour).Add(time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.NextScheduledRun = next
	s.status.MinutesUntilNext = int(next.Sub(now).Minutes())
}

// Status returns a snapshot safe to read concurrently with the run loop.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
