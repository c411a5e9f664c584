// Package orchestrator runs one benchmark sweep: for each configured
// provider it walks its models sequentially, and for each model it runs
// the twelve-step sweep procedure — skip check, canary, task
// selection, two-phase trial execution, aggregation, baseline load,
// scoring, persistence, and a drift check. Providers themselves run
// concurrently, one goroutine per provider, using a WaitGroup fan-out.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modelbench/engine/internal/detseed"
	"github.com/modelbench/engine/internal/drift"
	"github.com/modelbench/engine/internal/keypool"
	"github.com/modelbench/engine/internal/provider"
	"github.com/modelbench/engine/internal/scoring"
	"github.com/modelbench/engine/internal/statutil"
	"github.com/modelbench/engine/internal/store"
	"github.com/modelbench/engine/internal/tasks"
	"github.com/modelbench/engine/internal/trial"
	"github.com/modelbench/engine/pkg/models"
)

const (
	tasksPerSweep       = 7
	baselineWindow      = 50
	minBaselineSamples  = 10
	pageHinkleyWindow   = 12
	phase1Trials        = 3
	phase2Trials        = 2
	phase2MaxTokensCap  = 6000
	syntheticMinHistory = 10
)

// ModelTarget is one (vendor, model name) pair the orchestrator should
// sweep. The caller (scheduler) builds this list from the store's
// registered models.
type ModelTarget struct {
	ModelID int64
	Vendor  string
	Name    string
}

// Orchestrator owns every collaborator a sweep needs.
type Orchestrator struct {
	Registry *provider.Registry
	Pool     *keypool.Pool
	Runner   *trial.Runner
	Store    store.Store
	Suite    models.Suite
	Calib    scoring.Calibration
}

func New(reg *provider.Registry, pool *keypool.Pool, runner *trial.Runner, st store.Store, suite models.Suite, calib scoring.Calibration) *Orchestrator {
	return &Orchestrator{Registry: reg, Pool: pool, Runner: runner, Store: st, Suite: suite, Calib: calib}
}

// RunSweep runs one full sweep over targets, grouped by provider so that
// providers run concurrently but models within a provider run
// sequentially. An empty target list no-ops without error.
func (o *Orchestrator) RunSweep(ctx context.Context, targets []ModelTarget, batchTimestamp string) {
	if len(targets) == 0 {
		return
	}

	byVendor := make(map[string][]ModelTarget)
	for _, t := range targets {
		byVendor[t.Vendor] = append(byVendor[t.Vendor], t)
	}

	var wg sync.WaitGroup
	for vendor, vendorTargets := range byVendor {
		wg.Add(1)
		go func(vendor string, vendorTargets []ModelTarget) {
			defer wg.Done()
			for _, target := range vendorTargets {
				o.sweepModel(ctx, target, batchTimestamp)
			}
		}(vendor, vendorTargets)
	}
	wg.Wait()
}

func (o *Orchestrator) sweepModel(ctx context.Context, target ModelTarget, batchTimestamp string) {
	logger := log.With().Str("vendor", target.Vendor).Str("model", target.Name).Logger()

	// Step 1: skip check.
	if skip, reason, until := o.Pool.SkipStatus(target.Name); skip {
		logger.Info().Str("reason", reason).Time("until", until).Msg("skipping model, in overload window")
		return
	}

	// Step 2: canary. A missing driver or credential is a standing
	// configuration gap, not a one-off failure: once the model has a
	// valid score on record, repeated sweeps leave it intact rather than
	// clobbering it with a fresh -999 every hour.
	driver, ok := o.Registry.Get(target.Vendor)
	if !ok {
		if !o.hasPriorValidScore(ctx, target.ModelID) {
			o.persistSentinel(ctx, target, models.SentinelProviderNotConfigured, "provider not configured")
		}
		return
	}
	key, ok := o.Pool.SelectKey(target.Vendor, 0)
	if !ok {
		if !o.hasPriorValidScore(ctx, target.ModelID) {
			o.persistSentinel(ctx, target, models.SentinelProviderNotConfigured, "no credential configured")
		}
		return
	}
	if err := driver.Canary(ctx, key, target.Name); err != nil {
		if provider.IsRetryable(err) {
			// Outer Phase-2 retry: one more canary attempt before giving up.
			if err2 := driver.Canary(ctx, key, target.Name); err2 != nil {
				o.persistSentinelOrSynthetic(ctx, target, models.SentinelCanaryFailed, "canary failed after retry: "+err2.Error(), batchTimestamp)
				return
			}
		} else {
			o.persistSentinelOrSynthetic(ctx, target, models.SentinelCanaryFailed, "canary failed: "+err.Error(), batchTimestamp)
			return
		}
	}

	// Step 3: task selection.
	selected := detseed.SelectTasks(tasks.Catalogue, batchTimestamp, tasksPerSweep)

	// Step 4: Phase 1.
	surviving := map[string]trial.TaskAggregate{}
	var failedTasks []models.Task
	for _, task := range selected {
		agg, ok := o.Runner.RunTask(ctx, task, trial.Options{
			Vendor:         target.Vendor,
			Model:          target.Name,
			BatchTimestamp: batchTimestamp,
			Trials:         phase1Trials,
		})
		if ok {
			surviving[task.Slug] = agg
		} else {
			failedTasks = append(failedTasks, task)
		}
	}

	// Step 5: Phase 2 — single retry per failed task with relaxed params.
	for _, task := range failedTasks {
		agg, ok := o.Runner.RunTask(ctx, task, trial.Options{
			Vendor:         target.Vendor,
			Model:          target.Name,
			BatchTimestamp: batchTimestamp,
			Trials:         phase2Trials,
			MaxTokens:      phase2MaxTokensCap,
			PromptSuffix:   "Provide a complete, working solution; no commentary.",
		})
		if ok {
			surviving[task.Slug] = agg
		}
	}

	if len(surviving) == 0 {
		o.persistSentinel(ctx, target, models.SentinelAllTasksFailed, "All benchmark tasks failed")
		return
	}

	// Step 6: efficiency axis per surviving task.
	for slug, agg := range surviving {
		agg.Axes["efficiency"] = efficiencyAxis(agg.TokensOut, agg.LatencyMs)
		surviving[slug] = agg
	}

	// Step 7: aggregation across surviving tasks.
	meanAxes, crossTaskCorrectnessStd, withinTaskStabilityMean := aggregate(surviving)
	meanAxes["stability"] = 0.7*statutil.Clamp(1-crossTaskCorrectnessStd/0.25, 0, 1) +
		0.3*statutil.Clamp(withinTaskStabilityMean, 0.3, 0.95)

	taskSuccessRate := float64(len(surviving)) / float64(len(selected))

	// Step 8: baseline.
	history, _ := o.Store.ListScores(ctx, store.ScoreFilter{
		ModelID:      target.ModelID,
		Suite:        o.Suite,
		Limit:        baselineWindow,
		ExcludeSynth: true,
	})
	nonSentinel := filterNonSentinel(history)
	baseline, calibrating := buildBaseline(nonSentinel)

	// Step 9: score.
	result := scoring.Compute(scoring.Input{
		Axes:            meanAxes,
		Baseline:        baseline,
		TaskSuccessRate: taskSuccessRate,
		SuccessfulTasks: len(surviving),
		Calibrating:     calibrating,
		Calibration:     o.Calib,
	})

	// Step 10: persist.
	correctnessSamples := make([]float64, 0, len(surviving))
	for _, agg := range surviving {
		correctnessSamples = append(correctnessSamples, agg.Axes["correctness"])
	}
	lower, upper, width := driftConfidenceInterval(correctnessSamples, result.Score)
	se := width / 2

	note := buildNote(calibrating, taskSuccessRate, result.AppliedGates)

	// Step 11's Page-Hinkley statistic is computed here so its cusum is
	// persisted with the score row.
	phSeries := append(scoreValues(nonSentinel), result.Score)
	if len(phSeries) > pageHinkleyWindow {
		phSeries = phSeries[len(phSeries)-pageHinkleyWindow:]
	}
	phTriggered, cusum := drift.PageHinkley(phSeries, 0.005, 0.5)

	score := models.Score{
		ModelID:         target.ModelID,
		Ts:              parseBatchTimestamp(batchTimestamp),
		Suite:           o.Suite,
		StupidScore:     result.Score,
		Axes:            meanAxes,
		Cusum:           cusum,
		Note:            note,
		ConfidenceLower: &lower,
		ConfidenceUpper: &upper,
		StandardError:   &se,
		SampleSize:      len(surviving),
	}

	if err := o.Store.InsertScore(ctx, &score); err != nil {
		logger.Error().Err(err).Msg("failed to persist score")
		return
	}

	for slug, agg := range surviving {
		run := models.Run{
			ModelID:   target.ModelID,
			TaskSlug:  slug,
			Ts:        score.Ts,
			Temp:      0.1,
			TokensIn:  agg.TokensIn,
			TokensOut: agg.TokensOut,
			LatencyMs: agg.LatencyMs,
			Attempts:  agg.Attempts,
			Passed:    true,
		}
		if err := o.Store.InsertRun(ctx, &run); err != nil {
			logger.Warn().Err(err).Str("task", slug).Msg("failed to persist run")
		}
	}

	// Step 11: drift check over the last 12 non-sentinel hourly scores.
	if phTriggered {
		logger.Warn().Float64("cusum", cusum).Msg("Page-Hinkley drift trigger")
	}

	// Step 12: success bookkeeping.
	o.Pool.ClearTracker(target.Name)
}

func (o *Orchestrator) persistSentinel(ctx context.Context, target ModelTarget, value float64, note string) {
	axes := models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		axes[axis] = models.PlaceholderAxisValue
	}
	score := models.Score{
		ModelID:     target.ModelID,
		Ts:          time.Now(),
		Suite:       o.Suite,
		StupidScore: value,
		Axes:        axes,
		Note:        note,
	}
	if err := o.Store.InsertScore(ctx, &score); err != nil {
		log.Error().Err(err).Str("model", target.Name).Msg("failed to persist sentinel score")
	}
}

// persistSentinelOrSynthetic tries a synthetic fallback score before
// falling back to a sentinel, so a transient canary failure doesn't
// scar the timeline when enough history exists to jitter a plausible
// stand-in around it.
func (o *Orchestrator) persistSentinelOrSynthetic(ctx context.Context, target ModelTarget, value float64, note, batchTimestamp string) {
	history, err := o.Store.ListScores(ctx, store.ScoreFilter{
		ModelID:      target.ModelID,
		Suite:        o.Suite,
		Limit:        baselineWindow,
		ExcludeSynth: true,
	})
	if err == nil && len(history) >= syntheticMinHistory {
		seed := int64(detseed.Hash(batchTimestamp, target.Name, "synthetic-fallback"))
		if synth, ok := drift.SyntheticFallback(target.ModelID, o.Suite, history, seed); ok {
			synth.Ts = parseBatchTimestamp(batchTimestamp)
			synth.Note = note + "; synthetic fallback for unreachable provider"
			if err := o.Store.InsertScore(ctx, &synth); err != nil {
				log.Error().Err(err).Str("model", target.Name).Msg("failed to persist synthetic fallback score")
			}
			return
		}
	}
	o.persistSentinel(ctx, target, value, note)
}

// hasPriorValidScore reports whether the model already has at least one
// non-sentinel score on record, so a standing configuration gap (missing
// driver or credential) doesn't keep overwriting a good last-known score.
func (o *Orchestrator) hasPriorValidScore(ctx context.Context, modelID int64) bool {
	history, err := o.Store.ListScores(ctx, store.ScoreFilter{
		ModelID: modelID,
		Suite:   o.Suite,
		Limit:   baselineWindow,
	})
	if err != nil {
		return false
	}
	for _, s := range history {
		if !s.IsSentinel() {
			return true
		}
	}
	return false
}

// efficiencyAxis derives the `efficiency` axis from output throughput.
func efficiencyAxis(tokensOut int, latencyMs int64) float64 {
	if latencyMs < 1 {
		latencyMs = 1
	}
	v := math.Log10(float64(tokensOut)/float64(latencyMs)+1e-6) + 3
	v = statutil.Clamp(v, 0, 3) / 3
	return statutil.Clamp(v, 0.1, 0.9)
}

// aggregate means each axis across surviving tasks and returns the
// cross-task std of correctness plus the mean of each task's own
// within-task stability, both inputs to the step-7 stability formula.
func aggregate(surviving map[string]trial.TaskAggregate) (models.AxisMap, float64, float64) {
	mean := models.AxisMap{}
	n := float64(len(surviving))

	for _, axis := range models.CanonicalAxes {
		sum := 0.0
		for _, agg := range surviving {
			sum += agg.Axes[axis]
		}
		mean[axis] = sum / n
	}

	correctness := make([]float64, 0, len(surviving))
	withinStability := make([]float64, 0, len(surviving))
	for _, agg := range surviving {
		correctness = append(correctness, agg.Axes["correctness"])
		withinStability = append(withinStability, agg.Stability)
	}

	return mean, statutil.StdDev(correctness, 0), statutil.Mean(withinStability)
}

func filterNonSentinel(scores []models.Score) []models.Score {
	out := make([]models.Score, 0, len(scores))
	for _, s := range scores {
		s := s
		if !s.IsSentinel() {
			out = append(out, s)
		}
	}
	return out
}

func buildBaseline(history []models.Score) (scoring.Baseline, bool) {
	if len(history) < minBaselineSamples {
		return scoring.Baseline{SampleSize: len(history)}, true
	}

	mean := models.AxisMap{}
	std := models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		vals := make([]float64, len(history))
		for i, s := range history {
			vals[i] = s.Axes[axis]
		}
		mean[axis] = statutil.Mean(vals)
		std[axis] = statutil.StdDev(vals, 1e-6)
	}

	return scoring.Baseline{Mean: mean, Std: std, SampleSize: len(history)}, false
}

func scoreValues(scores []models.Score) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.StupidScore
	}
	return out
}

func driftConfidenceInterval(perTaskCorrectness []float64, score float64) (lower, upper, width float64) {
	if len(perTaskCorrectness) < 2 {
		return score - 5, score + 5, 10
	}
	sd := statutil.StdDev(perTaskCorrectness, 1e-6)
	// Scale the correctness-axis spread onto the score's 0-100 range as a
	// conservative stand-in confidence width; a true per-task score
	// distribution isn't tracked, so this is the closest observable proxy.
	margin := sd * 100
	return score - margin, score + margin, 2 * margin
}

func buildNote(calibrating bool, taskSuccessRate float64, gates []string) string {
	note := ""
	if calibrating {
		note = "calibrating"
	}
	if taskSuccessRate < 1.0 {
		if note != "" {
			note += "; "
		}
		note += fmt.Sprintf("success rate %.0f%%", taskSuccessRate*100)
	}
	if len(gates) > 0 {
		if note != "" {
			note += "; "
		}
		note += "quality gates applied"
	}
	return note
}

func parseBatchTimestamp(batchTimestamp string) time.Time {
	if t, err := time.Parse(time.RFC3339, batchTimestamp); err == nil {
		return t
	}
	return time.Now()
}
