package drift

import (
	"math"
	"time"

	"github.com/modelbench/engine/pkg/models"
)

const changePointWindow = 5

// ScoredPoint is one non-sentinel hourly score with its per-axis vector,
// the minimum shape change-point detection needs.
type ScoredPoint struct {
	Ts    time.Time
	Score float64
	Axes  models.AxisMap
}

// Candidate is a detected change-point before idempotency filtering.
type Candidate struct {
	Ts             time.Time
	FromScore      float64
	ToScore        float64
	DeltaMean      float64
	Significance   float64
	ChangeType     models.ChangeType
	AffectedAxes   []string
	SuspectedCause string
}

// Detect slides a 5-score window over a chronologically ordered
// (oldest-first) series and flags adjacent-window pairs whose means
// diverge enough to qualify as a change-point: |Δmean| > 8,
// non-overlapping CIs, and |Δmean| > 2·mean(CI width).
func Detect(points []ScoredPoint) []Candidate {
	var out []Candidate
	if len(points) < 2*changePointWindow {
		return out
	}

	for i := changePointWindow; i+changePointWindow <= len(points); i++ {
		before := points[i-changePointWindow : i]
		after := points[i : i+changePointWindow]

		beforeScores := scoresOf(before)
		afterScores := scoresOf(after)

		beforeMean := mean(beforeScores)
		afterMean := mean(afterScores)
		deltaMean := afterMean - beforeMean

		beforeLo, beforeHi, beforeWidth := ConfidenceInterval(beforeScores)
		afterLo, afterHi, afterWidth := ConfidenceInterval(afterScores)
		ciOverlap := beforeLo <= afterHi && afterLo <= beforeHi

		avgWidth := (beforeWidth + afterWidth) / 2

		if math.Abs(deltaMean) > 8 && !ciOverlap && math.Abs(deltaMean) > 2*avgWidth {
			axes := affectedAxes(before, after)
			changeType := models.ChangeDegradation
			if deltaMean > 0 {
				changeType = models.ChangeImprovement
			}
			out = append(out, Candidate{
				Ts:             after[0].Ts,
				FromScore:      beforeMean,
				ToScore:        afterMean,
				DeltaMean:      deltaMean,
				Significance:   math.Abs(deltaMean) / avgWidth,
				ChangeType:     changeType,
				AffectedAxes:   axes,
				SuspectedCause: inferCause(axes, deltaMean),
			})
		}
	}
	return out
}

// BuildChangePoints converts a chronologically ordered, non-sentinel
// score history into persistable change-points: it runs Detect and then
// FilterIdempotent against the timestamps of already-recorded
// change-points, so a caller can insert the result directly.
func BuildChangePoints(modelID int64, history []models.Score, existing []time.Time) []models.ChangePoint {
	points := make([]ScoredPoint, 0, len(history))
	for _, sc := range history {
		if sc.IsSentinel() {
			continue
		}
		points = append(points, ScoredPoint{Ts: sc.Ts, Score: sc.StupidScore, Axes: sc.Axes})
	}

	candidates := FilterIdempotent(Detect(points), existing)
	out := make([]models.ChangePoint, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, models.ChangePoint{
			ModelID:        modelID,
			DetectedAt:     c.Ts,
			FromScore:      c.FromScore,
			ToScore:        c.ToScore,
			Delta:          c.DeltaMean,
			Significance:   c.Significance,
			ChangeType:     c.ChangeType,
			AffectedAxes:   c.AffectedAxes,
			SuspectedCause: c.SuspectedCause,
		})
	}
	return out
}

// FilterIdempotent drops any candidate whose timestamp falls within ±1
// hour of an already-recorded change-point for this model, so the same
// underlying shift is never reported twice.
func FilterIdempotent(candidates []Candidate, existing []time.Time) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		dup := false
		for _, e := range existing {
			if absDuration(c.Ts.Sub(e)) <= time.Hour {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func scoresOf(pts []ScoredPoint) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Score
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// affectedAxes returns axes whose mean changed by more than 10% between
// the two windows.
func affectedAxes(before, after []ScoredPoint) []string {
	var out []string
	for _, axis := range models.CanonicalAxes {
		b := meanAxis(before, axis)
		a := meanAxis(after, axis)
		if b == 0 {
			continue
		}
		if math.Abs(a-b)/math.Abs(b) > 0.10 {
			out = append(out, axis)
		}
	}
	return out
}

func meanAxis(pts []ScoredPoint, axis string) float64 {
	sum := 0.0
	for _, p := range pts {
		sum += p.Axes[axis]
	}
	return sum / float64(len(pts))
}

// inferCause maps the pattern of affected axes (and the direction of the
// overall score shift) to a suspected cause: safety tuning, model
// update, performance issue, output-format change, or unknown.
func inferCause(affectedAxes []string, deltaMean float64) string {
	has := func(axis string) bool {
		for _, a := range affectedAxes {
			if a == axis {
				return true
			}
		}
		return false
	}

	switch {
	case has("safety") && deltaMean < 0:
		return "safety tuning"
	case has("efficiency") && len(affectedAxes) <= 2:
		return "performance issue"
	case has("format") && len(affectedAxes) <= 2:
		return "output-format change"
	case has("correctness") && deltaMean < 0:
		return "model update"
	case len(affectedAxes) == 0:
		return "unknown"
	default:
		return "model update"
	}
}
