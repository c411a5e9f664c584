package drift

import "math"

// SuiteScores holds the latest non-sentinel per-suite score for a model,
// with a present flag distinguishing "missing" from "scored zero".
type SuiteScores struct {
	Hourly        float64
	HourlyOK      bool
	Deep          float64
	DeepOK        bool
	Tooling       float64
	ToolingOK     bool
}

// CombinedResult is the outcome of combining three suite scores into one
// ranking number.
type CombinedResult struct {
	Score       float64
	Unavailable bool
	MissingN    int
}

const missingSuiteFill = 50.0

// Combined computes the three-suite weighted score (0.5 hourly, 0.25
// deep, 0.25 tooling), substituting 50 for any missing suite and
// applying a 10%/20% penalty for one/two missing suites. All three
// missing reports Unavailable.
func Combined(s SuiteScores) CombinedResult {
	missing := 0
	hourly, deep, tooling := s.Hourly, s.Deep, s.Tooling
	if !s.HourlyOK {
		hourly = missingSuiteFill
		missing++
	}
	if !s.DeepOK {
		deep = missingSuiteFill
		missing++
	}
	if !s.ToolingOK {
		tooling = missingSuiteFill
		missing++
	}
	if missing == 3 {
		return CombinedResult{Unavailable: true, MissingN: missing}
	}

	raw := 0.5*hourly + 0.25*deep + 0.25*tooling

	penalty := 0.0
	switch missing {
	case 1:
		penalty = 0.10
	case 2:
		penalty = 0.20
	}
	raw *= 1 - penalty

	return CombinedResult{Score: math.Round(raw), MissingN: missing}
}

// Trend classifies the direction between the newest and oldest in-window
// scores using a ±5-point threshold.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

func ClassifyTrend(oldest, newest float64) Trend {
	delta := newest - oldest
	switch {
	case delta > 5:
		return TrendUp
	case delta < -5:
		return TrendDown
	default:
		return TrendStable
	}
}

// StabilityFromStdDev maps the standard deviation of in-window scores
// into a piecewise [0,95] stability figure: tighter spread, higher
// stability. The mapping decays linearly from 95 at std=0 to 0 at
// std>=40, a range wide enough to cover the scale's effective spread
// without a discontinuity at either end.
func StabilityFromStdDev(std float64) float64 {
	if std <= 0 {
		return 95
	}
	const ceiling = 40.0
	v := 95 * (1 - std/ceiling)
	if v < 0 {
		return 0
	}
	if v > 95 {
		return 95
	}
	return v
}

// PeriodAggregate summarises the mean, trend, and stability of the
// non-sentinel scores falling inside one reporting window.
type PeriodAggregate struct {
	Mean      float64
	Trend     Trend
	Stability float64
	N         int
}

// AggregatePeriod computes the period aggregate from a chronologically
// ordered (oldest-first) slice of non-sentinel scores.
func AggregatePeriod(scoresOldestFirst []float64) PeriodAggregate {
	n := len(scoresOldestFirst)
	if n == 0 {
		return PeriodAggregate{}
	}
	sum := 0.0
	for _, v := range scoresOldestFirst {
		sum += v
	}
	mean := sum / float64(n)

	sumSq := 0.0
	for _, v := range scoresOldestFirst {
		d := v - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(n))

	return PeriodAggregate{
		Mean:      mean,
		Trend:     ClassifyTrend(scoresOldestFirst[0], scoresOldestFirst[n-1]),
		Stability: StabilityFromStdDev(std),
		N:         n,
	}
}
