// Package scoring implements the combined-score formula: a
// power-decay curve over weighted axis means, adjusted against a
// historical baseline, hard quality gates, Bayesian shrinkage toward a
// cohort centre, and final linear calibration.
package scoring

import (
	"math"

	"github.com/modelbench/engine/internal/statutil"
	"github.com/modelbench/engine/pkg/models"
)

// Baseline holds a model's historical per-axis mean and standard
// deviation, used for the variance adjustment step. A baseline with
// fewer than 10 samples is not "ready" — the caller should treat the
// sweep as calibrating and skip the variance adjustment.
type Baseline struct {
	Mean       models.AxisMap
	Std        models.AxisMap
	SampleSize int
}

// Ready reports whether this baseline has enough history to support the
// variance adjustment.
func (b Baseline) Ready() bool {
	return b.SampleSize >= 10
}

// Calibration holds the final linear transform applied to the clamped
// [0,100] score. Defaults scale=1, lift=0, min=0,
// max=100 reproduce an identity pass-through.
type Calibration struct {
	Scale float64
	Lift  float64
	Min   float64
	Max   float64
}

// Input bundles everything the formula needs for one model's sweep
// result.
type Input struct {
	Axes             models.AxisMap
	Baseline         Baseline
	TaskSuccessRate  float64 // surviving tasks / selected tasks
	SuccessfulTasks  int     // count feeding the Bayesian-shrink threshold
	Calibrating      bool    // fewer than 10 historical scores
	Calibration      Calibration
}

// Result is the fully-computed score plus the intermediate values a
// caller may want to persist alongside it.
type Result struct {
	Score         float64
	Calibrating   bool
	AppliedGates  []string
}

var clipRange = struct{ lo, hi float64 }{-4, 3}

// Compute runs the nine-step scoring formula and returns the
// final, calibrated score. Callers are responsible for sentinel values
// (-999/-888/-777); Compute only ever produces a value in [min,max].
func Compute(in Input) Result {
	res := Result{Calibrating: in.Calibrating}

	// Step 1: power-decay per axis.
	p := models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		a := in.Axes[axis]
		p[axis] = math.Pow(clampUnit(a), 1.4)
	}

	// Step 2: axis-specific small penalties.
	if in.Axes["correctness"] < 0.95 {
		p["correctness"] *= 0.85
	}
	if in.Axes["codeQuality"] < 0.6 {
		p["codeQuality"] *= 0.95
	}

	// Step 3: weighted sum.
	base := 0.0
	for _, axis := range models.CanonicalAxes {
		base += models.AxisWeights[axis] * p[axis]
	}
	base *= 100

	// Step 4: curve.
	base = math.Pow(base/100, 1.2) * 100

	// Step 5: variance adjustment, only with a ready baseline.
	if in.Baseline.Ready() {
		adj := 0.0
		for _, axis := range models.CanonicalAxes {
			mu := in.Baseline.Mean[axis]
			sigma := in.Baseline.Std[axis]
			if sigma <= 0 {
				sigma = 1e-6
			}
			z := (in.Axes[axis] - mu) / sigma
			adj += models.AxisWeights[axis] * z
		}
		adj = statutil.Clamp(adj, clipRange.lo, clipRange.hi)
		base += adj
	}

	// Step 6: hard quality gates.
	c := in.Axes["correctness"]
	if c < 0.90 {
		base -= 5
		res.AppliedGates = append(res.AppliedGates, "correctness<0.90")
	}
	if c < 0.70 {
		base -= 6
		res.AppliedGates = append(res.AppliedGates, "correctness<0.70")
	}
	if c < 0.50 {
		base -= 8
		res.AppliedGates = append(res.AppliedGates, "correctness<0.50")
	}
	cq := in.Axes["codeQuality"]
	if cq < 0.60 {
		base -= 6
		res.AppliedGates = append(res.AppliedGates, "codeQuality<0.60")
	}
	if cq < 0.40 {
		base -= 12
		res.AppliedGates = append(res.AppliedGates, "codeQuality<0.40")
	}
	if in.Axes["complexity"] < 0.30 {
		base -= 8
		res.AppliedGates = append(res.AppliedGates, "complexity<0.30")
	}

	// Success-rate and calibrating penalties.
	base -= 6 * (1 - in.TaskSuccessRate)
	if in.Calibrating {
		base -= 2
	}

	// Step 7: Bayesian shrink toward a cohort centre of 70.
	if in.SuccessfulTasks < 5 {
		n := float64(in.SuccessfulTasks)
		lambda := n / (n + 1)
		base = lambda*base + (1-lambda)*70
	}

	// Step 8: clamp then calibrate.
	base = statutil.Clamp(base, 0, 100)

	cal := in.Calibration
	if cal == (Calibration{}) {
		cal = Calibration{Scale: 1, Lift: 0, Min: 0, Max: 100}
	}
	calibrated := cal.Scale*base + cal.Lift
	calibrated = statutil.Clamp(calibrated, cal.Min, cal.Max)

	res.Score = calibrated
	return res
}

func clampUnit(v float64) float64 {
	return statutil.Clamp(v, 0, 1)
}
