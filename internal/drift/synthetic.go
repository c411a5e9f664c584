package drift

import (
	"math"
	"math/rand"

	"github.com/modelbench/engine/pkg/models"
)

const minHistoryForSynthetic = 10

// SyntheticFallback generates a replacement score when an upstream error
// path needs one, jittering ±1.5σ around the historical per-axis and
// scalar means. It requires at least 10 non-synthetic
// historical scores; with fewer, ok is false and the caller must fall
// back to a sentinel instead. The returned Score has Synthetic=true so
// it is excluded from future baseline computations (Open Question
// decision recorded in DESIGN.md).
func SyntheticFallback(modelID int64, suite models.Suite, history []models.Score, seed int64) (models.Score, bool) {
	nonSynthetic := make([]models.Score, 0, len(history))
	for _, s := range history {
		s := s
		if !s.Synthetic && !s.IsSentinel() {
			nonSynthetic = append(nonSynthetic, s)
		}
	}
	if len(nonSynthetic) < minHistoryForSynthetic {
		return models.Score{}, false
	}

	r := rand.New(rand.NewSource(seed))

	scalarMean, scalarStd := meanStdOfScalars(nonSynthetic)
	axisMean, axisStd := meanStdOfAxes(nonSynthetic)

	jittered := models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		jittered[axis] = jitter(r, axisMean[axis], axisStd[axis])
	}

	return models.Score{
		ModelID:   modelID,
		Suite:     suite,
		StupidScore: jitter(r, scalarMean, scalarStd),
		Axes:      jittered,
		Synthetic: true,
		Note:      "synthetic fallback",
	}, true
}

func jitter(r *rand.Rand, mean, std float64) float64 {
	return mean + (r.Float64()*2-1)*1.5*std
}

func meanStdOfScalars(scores []models.Score) (mean, std float64) {
	vals := make([]float64, len(scores))
	for i, s := range scores {
		vals[i] = s.StupidScore
	}
	return meanOfFloats(vals), stdOfFloats(vals)
}

func meanStdOfAxes(scores []models.Score) (mean, std models.AxisMap) {
	mean = models.AxisMap{}
	std = models.AxisMap{}
	for _, axis := range models.CanonicalAxes {
		vals := make([]float64, len(scores))
		for i, s := range scores {
			vals[i] = s.Axes[axis]
		}
		mean[axis] = meanOfFloats(vals)
		std[axis] = stdOfFloats(vals)
	}
	return mean, std
}

func meanOfFloats(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdOfFloats(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := meanOfFloats(vals)
	sumSq := 0.0
	for _, v := range vals {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}
