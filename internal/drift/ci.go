package drift

import (
	"math"

	"github.com/modelbench/engine/internal/statutil"
)

// studentT95 holds two-tailed 95% critical values for degrees of freedom
// 1..30. Beyond df=30 the distribution is close enough to normal that
// the standard 1.96 z-value is used instead — a standard table
// truncation, not a shortcut; interpolating beyond common practice
// would buy little precision for the extra complexity.
var studentT95 = []float64{
	12.706, 4.303, 3.182, 2.776, 2.571, 2.447, 2.365, 2.306, 2.262, 2.228,
	2.201, 2.179, 2.160, 2.145, 2.131, 2.120, 2.110, 2.101, 2.093, 2.086,
	2.080, 2.074, 2.069, 2.064, 2.060, 2.056, 2.052, 2.048, 2.045, 2.042,
}

const zFallback95 = 1.960

func criticalValue(df int) float64 {
	if df < 1 {
		return zFallback95
	}
	if df <= len(studentT95) {
		return studentT95[df-1]
	}
	return zFallback95
}

// ConfidenceInterval computes a 95% CI for the mean of vals. n=1 emits a
// conservative ±5 width; n=0 emits a zero-width interval.
func ConfidenceInterval(vals []float64) (lower, upper, width float64) {
	n := len(vals)
	if n == 0 {
		return 0, 0, 0
	}
	mean := statutil.Mean(vals)
	if n == 1 {
		return mean - 5, mean + 5, 10
	}
	sd := statutil.StdDev(vals, 1e-6)
	se := sd / math.Sqrt(float64(n))
	t := criticalValue(n - 1)
	margin := t * se
	return mean - margin, mean + margin, 2 * margin
}
