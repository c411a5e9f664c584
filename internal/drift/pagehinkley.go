package drift

// PageHinkley runs the Page-Hinkley change-detection test for a decrease
// in the mean over a chronologically ordered (oldest-first) series of
// non-sentinel scores, with fixed parameters δ=0.005, λ=0.5. It reports
// whether the cumulative downward deviation ever crossed the threshold
// and the final cusum value, persisted alongside the score row.
// Increases in the mean are not detected.
func PageHinkley(series []float64, delta, lambda float64) (triggered bool, cusum float64) {
	if len(series) == 0 {
		return false, 0
	}

	mean := series[0]
	sum := 0.0
	minSum := 0.0
	n := 1.0

	for i, x := range series {
		if i == 0 {
			continue
		}
		n++
		mean += (x - mean) / n
		sum += mean - x - delta
		if sum < minSum {
			minSum = sum
		}
		ph := sum - minSum
		if ph > lambda {
			triggered = true
		}
	}

	cusum = sum - minSum
	return triggered, cusum
}
