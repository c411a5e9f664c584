package drift

import (
	"math"
	"time"

	"github.com/modelbench/engine/internal/statutil"
	"github.com/modelbench/engine/pkg/models"
)

// SignatureInput bundles the history a drift signature is computed from:
// the 28-day baseline window, the 24-hour window, and the 3-vs-3
// comparison used for per-axis trend.
type SignatureInput struct {
	ModelID           int64
	Current           models.AxisMap
	CurrentScore      float64
	Baseline28d       []float64 // non-sentinel hourly scores, oldest-first
	Last24h           []float64 // non-sentinel hourly scores, oldest-first
	PageHinkleySeries []float64 // non-sentinel hourly scores, oldest-first; Compute uses the last 12
	RecentAxes        []models.AxisMap // oldest-first; axisTrends compares the most recent 6 (3-vs-3)
}

var diagnosisRules = []struct {
	condition      func(models.DriftSignature) bool
	recommendation string
}{
	{
		condition: func(s models.DriftSignature) bool {
			return axisTrendDown(s, "safety")
		},
		recommendation: "Safety axis trending down — review recent refusal/over-caution behaviour before trusting this model's answers on sensitive prompts.",
	},
	{
		condition: func(s models.DriftSignature) bool {
			return axisTrendDown(s, "correctness")
		},
		recommendation: "Correctness axis degrading — the model may have regressed on this benchmark; re-run a focused sweep before relying on it.",
	},
	{
		condition: func(s models.DriftSignature) bool {
			return axisTrendDown(s, "format")
		},
		recommendation: "Output format axis degrading — check for a prompt-template or parsing mismatch rather than a capability regression.",
	},
	{
		condition: func(s models.DriftSignature) bool {
			return s.Regime == models.RegimeVolatile
		},
		recommendation: "Score volatility is elevated — treat the latest reading as noisy and wait for more samples before acting on it.",
	},
	{
		condition: func(s models.DriftSignature) bool {
			return s.Regime == models.RegimeDegraded
		},
		recommendation: "Sustained score decline relative to baseline — investigate a possible silent model update on the vendor side.",
	},
}

func axisTrendDown(s models.DriftSignature, axis string) bool {
	for _, t := range s.AxisTrends {
		if t.Axis == axis && t.Trend == "down" {
			return true
		}
	}
	return false
}

// Compute builds a full DriftSignature from the raw history in in,
// returning ok=false when there isn't enough history to compute one.
func Compute(in SignatureInput, now time.Time) (models.DriftSignature, bool) {
	if len(in.Baseline28d) == 0 {
		return models.DriftSignature{}, false
	}

	baseline := statutil.Mean(in.Baseline28d)
	variance24h := statutil.StdDev(in.Last24h, 0)

	_, _, ciWidth := ConfidenceInterval(in.Baseline28d)
	if ciWidth == 0 {
		ciWidth = 8
	}

	phSeries := in.PageHinkleySeries
	if len(phSeries) > 12 {
		phSeries = phSeries[len(phSeries)-12:]
	}
	_, cusum := PageHinkley(phSeries, 0.005, 0.5)

	regime := classifyRegime(baseline, in.CurrentScore, ciWidth, variance24h)
	alert := classifyAlert(regime, cusum, variance24h)

	trends := axisTrends(in.RecentAxes)

	sig := models.DriftSignature{
		ModelID:      in.ModelID,
		ComputedAt:   now,
		CurrentScore: in.CurrentScore,
		Baseline:     baseline,
		CIWidth:      ciWidth,
		Regime:       regime,
		Variance:     variance24h,
		Cusum:        cusum,
		AxisTrends:   trends,
		AlertStatus:  alert,
	}

	for _, rule := range diagnosisRules {
		if rule.condition(sig) {
			sig.Diagnosis = rule.recommendation
			sig.Recommendation = rule.recommendation
			break
		}
	}
	if sig.Diagnosis == "" {
		sig.Diagnosis = "No significant drift detected."
		sig.Recommendation = "No action needed."
	}

	return sig, true
}

func classifyRegime(baseline, current, ciWidth, variance float64) models.Regime {
	drop := baseline - current
	threshold := math.Max(ciWidth, 8)
	switch {
	case drop > threshold:
		return models.RegimeDegraded
	case current-baseline > 5 && variance < 8:
		return models.RegimeRecovering
	case variance > 8:
		return models.RegimeVolatile
	default:
		return models.RegimeStable
	}
}

func classifyAlert(regime models.Regime, cusum, variance float64) models.AlertStatus {
	switch {
	case regime == models.RegimeDegraded || cusum > 0.10:
		return models.AlertAlert
	case regime == models.RegimeVolatile || cusum > 0.05 || variance > 8:
		return models.AlertWarning
	default:
		return models.AlertNone
	}
}

// axisTrends compares the most recent 3 axis vectors against the 3
// before them, a 3-vs-older-3 comparison with a 5-point threshold.
// recent must be oldest-first; fewer than 6 entries yields
// an empty trend list rather than a partial, misleading comparison.
func axisTrends(recent []models.AxisMap) []models.AxisTrend {
	if len(recent) < 6 {
		return nil
	}
	older := recent[len(recent)-6 : len(recent)-3]
	newer := recent[len(recent)-3:]

	out := make([]models.AxisTrend, 0, len(models.CanonicalAxes))
	for _, axis := range models.CanonicalAxes {
		oldMean := meanOf(older, axis)
		newMean := meanOf(newer, axis)
		changePct := 0.0
		if oldMean != 0 {
			changePct = (newMean - oldMean) / math.Abs(oldMean) * 100
		}

		trend := "stable"
		deltaPoints := (newMean - oldMean) * 100 // axes are 0-1, trend threshold is expressed in points
		switch {
		case deltaPoints > 5:
			trend = "up"
		case deltaPoints < -5:
			trend = "down"
		}

		status := "normal"
		if trend == "down" {
			status = "watch"
		}

		out = append(out, models.AxisTrend{
			Axis:      axis,
			Current:   newMean,
			Trend:     trend,
			ChangePct: changePct,
			Status:    status,
		})
	}
	return out
}

func meanOf(maps []models.AxisMap, axis string) float64 {
	sum := 0.0
	for _, m := range maps {
		sum += m[axis]
	}
	return sum / float64(len(maps))
}
