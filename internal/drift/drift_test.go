package drift_test

import (
	"testing"
	"time"

	"github.com/modelbench/engine/internal/drift"
	"github.com/modelbench/engine/pkg/models"
)

func TestPageHinkleyTriggersOnSustainedDrop(t *testing.T) {
	series := []float64{80, 81, 79, 80, 80, 79, 81, 80, 79, 80}
	for i := 0; i < 15; i++ {
		series = append(series, 55)
	}

	triggered, cusum := drift.PageHinkley(series, 0.005, 0.5)
	if !triggered {
		t.Fatalf("expected Page-Hinkley to trigger on a sustained drop, cusum=%v", cusum)
	}
}

func TestPageHinkleyStableSeriesDoesNotTrigger(t *testing.T) {
	series := make([]float64, 20)
	for i := range series {
		series[i] = 80
	}
	triggered, _ := drift.PageHinkley(series, 0.005, 0.5)
	if triggered {
		t.Error("expected a flat series not to trigger Page-Hinkley")
	}
}

func TestConfidenceIntervalBoundaryCases(t *testing.T) {
	if lo, hi, w := drift.ConfidenceInterval(nil); lo != 0 || hi != 0 || w != 0 {
		t.Errorf("n=0: got (%v,%v,%v), want (0,0,0)", lo, hi, w)
	}
	_, _, w := drift.ConfidenceInterval([]float64{70})
	if w != 10 {
		t.Errorf("n=1: got width %v, want 10", w)
	}
	_, _, w = drift.ConfidenceInterval([]float64{70, 72, 68, 71, 69})
	if w <= 0 {
		t.Errorf("n>=2: expected a positive width, got %v", w)
	}
}

func TestCombinedAllSuitesAvailable(t *testing.T) {
	res := drift.Combined(drift.SuiteScores{
		Hourly: 80, HourlyOK: true,
		Deep: 70, DeepOK: true,
		Tooling: 90, ToolingOK: true,
	})
	want := 0.5*80 + 0.25*70 + 0.25*90
	if res.Score != want || res.MissingN != 0 {
		t.Errorf("Score = %v, MissingN = %v, want %v, 0", res.Score, res.MissingN, want)
	}
}

func TestCombinedAppliesMissingSuitePenalties(t *testing.T) {
	oneMissing := drift.Combined(drift.SuiteScores{
		Hourly: 80, HourlyOK: true,
		Deep: 80, DeepOK: true,
	})
	if oneMissing.MissingN != 1 {
		t.Errorf("expected 1 missing suite, got %d", oneMissing.MissingN)
	}

	allMissing := drift.Combined(drift.SuiteScores{})
	if !allMissing.Unavailable {
		t.Error("expected Unavailable=true when every suite is missing")
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		oldest, newest float64
		want           drift.Trend
	}{
		{70, 80, drift.TrendUp},
		{80, 70, drift.TrendDown},
		{75, 77, drift.TrendStable},
	}
	for _, c := range cases {
		if got := drift.ClassifyTrend(c.oldest, c.newest); got != c.want {
			t.Errorf("ClassifyTrend(%v,%v) = %v, want %v", c.oldest, c.newest, got, c.want)
		}
	}
}

func TestDetectFindsChangePointBetweenStableWindows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]drift.ScoredPoint, 0, 10)
	for i := 0; i < 5; i++ {
		points = append(points, drift.ScoredPoint{
			Ts:    base.Add(time.Duration(i) * time.Hour),
			Score: 85,
			Axes:  models.AxisMap{"correctness": 0.9},
		})
	}
	for i := 5; i < 10; i++ {
		points = append(points, drift.ScoredPoint{
			Ts:    base.Add(time.Duration(i) * time.Hour),
			Score: 55,
			Axes:  models.AxisMap{"correctness": 0.5},
		})
	}

	candidates := drift.Detect(points)
	if len(candidates) == 0 {
		t.Fatal("expected at least one change-point between a stable-high and stable-low window")
	}
	if candidates[0].ChangeType != models.ChangeDegradation {
		t.Errorf("ChangeType = %v, want %v", candidates[0].ChangeType, models.ChangeDegradation)
	}
}

func TestFilterIdempotentDropsNearbyCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := []drift.Candidate{{Ts: base}}
	existing := []time.Time{base.Add(10 * time.Minute)}

	out := drift.FilterIdempotent(candidates, existing)
	if len(out) != 0 {
		t.Errorf("expected the candidate within the 1h window to be dropped, got %d remaining", len(out))
	}
}

func TestFilterIdempotentKeepsDistantCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candidates := []drift.Candidate{{Ts: base}}
	existing := []time.Time{base.Add(3 * time.Hour)}

	out := drift.FilterIdempotent(candidates, existing)
	if len(out) != 1 {
		t.Errorf("expected the candidate outside the window to survive, got %d remaining", len(out))
	}
}

func TestBuildChangePointsMapsCandidateIntoModel(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := make([]models.Score, 0, 10)
	for i := 0; i < 5; i++ {
		history = append(history, models.Score{
			ModelID:     7,
			Ts:          base.Add(time.Duration(i) * time.Hour),
			StupidScore: 85,
			Axes:        models.AxisMap{"correctness": 0.9},
		})
	}
	for i := 5; i < 10; i++ {
		history = append(history, models.Score{
			ModelID:     7,
			Ts:          base.Add(time.Duration(i) * time.Hour),
			StupidScore: 55,
			Axes:        models.AxisMap{"correctness": 0.5},
		})
	}

	cps := drift.BuildChangePoints(7, history, nil)
	if len(cps) == 0 {
		t.Fatal("expected at least one change-point")
	}
	cp := cps[0]
	if cp.ModelID != 7 {
		t.Errorf("ModelID = %d, want 7", cp.ModelID)
	}
	if cp.FromScore <= cp.ToScore {
		t.Errorf("FromScore (%v) should be greater than ToScore (%v) for a degradation", cp.FromScore, cp.ToScore)
	}
	if cp.ChangeType != models.ChangeDegradation {
		t.Errorf("ChangeType = %v, want %v", cp.ChangeType, models.ChangeDegradation)
	}
	if cp.Significance <= 0 {
		t.Errorf("Significance = %v, want > 0", cp.Significance)
	}

	// An already-recorded change-point at the same timestamp suppresses it.
	deduped := drift.BuildChangePoints(7, history, []time.Time{cp.DetectedAt})
	if len(deduped) != 0 {
		t.Errorf("expected the duplicate candidate to be filtered, got %d", len(deduped))
	}
}

func TestAggregatePeriodSummarizesWindow(t *testing.T) {
	agg := drift.AggregatePeriod([]float64{70, 72, 71, 80, 82})
	if agg.N != 5 {
		t.Errorf("N = %d, want 5", agg.N)
	}
	if agg.Trend != drift.TrendUp {
		t.Errorf("Trend = %v, want %v", agg.Trend, drift.TrendUp)
	}
	if agg.Mean <= 0 {
		t.Errorf("Mean = %v, want > 0", agg.Mean)
	}
}

func TestSyntheticFallbackRequiresMinimumHistory(t *testing.T) {
	short := make([]models.Score, 5)
	if _, ok := drift.SyntheticFallback(1, models.SuiteHourly, short, 42); ok {
		t.Error("expected ok=false with fewer than 10 history rows")
	}

	long := make([]models.Score, 12)
	for i := range long {
		axes := models.AxisMap{}
		for _, a := range models.CanonicalAxes {
			axes[a] = 0.8
		}
		long[i] = models.Score{ModelID: 1, Suite: models.SuiteHourly, StupidScore: 80, Axes: axes}
	}
	score, ok := drift.SyntheticFallback(1, models.SuiteHourly, long, 42)
	if !ok {
		t.Fatal("expected ok=true with 12 history rows")
	}
	if !score.Synthetic {
		t.Error("expected the fallback score to be marked Synthetic")
	}
}
