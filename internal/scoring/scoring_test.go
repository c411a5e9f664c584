package scoring_test

import (
	"testing"

	"github.com/modelbench/engine/internal/scoring"
	"github.com/modelbench/engine/pkg/models"
)

func perfectAxes() models.AxisMap {
	return models.AxisMap{
		"correctness": 1.0,
		"complexity":  0.9,
		"codeQuality": 0.85,
		"stability":   0.9,
		"format":      1.0,
		"efficiency":  0.7,
		"edgeCases":   0.8,
		"debugging":   0.8,
		"safety":      0.9,
	}
}

// All tasks succeed with strong axes and no gate triggers. The 1.4 power
// decay gives a weighted sum of about 88.1 and the 1.2 curve takes that
// to about 85.9, so the final score lands at or above 85.
func TestComputeHighPerformerClearsEightyFive(t *testing.T) {
	res := scoring.Compute(scoring.Input{
		Axes:            perfectAxes(),
		TaskSuccessRate: 1.0,
		SuccessfulTasks: 7,
		Calibrating:     false,
	})
	if res.Score < 85 {
		t.Errorf("Score = %v, want >= 85 for a high performer", res.Score)
	}
	if len(res.AppliedGates) != 0 {
		t.Errorf("expected no gates applied, got %v", res.AppliedGates)
	}
}

func TestComputeLowCorrectnessTriggersAllThreeGates(t *testing.T) {
	axes := perfectAxes()
	axes["correctness"] = 0.2
	res := scoring.Compute(scoring.Input{
		Axes:            axes,
		TaskSuccessRate: 1.0,
		SuccessfulTasks: 7,
	})
	want := []string{"correctness<0.90", "correctness<0.70", "correctness<0.50"}
	if len(res.AppliedGates) < len(want) {
		t.Fatalf("AppliedGates = %v, want at least %v", res.AppliedGates, want)
	}
	for i, g := range want {
		if res.AppliedGates[i] != g {
			t.Errorf("AppliedGates[%d] = %q, want %q", i, res.AppliedGates[i], g)
		}
	}
}

func TestComputeClampsToConfiguredRange(t *testing.T) {
	axes := models.AxisMap{}
	for _, a := range models.CanonicalAxes {
		axes[a] = 0.0
	}
	res := scoring.Compute(scoring.Input{
		Axes:            axes,
		TaskSuccessRate: 0.0,
		SuccessfulTasks: 0,
		Calibrating:     true,
	})
	if res.Score < 0 || res.Score > 100 {
		t.Errorf("Score = %v, want within [0,100]", res.Score)
	}
}

func TestComputeCalibrationRemapsRange(t *testing.T) {
	res := scoring.Compute(scoring.Input{
		Axes:            perfectAxes(),
		TaskSuccessRate: 1.0,
		SuccessfulTasks: 7,
		Calibration:     scoring.Calibration{Scale: 0.5, Lift: 10, Min: 0, Max: 60},
	})
	if res.Score > 60 {
		t.Errorf("Score = %v, want clamped to configured max of 60", res.Score)
	}
}

func TestBaselineReadyThreshold(t *testing.T) {
	if (scoring.Baseline{SampleSize: 9}).Ready() {
		t.Error("Ready() = true for 9 samples, want false")
	}
	if !(scoring.Baseline{SampleSize: 10}).Ready() {
		t.Error("Ready() = false for 10 samples, want true")
	}
}

func TestComputeFewSuccessfulTasksShrinksTowardSeventy(t *testing.T) {
	axes := perfectAxes()
	res := scoring.Compute(scoring.Input{
		Axes:            axes,
		TaskSuccessRate: 1.0,
		SuccessfulTasks: 1,
	})
	unshrunk := scoring.Compute(scoring.Input{
		Axes:            axes,
		TaskSuccessRate: 1.0,
		SuccessfulTasks: 7,
	})
	if res.Score >= unshrunk.Score {
		t.Errorf("shrunk score %v should be pulled below the unshrunk score %v toward 70", res.Score, unshrunk.Score)
	}
}
