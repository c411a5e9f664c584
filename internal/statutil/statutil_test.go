package statutil_test

import (
	"testing"

	"github.com/modelbench/engine/internal/statutil"
)

func TestClamp(t *testing.T) {
	if got := statutil.Clamp(5, 0, 3); got != 3 {
		t.Errorf("Clamp(5,0,3) = %v, want 3", got)
	}
	if got := statutil.Clamp(-1, 0, 3); got != 0 {
		t.Errorf("Clamp(-1,0,3) = %v, want 0", got)
	}
	if got := statutil.Clamp(2, 0, 3); got != 2 {
		t.Errorf("Clamp(2,0,3) = %v, want 2", got)
	}
}

func TestMedianOddAndEven(t *testing.T) {
	if got := statutil.Median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("Median(odd) = %v, want 2", got)
	}
	if got := statutil.Median([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("Median(even) = %v, want 2.5", got)
	}
	if got := statutil.Median(nil); got != 0 {
		t.Errorf("Median(nil) = %v, want 0", got)
	}
}

func TestStdDevFloorsAtMinimum(t *testing.T) {
	if got := statutil.StdDev([]float64{5, 5, 5}, 1e-6); got != 1e-6 {
		t.Errorf("StdDev(constant series) = %v, want floor 1e-6", got)
	}
	if got := statutil.StdDev(nil, 2.5); got != 2.5 {
		t.Errorf("StdDev(nil) = %v, want floor 2.5", got)
	}
}

func TestMean(t *testing.T) {
	if got := statutil.Mean([]float64{1, 2, 3}); got != 2 {
		t.Errorf("Mean = %v, want 2", got)
	}
	if got := statutil.Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, want 0", got)
	}
}
