package testutil

import (
	"math"
	"testing"
)

func TestCorrelationExtremes(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	if c := Correlation(a, a); math.Abs(c-1) > 1e-12 {
		t.Fatalf("self correlation = %v", c)
	}
	b := []float64{4, 3, 2, 1}
	if c := Correlation(a, b); math.Abs(c+1) > 1e-12 {
		t.Fatalf("anti correlation = %v", c)
	}
	if c := Correlation(a, []float64{5, 5, 5, 5}); c != 0 {
		t.Fatalf("constant correlation = %v", c)
	}
	if c := Correlation(a, []float64{1, 2}); c != 0 {
		t.Fatalf("length mismatch correlation = %v", c)
	}
}

func TestFlattenRowMajor(t *testing.T) {
	w := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	RequireSliceNearlyEqual(t, Flatten(w), []float64{1, 2, 3, 4, 5, 6}, 0)
}
