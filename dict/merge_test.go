package dict

import (
	"math"
	"testing"
)

func TestMergeCombinesSimilarPair(t *testing.T) {
	w1 := gaussianBump(16, 8, 2, -5)
	w2 := gaussianBump(16, 8, 2, -5.5) // same shape, scaled: cosine 1
	w3 := gaussianBump(16, 2, 1, 4)    // different shape

	d := buildDict(t, [][][]float64{{w1}, {w2}, {w3}}, 2)
	priors, mapping, merged := Merge(d, []float64{0.01, 0.03, 0.02}, 0.95)

	if !merged {
		t.Fatal("expected a merge")
	}
	if d.NumTemplates() != 2 {
		t.Fatalf("count = %d, want 2", d.NumTemplates())
	}
	if mapping[0] != mapping[1] || mapping[0] == mapping[2] {
		t.Fatalf("mapping = %v", mapping)
	}
	if math.Abs(priors[mapping[0]]-0.04) > 1e-12 {
		t.Fatalf("merged prior = %v, want 0.04", priors[mapping[0]])
	}

	// The merged waveform is the prior-weighted mean.
	wave := d.MeanWaveform(mapping[0])[0]
	wantPeak := (0.01*5 + 0.03*5.5) / 0.04
	if math.Abs(maxAbs(wave)-wantPeak) > 1e-9 {
		t.Fatalf("merged peak = %v, want %v", maxAbs(wave), wantPeak)
	}
}

func TestMergeNoPairBelowThreshold(t *testing.T) {
	d := buildDict(t, [][][]float64{
		{gaussianBump(16, 4, 1, 3)},
		{gaussianBump(16, 12, 1, 3)},
	}, 1)
	priors, mapping, merged := Merge(d, []float64{0.01, 0.02}, 0.95)
	if merged {
		t.Fatal("no merge expected for orthogonal shapes")
	}
	if priors[0] != 0.01 || mapping[0] != 0 || mapping[1] != 1 {
		t.Fatalf("identity expected: priors=%v mapping=%v", priors, mapping)
	}
}

// Merging is associative up to numerical tolerance when all pairwise
// similarities exceed the threshold: merging (A,B) then C equals
// merging (B,C) then A.
func TestMergeAssociativity(t *testing.T) {
	mk := func() [][][]float64 {
		return [][][]float64{
			{gaussianBump(16, 8, 2, -4.0)},
			{gaussianBump(16, 8, 2, -4.4)},
			{gaussianBump(16, 8, 2, -4.8)},
		}
	}
	priors := []float64{0.01, 0.02, 0.03}

	d1 := buildDict(t, mk(), 2)
	p1, _, _ := Merge(d1, append([]float64(nil), priors...), 0.99)

	d2 := buildDict(t, [][][]float64{mk()[1], mk()[2], mk()[0]}, 2)
	p2, _, _ := Merge(d2, []float64{priors[1], priors[2], priors[0]}, 0.99)

	if d1.NumTemplates() != 1 || d2.NumTemplates() != 1 {
		t.Fatalf("counts = %d, %d, want 1", d1.NumTemplates(), d2.NumTemplates())
	}
	if math.Abs(p1[0]-p2[0]) > 1e-9 {
		t.Fatalf("prior sums differ: %v vs %v", p1[0], p2[0])
	}
	wa := d1.MeanWaveform(0)[0]
	wb := d2.MeanWaveform(0)[0]
	for i := range wa {
		if math.Abs(wa[i]-wb[i]) > 1e-9 {
			t.Fatalf("waveforms differ at %d: %v vs %v", i, wa[i], wb[i])
		}
	}
}
