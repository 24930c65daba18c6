package dict

import (
	"math"
	"testing"
)

func TestPruneZeroesOutsideRadiusAndBelowThreshold(t *testing.T) {
	// Peak at sample 8; a secondary blip far away and small ripples
	// near the peak.
	wave := gaussianBump(32, 8, 1.5, -6)
	wave[25] = 2   // outside radius
	wave[10] = 0.1 // inside radius, below threshold

	d := buildDict(t, [][][]float64{{wave}}, 2)
	Prune(d, PruneConfig{Radius: 5, Threshold: 0.5})

	got := d.MeanWaveform(0)[0]
	if got[25] != 0 {
		t.Fatalf("sample outside radius kept: %v", got[25])
	}
	if got[10] != 0 {
		t.Fatalf("sub-threshold sample kept: %v", got[10])
	}
	if math.Abs(got[8]+6) > 1e-9 {
		t.Fatalf("peak altered: %v", got[8])
	}
}

func TestPruneIdempotent(t *testing.T) {
	waves := [][][]float64{
		{gaussianBump(32, 8, 2, -6), gaussianBump(32, 9, 2, -3)},
		{gaussianBump(32, 20, 1.5, 4), gaussianBump(32, 20, 3, 0.7)},
	}
	cfg := PruneConfig{Radius: 4, Threshold: 0.5}

	d := buildDict(t, waves, 3)
	Prune(d, cfg)
	once := snapshot(d)

	Prune(d, cfg)
	twice := snapshot(d)

	for k := range once {
		for ch := range once[k] {
			for s := range once[k][ch] {
				if once[k][ch][s] != twice[k][ch][s] {
					t.Fatalf("prune not idempotent at template %d ch %d sample %d: %v vs %v",
						k, ch, s, once[k][ch][s], twice[k][ch][s])
				}
			}
		}
	}
}

func TestApplySupportTransfers(t *testing.T) {
	wave := gaussianBump(32, 8, 1.5, -6)
	whitened := buildDict(t, [][][]float64{{wave}}, 2)
	Prune(whitened, PruneConfig{Radius: 3, Threshold: 0.5})

	final := buildDict(t, [][][]float64{{gaussianBump(32, 8, 1.5, -12)}}, 2)
	ApplySupport(final, whitened)

	got := final.MeanWaveform(0)[0]
	for s, v := range got {
		inMask := whitened.Templates[0].Support[0][s]
		if !inMask && v != 0 {
			t.Fatalf("sample %d should be masked, got %v", s, v)
		}
		if inMask && v == 0 {
			t.Fatalf("sample %d should survive the transferred mask", s)
		}
	}
}

func snapshot(d *Dictionary) [][][]float64 {
	out := make([][][]float64, d.NumTemplates())
	for k := range out {
		wave := d.MeanWaveform(k)
		out[k] = make([][]float64, len(wave))
		for ch := range wave {
			out[k][ch] = append([]float64(nil), wave[ch]...)
		}
	}
	return out
}
