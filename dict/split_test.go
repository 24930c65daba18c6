package dict

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-spikesort/signal"
)

func amplitudeTrain(t *testing.T, rng *rand.Rand, modes [][2]float64, counts []int) *signal.SpikeTrain {
	t.Helper()
	var spikes []signal.Spike
	sample := 0
	for m, c := range counts {
		mean, sigma := modes[m][0], modes[m][1]
		for i := 0; i < c; i++ {
			spikes = append(spikes, signal.Spike{
				Sample:   sample,
				Template: 0,
				Amp:      mean + sigma*rng.NormFloat64(),
			})
			sample += 37
		}
	}
	return signal.NewSpikeTrain(spikes, 1)
}

func TestSplitBimodalAmplitudes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	st := amplitudeTrain(t, rng, [][2]float64{{1.0, 0.05}, {2.0, 0.05}}, []int{60, 40})

	d := buildDict(t, [][][]float64{{gaussianBump(16, 8, 2, -5)}}, 1)
	priors, split := Split(d, st, []float64{0.01}, DefaultSplitConfig())

	if !split {
		t.Fatal("expected a split")
	}
	if d.NumTemplates() != 2 || st.NumTemplates != 2 {
		t.Fatalf("counts: dict=%d train=%d, want 2", d.NumTemplates(), st.NumTemplates)
	}
	if math.Abs(priors[0]+priors[1]-0.01) > 1e-12 {
		t.Fatalf("priors should conserve mass: %v", priors)
	}
	counts := st.Counts()
	if counts[0] != 60 || counts[1] != 40 {
		t.Fatalf("mode partition = %v, want [60 40]", counts)
	}
}

func TestSplitUnimodalUntouched(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	st := amplitudeTrain(t, rng, [][2]float64{{1.0, 0.2}}, []int{100})

	d := buildDict(t, [][][]float64{{gaussianBump(16, 8, 2, -5)}}, 1)
	priors, split := Split(d, st, []float64{0.01}, DefaultSplitConfig())

	if split {
		t.Fatal("unimodal amplitudes must not split")
	}
	if d.NumTemplates() != 1 || len(priors) != 1 {
		t.Fatalf("template set changed: %d templates", d.NumTemplates())
	}
}

func TestSplitSkipsSmallTemplates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	st := amplitudeTrain(t, rng, [][2]float64{{1.0, 0.05}, {2.0, 0.05}}, []int{10, 10})

	d := buildDict(t, [][][]float64{{gaussianBump(16, 8, 2, -5)}}, 1)
	_, split := Split(d, st, []float64{0.01}, DefaultSplitConfig())
	if split {
		t.Fatal("templates below MinSpikes must not split")
	}
}

func TestReorderByPeakChannel(t *testing.T) {
	// Template 0 peaks on channel 2, template 1 on channel 0.
	quiet := make([]float64, 16)
	d := buildDict(t, [][][]float64{
		{quiet, quiet, gaussianBump(16, 8, 2, -5)},
		{gaussianBump(16, 8, 2, -4), quiet, quiet},
	}, 1)

	mapping := Reorder(d, []int{0, 1, 2})
	if mapping[0] != 1 || mapping[1] != 0 {
		t.Fatalf("mapping = %v, want [1 0]", mapping)
	}
	if ch, _ := d.PeakChannel(0); ch != 0 {
		t.Fatalf("reordered template 0 peaks on channel %d, want 0", ch)
	}

	priors := Permute([]float64{0.01, 0.02}, mapping)
	if priors[0] != 0.02 || priors[1] != 0.01 {
		t.Fatalf("permuted priors = %v", priors)
	}
}
