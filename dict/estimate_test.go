package dict

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-spikesort/signal"
)

// embed writes waveform (channel-major) into rec at window start s with
// the given gain.
func embed(rec *signal.Recording, wave [][]float64, s int, gain float64) {
	for ch := range wave {
		for i, v := range wave[ch] {
			if s+i < len(rec.Data[ch]) {
				rec.Data[ch][s+i] += gain * v
			}
		}
	}
}

func TestEstimateRecoversStaticWaveform(t *testing.T) {
	const (
		n       = 20000
		window  = 24
		spacing = 200
	)
	rng := rand.New(rand.NewSource(11))
	data := [][]float64{make([]float64, n), make([]float64, n)}
	for ch := range data {
		for i := range data[ch] {
			data[ch][i] = 0.1 * rng.NormFloat64()
		}
	}
	rec, _ := signal.NewRecording(30000, data)

	truth := [][]float64{
		gaussianBump(window, 10, 2, -5),
		gaussianBump(window, 12, 3, -2),
	}
	var spikes []signal.Spike
	for s := 100; s+window < n; s += spacing {
		embed(rec, truth, s, 1)
		spikes = append(spikes, signal.Spike{Sample: s, Template: 0, Amp: 1})
	}
	st := signal.NewSpikeTrain(spikes, 1)

	basis := signal.CosineBasis(window, 8)
	d, err := Estimate(rec, st, basis, EstimateConfig{
		Knots: 3, KnotSpan: n, Ridge: 1e-3, MinSpikes: 10,
	})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	got := d.MeanWaveform(0)
	for ch := range truth {
		// Compare against the basis projection of the truth, since the
		// estimator cannot beat the fixed basis truncation.
		want := basis.Reconstruct(basis.Project(truth[ch]))
		for i := range want {
			if math.Abs(got[ch][i]-want[i]) > 0.15 {
				t.Fatalf("ch %d sample %d: got %v want %v", ch, i, got[ch][i], want[i])
			}
		}
	}
}

func TestEstimateDriftAcrossKnots(t *testing.T) {
	const (
		n      = 40000
		window = 24
	)
	data := [][]float64{make([]float64, n)}
	rec, _ := signal.NewRecording(30000, data)

	// Amplitude grows linearly from 2 at the start to 4 at the end.
	base := gaussianBump(window, 10, 2, -1)
	var spikes []signal.Spike
	for s := 0; s+window < n; s += 250 {
		gain := 2 + 2*float64(s)/float64(n)
		embed(rec, [][]float64{base}, s, gain)
		spikes = append(spikes, signal.Spike{Sample: s, Template: 0, Amp: 1})
	}
	st := signal.NewSpikeTrain(spikes, 1)

	basis := signal.CosineBasis(window, 8)
	d, err := Estimate(rec, st, basis, EstimateConfig{
		Knots: 2, KnotSpan: n, Ridge: 1e-4, MinSpikes: 10,
	})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	early := maxAbs(d.WaveformAt(0, 0)[0])
	late := maxAbs(d.WaveformAt(0, n)[0])
	if late-early < 1.0 {
		t.Fatalf("drift not captured: early peak %v, late peak %v", early, late)
	}
}

func TestEstimateEmptyTemplateIsZero(t *testing.T) {
	rec, _ := signal.NewRecording(30000, [][]float64{make([]float64, 1000)})
	st := signal.NewSpikeTrain([]signal.Spike{{Sample: 10, Template: 1, Amp: 1}}, 2)

	basis := signal.CosineBasis(16, 4)
	d, err := Estimate(rec, st, basis, DefaultEstimateConfig())
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if e := d.Energy(0); e != 0 {
		t.Fatalf("template with no spikes should be all zero, energy %v", e)
	}
}
