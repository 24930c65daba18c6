package testutil

import (
	"math"
	"math/rand"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Unit describes one synthetic neuron: its channels x window waveform
// and an expected firing rate in spikes per sample.
type Unit struct {
	Waveform [][]float64
	Rate     float64
}

// BiphasicSpike returns a realistic single-channel action-potential
// shape: a sharp negative trough followed by a slower positive
// rebound, peak magnitude amp, trough centered in the window.
func BiphasicSpike(window int, amp float64) []float64 {
	out := make([]float64, window)
	center := float64(window) / 2
	for i := range out {
		t := float64(i) - center
		trough := -amp * math.Exp(-t*t/8)
		rebound := 0.35 * amp * math.Exp(-(t-4)*(t-4)/30)
		out[i] = trough + rebound
	}
	return out
}

// SpreadWaveform places shape on peakChan and a half-amplitude copy on
// its neighbors, zero elsewhere. The result is channels x window.
func SpreadWaveform(channels int, shape []float64, peakChan int) [][]float64 {
	w := make([][]float64, channels)
	for ch := range w {
		w[ch] = make([]float64, len(shape))
		gain := 0.0
		switch {
		case ch == peakChan:
			gain = 1
		case ch == peakChan-1 || ch == peakChan+1:
			gain = 0.5
		}
		for i, v := range shape {
			w[ch][i] = gain * v
		}
	}
	return w
}

// Synthetic embeds the units' waveforms at Poisson spike times in white
// Gaussian noise of the given standard deviation. Spikes of all units
// keep at least minGap samples between window starts, so ground truth
// is unambiguous. The returned train is time sorted with Spike.Sample
// at each embedded window start.
func Synthetic(seed int64, sampleRate float64, samples int, noise float64, minGap int, units []Unit) (*signal.Recording, *signal.SpikeTrain) {
	if len(units) == 0 {
		panic("testutil: no units")
	}
	channels := len(units[0].Waveform)
	window := len(units[0].Waveform[0])
	rng := rand.New(rand.NewSource(seed))

	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, samples)
		for i := range data[ch] {
			data[ch][i] = noise * rng.NormFloat64()
		}
	}

	var spikes []signal.Spike
	lastStart := -minGap
	for s := 0; s+window <= samples; s++ {
		if s-lastStart < minGap {
			continue
		}
		for k, u := range units {
			if rng.Float64() >= u.Rate {
				continue
			}
			for ch := 0; ch < channels; ch++ {
				for i, v := range u.Waveform[ch] {
					data[ch][s+i] += v
				}
			}
			spikes = append(spikes, signal.Spike{Sample: s, Template: k, Amp: 1})
			lastStart = s
			break
		}
	}

	rec, err := signal.NewRecording(sampleRate, data)
	if err != nil {
		panic(err)
	}
	return rec, signal.NewSpikeTrain(spikes, len(units))
}

// MatchRates compares a recovered train against ground truth with a
// sample tolerance on spike position, ignoring template labels. It
// returns the false-positive and false-negative fractions.
func MatchRates(got, truth *signal.SpikeTrain, tol int) (fp, fn float64) {
	matchedTruth := make([]bool, len(truth.Spikes))
	falsePos := 0
	for _, g := range got.Spikes {
		found := false
		for j, tr := range truth.Spikes {
			if matchedTruth[j] {
				continue
			}
			if abs(g.Sample-tr.Sample) <= tol {
				matchedTruth[j] = true
				found = true
				break
			}
		}
		if !found {
			falsePos++
		}
	}
	falseNeg := 0
	for _, m := range matchedTruth {
		if !m {
			falseNeg++
		}
	}
	if len(got.Spikes) > 0 {
		fp = float64(falsePos) / float64(len(got.Spikes))
	}
	if len(truth.Spikes) > 0 {
		fn = float64(falseNeg) / float64(len(truth.Spikes))
	}
	return fp, fn
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
