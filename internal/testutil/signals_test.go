package testutil

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-spikesort/signal"
)

func trainOf(samples ...int) *signal.SpikeTrain {
	spikes := make([]signal.Spike, len(samples))
	for i, s := range samples {
		spikes[i] = signal.Spike{Sample: s, Amp: 1}
	}
	return signal.NewSpikeTrain(spikes, 1)
}

func TestBiphasicSpikeShape(t *testing.T) {
	w := BiphasicSpike(32, 10)
	RequireFinite(t, w)

	minAt, minVal := 0, 0.0
	for i, v := range w {
		if v < minVal {
			minAt, minVal = i, v
		}
	}
	if minAt != 16 {
		t.Fatalf("trough at %d, want window center 16", minAt)
	}
	if math.Abs(minVal+10) > 1.5 {
		t.Fatalf("trough magnitude %v, want about -10", minVal)
	}
}

func TestSpreadWaveformGains(t *testing.T) {
	shape := BiphasicSpike(16, 4)
	w := SpreadWaveform(4, shape, 1)
	if len(w) != 4 {
		t.Fatalf("channels = %d, want 4", len(w))
	}
	if w[1][8] != shape[8] {
		t.Fatal("peak channel not at unit gain")
	}
	if math.Abs(w[0][8]-0.5*shape[8]) > 1e-15 {
		t.Fatal("neighbor channel not at half gain")
	}
	for _, v := range w[3] {
		if v != 0 {
			t.Fatal("distant channel not silent")
		}
	}
}

func TestSyntheticGroundTruth(t *testing.T) {
	units := []Unit{
		{Waveform: SpreadWaveform(2, BiphasicSpike(32, 8), 0), Rate: 0.002},
		{Waveform: SpreadWaveform(2, BiphasicSpike(32, 6), 1), Rate: 0.002},
	}
	rec, truth := Synthetic(11, 30000, 20000, 1, 40, units)

	if rec.Channels() != 2 || rec.Samples() != 20000 {
		t.Fatalf("recording shape %dx%d", rec.Channels(), rec.Samples())
	}
	if len(truth.Spikes) == 0 {
		t.Fatal("no spikes embedded")
	}
	for i := 1; i < len(truth.Spikes); i++ {
		if truth.Spikes[i].Sample-truth.Spikes[i-1].Sample < 40 {
			t.Fatalf("spikes %d and %d closer than the minimum gap", i-1, i)
		}
	}
	for _, s := range truth.Spikes {
		if s.Template < 0 || s.Template >= 2 {
			t.Fatalf("bad template label %d", s.Template)
		}
	}
}

func TestMatchRatesHandComputed(t *testing.T) {
	truth := trainOf(100, 200, 300)
	got := trainOf(101, 205, 400)

	// 101 matches 100, 205 misses 200 under tol 3, 400 matches nothing.
	fp, fn := MatchRates(got, truth, 3)
	if math.Abs(fp-2.0/3.0) > 1e-12 {
		t.Fatalf("fp = %v, want 2/3", fp)
	}
	if math.Abs(fn-2.0/3.0) > 1e-12 {
		t.Fatalf("fn = %v, want 2/3", fn)
	}
}
