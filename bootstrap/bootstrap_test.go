package bootstrap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-spikesort/signal"
)

func TestGroupsSlideByOne(t *testing.T) {
	order := []int{3, 1, 4, 1, 5, 9}

	groups := Groups(order, 3)
	if len(groups) != 4 {
		t.Fatalf("group count = %d, want 4", len(groups))
	}
	if !groups[0].First || groups[0].Last {
		t.Fatalf("first group flags wrong: %+v", groups[0])
	}
	if !groups[3].Last || groups[3].First {
		t.Fatalf("last group flags wrong: %+v", groups[3])
	}
	for i := 0; i < 3; i++ {
		// Neighbors overlap by all but one channel.
		a, b := groups[i].Channels, groups[i+1].Channels
		for j := 0; j < 2; j++ {
			if a[j+1] != b[j] {
				t.Fatalf("groups %d/%d misaligned: %v %v", i, i+1, a, b)
			}
		}
	}
}

func TestGroupsWiderThanArray(t *testing.T) {
	groups := Groups([]int{0, 1, 2}, 8)
	if len(groups) != 1 || !groups[0].First || !groups[0].Last {
		t.Fatalf("wide group = %+v", groups)
	}
	if len(groups[0].Channels) != 3 {
		t.Fatalf("wide group channels = %v", groups[0].Channels)
	}
}

func TestDetectFindsEmbeddedSpikes(t *testing.T) {
	const n = 30000
	rng := rand.New(rand.NewSource(9))
	data := [][]float64{make([]float64, n), make([]float64, n)}
	for ch := range data {
		for i := range data[ch] {
			data[ch][i] = 0.3 * rng.NormFloat64()
		}
	}
	want := []int{1000, 5000, 12000, 22000}
	for _, s := range want {
		for i := 0; i < 12; i++ {
			data[0][s+i] -= 6 * math.Sin(math.Pi*float64(i)/12)
		}
	}
	rec, _ := signal.NewRecording(30000, data)

	g := Group{Channels: []int{0, 1}, Center: 0, First: true, Last: true}
	starts := detect(rec, g, 5.5, 32)

	if len(starts) != len(want) {
		t.Fatalf("detected %d events, want %d (starts=%v)", len(starts), len(want), starts)
	}
	for i, s := range starts {
		// Trough sits mid-waveform; the window start should land just
		// before the embedded event.
		if s < want[i]-16 || s > want[i]+16 {
			t.Fatalf("event %d aligned at %d, want near %d", i, s, want[i])
		}
	}
}

func TestMixtureSeparatesTwoClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	var feat [][]float64
	var times []float64
	for i := 0; i < 150; i++ {
		feat = append(feat, []float64{5 + 0.3*rng.NormFloat64(), 0.3 * rng.NormFloat64()})
		times = append(times, rng.Float64())
	}
	for i := 0; i < 100; i++ {
		feat = append(feat, []float64{-5 + 0.3*rng.NormFloat64(), 2 + 0.3*rng.NormFloat64()})
		times = append(times, rng.Float64())
	}

	res := FitMixture(feat, times, DefaultMixtureConfig())
	if len(res.Clusters) != 2 {
		t.Fatalf("cluster count = %d, want 2", len(res.Clusters))
	}

	// All points of one generative mode should share an assignment.
	first := res.Assign[0]
	for i := 1; i < 150; i++ {
		if res.Assign[i] != first {
			t.Fatalf("mode 1 split across clusters at %d", i)
		}
	}
	second := res.Assign[150]
	if second == first {
		t.Fatal("modes not separated")
	}
	for i := 151; i < 250; i++ {
		if res.Assign[i] != second {
			t.Fatalf("mode 2 split across clusters at %d", i)
		}
	}
}

func TestMixtureTracksDriftingMean(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	var feat [][]float64
	var times []float64
	for i := 0; i < 300; i++ {
		ti := rng.Float64()
		// Mean drifts from 0 to 3 over the recording.
		feat = append(feat, []float64{3*ti + 0.2*rng.NormFloat64()})
		times = append(times, ti)
	}

	cfg := DefaultMixtureConfig()
	cfg.DriftRate = 5
	res := FitMixture(feat, times, cfg)

	if len(res.Clusters) != 1 {
		t.Fatalf("drifting unimodal data split into %d clusters", len(res.Clusters))
	}
	c := res.Clusters[0]
	if math.Abs(c.Mean(0)[0]) > 0.4 || math.Abs(c.Mean(1)[0]-3) > 0.4 {
		t.Fatalf("trajectory endpoints %v / %v, want near 0 / 3", c.Mean(0)[0], c.Mean(1)[0])
	}
}

func TestRunEndToEnd(t *testing.T) {
	const n = 60000
	rng := rand.New(rand.NewSource(31))
	data := make([][]float64, 4)
	for ch := range data {
		data[ch] = make([]float64, n)
		for i := range data[ch] {
			data[ch][i] = 0.25 * rng.NormFloat64()
		}
	}
	// One unit on channel 1, one on channel 2, firing alternately.
	for s := 500; s+32 < n; s += 1200 {
		for i := 0; i < 14; i++ {
			data[1][s+i] -= 5 * math.Sin(math.Pi*float64(i)/14)
		}
	}
	for s := 1100; s+32 < n; s += 1200 {
		for i := 0; i < 14; i++ {
			data[2][s+i] -= 4 * math.Sin(math.Pi*float64(i)/14)
		}
	}
	rec, _ := signal.NewRecording(30000, data)

	cfg := DefaultConfig()
	cfg.NumChannels = 3
	cfg.ChannelOrder = []int{0, 1, 2, 3}
	cfg.DetectThresh = 5.5

	st, results, err := Run(rec, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("group count = %d, want 2", len(results))
	}
	if st.NumTemplates < 2 {
		t.Fatalf("expected at least the two planted units, got %d", st.NumTemplates)
	}
	counts := st.Counts()
	for k, c := range counts {
		if c == 0 {
			t.Fatalf("cluster %d retained no spikes", k)
		}
	}
	if len(st.Spikes) < 80 {
		t.Fatalf("retained %d spikes, want most of the ~98 planted", len(st.Spikes))
	}
}
