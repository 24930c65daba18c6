package session

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/internal/testutil"
	"github.com/cwbudde/algo-spikesort/signal"
)

func TestConvStateRunsFullSettleBudget(t *testing.T) {
	// Constant template count, no splits: stability lands on round 2
	// and all three settle rounds run after it.
	c := newConvState(3, 3)

	if got := c.observe(1, 3); got {
		t.Fatal("round one must not stabilize")
	}
	if done := c.endRound(false, false); done {
		t.Fatal("finished before stability")
	}

	if got := c.observe(2, 3); !got {
		t.Fatal("round two should stabilize")
	}
	if done := c.endRound(false, true); done {
		t.Fatal("stabilizing round consumed the settle budget")
	}

	for round := 3; round <= 4; round++ {
		if got := c.observe(round, 3); got {
			t.Fatalf("round %d re-stabilized", round)
		}
		if done := c.endRound(false, false); done {
			t.Fatalf("finished on settle round %d, want round 5", round)
		}
	}
	if done := c.endRound(false, false); !done {
		t.Fatal("not finished after three settle rounds")
	}
}

func TestConvStateZeroSettleEndsImmediately(t *testing.T) {
	c := newConvState(2, 0)
	c.observe(1, 2)
	c.endRound(false, false)
	if !c.observe(2, 2) {
		t.Fatal("round two should stabilize")
	}
	if done := c.endRound(false, true); !done {
		t.Fatal("zero settle rounds should end on the stabilizing round")
	}
}

func TestConvStateSplitDelaysStability(t *testing.T) {
	c := newConvState(2, 1)

	c.observe(1, 2)
	c.endRound(true, false) // round 1 split

	if c.observe(2, 3) {
		t.Fatal("growing count stabilized")
	}
	c.endRound(true, false) // round 2 split again

	if c.observe(3, 3) {
		t.Fatal("round after a split stabilized")
	}
	c.endRound(false, false)

	if !c.observe(4, 3) {
		t.Fatal("round four should stabilize")
	}
}

func TestFitSubsetSpansRecording(t *testing.T) {
	const channels, total = 2, 10000
	cfg := testConfig(channels)
	cfg.BlockSize = 100
	cfg.ArtifactBlockSize = 10
	cfg.MaxSamples = 1000

	s, err := New(cfg, WithLogger(quietLogger()), WithWorkRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Each sample's value encodes its global index.
	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, total)
		for g := range data[ch] {
			data[ch][g] = float64(g + ch*total)
		}
	}
	rec, err := signal.NewRecording(cfg.SampleRate, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ingest(&recSource{rec: rec}); err != nil {
		t.Fatal(err)
	}

	sub, err := s.readFitSubset(total)
	if err != nil {
		t.Fatal(err)
	}
	if got := sub.Samples(); got != cfg.MaxSamples {
		t.Fatalf("subset length = %d, want %d", got, cfg.MaxSamples)
	}

	// Ten evenly spaced chunks, so the buffer reaches the end of the
	// recording and fit time maps to global time by one uniform stride.
	const chunk, span = 100, 1000
	for c := 0; c < 10; c++ {
		for _, i := range []int{0, chunk - 1} {
			want := float64(c*span + i)
			if got := sub.Data[0][c*chunk+i]; got != want {
				t.Fatalf("chunk %d sample %d = %v, want global %v", c, i, got, want)
			}
			if got := sub.Data[1][c*chunk+i]; got != want+total {
				t.Fatalf("chunk %d sample %d channel 1 = %v, want %v", c, i, got, want+float64(total))
			}
		}
	}

	// A dataset within the cap is read whole.
	cfg.MaxSamples = 0
	s2, err := New(cfg, WithLogger(quietLogger()), WithWorkRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if err := s2.Ingest(&recSource{rec: rec}); err != nil {
		t.Fatal(err)
	}
	full, err := s2.readFitSubset(total)
	if err != nil {
		t.Fatal(err)
	}
	if full.Samples() != total {
		t.Fatalf("uncapped subset length = %d, want %d", full.Samples(), total)
	}
}

func TestFitSubsetPreservesDriftPerSample(t *testing.T) {
	const (
		channels = 2
		total    = 20000
		window   = 32
		chunk    = 200
		span     = 2000
	)
	cfg := testConfig(channels)
	cfg.BlockSize = chunk
	cfg.ArtifactBlockSize = 20
	cfg.MaxSamples = 2000

	// One template whose amplitude grows linearly from 1 to 2 across
	// the recording, embedded at the start of every chunk the subset
	// will select.
	shape := testutil.SpreadWaveform(channels, testutil.BiphasicSpike(window, 5), 0)
	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, total)
	}
	for c := 0; c < 10; c++ {
		g := c * span
		amp := 1 + float64(g)/float64(total)
		for ch := 0; ch < channels; ch++ {
			for i, v := range shape[ch] {
				data[ch][g+i] += amp * v
			}
		}
	}
	rec, err := signal.NewRecording(cfg.SampleRate, data)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(cfg, WithLogger(quietLogger()), WithWorkRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ingest(&recSource{rec: rec}); err != nil {
		t.Fatal(err)
	}

	sub, err := s.readFitSubset(total)
	if err != nil {
		t.Fatal(err)
	}

	// Spike positions in fit time, one per chunk start.
	var spikes []signal.Spike
	for c := 0; c < 10; c++ {
		spikes = append(spikes, signal.Spike{Sample: c * chunk, Template: 0, Amp: 1})
	}
	st := signal.NewSpikeTrain(spikes, 1)

	basis := signal.CosineBasis(window, 8)
	d, err := dict.Estimate(sub, st, basis, dict.EstimateConfig{
		Knots:     2,
		KnotSpan:  sub.Samples(),
		Ridge:     1e-9,
		MinSpikes: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Rescaling the knot grid to the dataset length must reproduce the
	// true amplitude at global time: the subset spans the full duration,
	// so drift per sample is unchanged by the stretch.
	d.Rescale(total)
	ratio := peakMag(d.WaveformAt(0, total/2)) / peakMag(d.WaveformAt(0, 0))
	if math.Abs(ratio-1.5) > 0.02 {
		t.Fatalf("amplitude ratio at dataset midpoint = %v, want 1.5", ratio)
	}
	end := peakMag(d.WaveformAt(0, total)) / peakMag(d.WaveformAt(0, 0))
	if math.Abs(end-2) > 0.05 {
		t.Fatalf("amplitude ratio at dataset end = %v, want 2", end)
	}
}

func peakMag(w [][]float64) float64 {
	best := 0.0
	for _, ch := range w {
		for _, v := range ch {
			if a := math.Abs(v); a > best {
				best = a
			}
		}
	}
	return best
}
