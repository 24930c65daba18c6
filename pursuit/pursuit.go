package pursuit

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/signal"
)

// Errors returned by the pursuit engine.
var (
	ErrEmptyDictionary = errors.New("pursuit: empty dictionary")
	ErrShortSignal     = errors.New("pursuit: signal shorter than waveform window")
)

// Config controls spike recovery.
type Config struct {
	// OverlapSamples is the refractory exclusion between accepted
	// spikes of spatially overlapping templates.
	OverlapSamples int
	// MinPrior floors the prior when forming detection thresholds so a
	// collapsed template cannot produce an infinite threshold.
	MinPrior float64
	// AmpLow and AmpHigh clamp the recovered per-spike amplitude.
	AmpLow, AmpHigh float64
}

// DefaultConfig returns pursuit defaults.
func DefaultConfig() Config {
	return Config{
		OverlapSamples: 12,
		MinPrior:       1e-6,
		AmpLow:         0.25,
		AmpHigh:        4,
	}
}

// Result is a recovered spike train with post-hoc priors.
type Result struct {
	Train  *signal.SpikeTrain
	Priors []float64
}

// Estimate runs greedy binary pursuit over the whole (whitened)
// recording. The detection threshold per template is the Bayesian
// acceptance bound ||w||^2/2 + log((1-p)/p): a placement is accepted
// only while it increases the model posterior. Matched-filter
// correlations use the mid-span drift snapshot; subtraction and
// amplitudes use it too, which is exact while the caller's knot grid
// spans the data being pursued.
func Estimate(rec *signal.Recording, d *dict.Dictionary, priors []float64, cfg Config) (*Result, error) {
	k := d.NumTemplates()
	if k == 0 {
		return nil, ErrEmptyDictionary
	}
	n := rec.Samples()
	window := d.Window()
	if n < window {
		return nil, ErrShortSignal
	}

	snap := d.SnapshotAt(d.KnotSpan / 2)
	eng := newEngine(rec, snap, priors, cfg)
	if err := eng.run(); err != nil {
		return nil, err
	}

	train := signal.NewSpikeTrain(eng.accepted, k)
	return &Result{Train: train, Priors: train.Priors(n)}, nil
}

// engine holds the per-call pursuit state: the residual, one
// correlation track per template, and the accepted spike list.
type engine struct {
	cfg      Config
	residual [][]float64
	waves    [][][]float64 // template -> channel -> window
	norms    []float64
	thresh   []float64
	overlaps [][]bool
	corr     [][]float64
	blocked  map[int64]bool
	accepted []signal.Spike
	window   int
	n        int
}

func newEngine(rec *signal.Recording, snap *dict.Dictionary, priors []float64, cfg Config) *engine {
	k := snap.NumTemplates()
	e := &engine{
		cfg:     cfg,
		window:  snap.Window(),
		n:       rec.Samples(),
		blocked: make(map[int64]bool),
	}
	e.residual = make([][]float64, rec.Channels())
	for ch := range e.residual {
		e.residual[ch] = append([]float64(nil), rec.Data[ch]...)
	}
	e.waves = make([][][]float64, k)
	e.norms = make([]float64, k)
	e.thresh = make([]float64, k)
	for t := 0; t < k; t++ {
		e.waves[t] = snap.WaveformAt(t, 0)
		for _, ch := range e.waves[t] {
			for _, v := range ch {
				e.norms[t] += v * v
			}
		}
		p := priors[t]
		if p < cfg.MinPrior {
			p = cfg.MinPrior
		}
		if p > 0.5 {
			p = 0.5
		}
		e.thresh[t] = e.norms[t]/2 + math.Log((1-p)/p)
	}
	e.overlaps = spatialOverlaps(e.waves)
	return e
}

// spatialOverlaps marks template pairs sharing a channel with
// non-negligible energy; only such pairs contest the refractory window.
func spatialOverlaps(waves [][][]float64) [][]bool {
	k := len(waves)
	const eps = 1e-9
	active := make([][]bool, k)
	for t := range waves {
		active[t] = make([]bool, len(waves[t]))
		for ch, w := range waves[t] {
			var sum float64
			for _, v := range w {
				sum += v * v
			}
			active[t][ch] = sum > eps
		}
	}
	out := make([][]bool, k)
	for a := 0; a < k; a++ {
		out[a] = make([]bool, k)
		for b := 0; b < k; b++ {
			for ch := range active[a] {
				if active[a][ch] && active[b][ch] {
					out[a][b] = true
					break
				}
			}
		}
	}
	return out
}

func (e *engine) run() error {
	k := len(e.waves)
	e.corr = make([][]float64, k)
	for t := 0; t < k; t++ {
		if e.norms[t] == 0 {
			e.corr[t] = make([]float64, e.n-e.window+1)
			continue
		}
		track := make([]float64, e.n-e.window+1)
		for ch := range e.residual {
			c, err := matchedFilter(e.residual[ch], e.waves[t][ch])
			if err != nil {
				return err
			}
			for i, v := range c {
				track[i] += v
			}
		}
		e.corr[t] = track
	}

	// Greedy acceptance; at most one spike per sample per template
	// bounds the loop.
	maxAccept := e.n
	for len(e.accepted) < maxAccept {
		bt, bs, best := -1, -1, 0.0
		for t := 0; t < k; t++ {
			if e.norms[t] == 0 {
				continue
			}
			for s, c := range e.corr[t] {
				if e.blocked[key(t, s)] {
					continue
				}
				if obj := c - e.thresh[t]; obj > best {
					bt, bs, best = t, s, obj
				}
			}
		}
		if bt < 0 {
			break
		}
		if e.refractoryBlocked(bt, bs) {
			e.blocked[key(bt, bs)] = true
			continue
		}
		e.accept(bt, bs)
	}
	return nil
}

func (e *engine) refractoryBlocked(t, s int) bool {
	for _, sp := range e.accepted {
		if !e.overlaps[t][sp.Template] {
			continue
		}
		d := s - sp.Sample
		if d < 0 {
			d = -d
		}
		if d < e.cfg.OverlapSamples {
			return true
		}
	}
	return false
}

// accept subtracts the matched reconstruction and repairs every
// correlation track within one window of the placement.
func (e *engine) accept(t, s int) {
	amp := e.corr[t][s] / e.norms[t]
	if amp < e.cfg.AmpLow {
		amp = e.cfg.AmpLow
	}
	if amp > e.cfg.AmpHigh {
		amp = e.cfg.AmpHigh
	}

	for ch := range e.residual {
		w := e.waves[t][ch]
		seg := e.residual[ch][s : s+e.window]
		for j := range seg {
			seg[j] -= amp * w[j]
		}
	}
	e.accepted = append(e.accepted, signal.Spike{Sample: s, Template: t, Amp: amp})

	lo := s - e.window + 1
	if lo < 0 {
		lo = 0
	}
	hi := s + e.window
	if hi > e.n-e.window+1 {
		hi = e.n - e.window + 1
	}
	for tt := range e.waves {
		if e.norms[tt] == 0 {
			continue
		}
		for pos := lo; pos < hi; pos++ {
			var sum float64
			for ch := range e.residual {
				w := e.waves[tt][ch]
				seg := e.residual[ch][pos : pos+e.window]
				for j, v := range w {
					sum += seg[j] * v
				}
			}
			e.corr[tt][pos] = sum
		}
	}
}

func key(t, s int) int64 { return int64(t)<<40 | int64(s) }
