package dict

import (
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// EstimateConfig controls waveform regression.
type EstimateConfig struct {
	Knots     int
	KnotSpan  int
	Ridge     float64
	MinSpikes int
}

// DefaultEstimateConfig returns sensible defaults.
func DefaultEstimateConfig() EstimateConfig {
	return EstimateConfig{
		Knots:     5,
		KnotSpan:  1,
		Ridge:     1e-3,
		MinSpikes: 50,
	}
}

// Accumulator builds the per-template ridge regression incrementally, so
// waveforms can be estimated either from an in-memory recording or block
// by block during the final full-dataset pass. Snippets are projected
// through the basis and weighted by the hat functions of the drift-knot
// grid; the normal equations accumulate per template.
type Accumulator struct {
	d      *Dictionary
	cfg    EstimateConfig
	gram   []*mat.SymDense // per template: knots x knots
	rhs    []*mat.Dense    // per template: knots x (components*channels)
	counts []int
}

// NewAccumulator prepares an estimation over numTemplates templates.
func NewAccumulator(basis *signal.Basis, channels, numTemplates int, cfg EstimateConfig) (*Accumulator, error) {
	d, err := New(basis, cfg.Knots, cfg.KnotSpan, channels)
	if err != nil {
		return nil, err
	}
	a := &Accumulator{
		d:      d,
		cfg:    cfg,
		gram:   make([]*mat.SymDense, numTemplates),
		rhs:    make([]*mat.Dense, numTemplates),
		counts: make([]int, numTemplates),
	}
	comp := basis.Components()
	for k := range a.gram {
		a.gram[k] = mat.NewSymDense(cfg.Knots, nil)
		a.rhs[k] = mat.NewDense(cfg.Knots, comp*channels, nil)
	}
	return a, nil
}

// Add accumulates every spike whose window lies fully inside rec.
// Spike samples are global; offset is rec's position in the full
// dataset. Knot weights use the global sample so drift interpolation is
// consistent across blocks.
func (a *Accumulator) Add(rec *signal.Recording, offset int, spikes []signal.Spike) {
	window := a.d.Basis.Window()
	comp := a.d.Basis.Components()
	channels := rec.Channels()
	n := rec.Samples()

	for _, s := range spikes {
		local := s.Sample - offset
		if local < 0 || local+window > n {
			continue
		}
		k := s.Template
		a.counts[k]++
		h := a.d.knotWeights(s.Sample)
		gram := a.gram[k]
		rhs := a.rhs[k]
		for i := 0; i < a.cfg.Knots; i++ {
			if h[i] == 0 {
				continue
			}
			for j := i; j < a.cfg.Knots; j++ {
				if h[j] != 0 {
					gram.SetSym(i, j, gram.At(i, j)+h[i]*h[j])
				}
			}
		}
		for ch := 0; ch < channels; ch++ {
			y := a.d.Basis.Project(rec.Data[ch][local : local+window])
			for i := 0; i < a.cfg.Knots; i++ {
				if h[i] == 0 {
					continue
				}
				for c := 0; c < comp; c++ {
					col := ch*comp + c
					rhs.Set(i, col, rhs.At(i, col)+h[i]*y[c])
				}
			}
		}
	}
}

// Finish solves the accumulated systems, one template per worker, and
// returns the estimated dictionary. Templates with few spikes get a
// stronger effective ridge; an empty template stays all zero.
func (a *Accumulator) Finish() *Dictionary {
	n := len(a.gram)
	a.d.Templates = make([]*Template, n)

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for k := 0; k < n; k++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(k int) {
			defer wg.Done()
			defer func() { <-sem }()
			a.d.Templates[k] = a.solve(k)
		}(k)
	}
	wg.Wait()
	return a.d
}

func (a *Accumulator) solve(k int) *Template {
	comp := a.d.Basis.Components()
	channels := a.d.Channels
	knots := a.cfg.Knots

	t := &Template{Coef: make([]*mat.Dense, knots)}
	for i := range t.Coef {
		t.Coef[i] = mat.NewDense(comp, channels, nil)
	}
	used := a.counts[k]
	if used == 0 {
		return t
	}

	gram := mat.NewSymDense(knots, nil)
	gram.CopySym(a.gram[k])
	lam := a.cfg.Ridge * math.Max(1, float64(a.cfg.MinSpikes)/float64(used))
	for i := 0; i < knots; i++ {
		gram.SetSym(i, i, gram.At(i, i)+lam)
	}

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return a.meanTemplate(k, t, used)
	}
	sol := mat.NewDense(knots, comp*channels, nil)
	if err := chol.SolveTo(sol, a.rhs[k]); err != nil {
		return a.meanTemplate(k, t, used)
	}

	for i := 0; i < knots; i++ {
		for ch := 0; ch < channels; ch++ {
			for c := 0; c < comp; c++ {
				t.Coef[i].Set(c, ch, sol.At(i, ch*comp+c))
			}
		}
	}
	return t
}

// meanTemplate spreads the pooled mean waveform across every knot, the
// fallback when a degenerate spike distribution defeats the ridge.
func (a *Accumulator) meanTemplate(k int, t *Template, used int) *Template {
	comp := a.d.Basis.Components()
	for ch := 0; ch < a.d.Channels; ch++ {
		for c := 0; c < comp; c++ {
			var sum float64
			for i := 0; i < a.cfg.Knots; i++ {
				sum += a.rhs[k].At(i, ch*comp+c)
			}
			v := sum / float64(used)
			for i := 0; i < a.cfg.Knots; i++ {
				t.Coef[i].Set(c, ch, v)
			}
		}
	}
	return t
}

// Estimate fits each template's spatiotemporal waveform by ridge
// regression of snippets aligned to its spikes, the estimate varying
// piecewise linearly across the drift knots.
func Estimate(rec *signal.Recording, st *signal.SpikeTrain, basis *signal.Basis, cfg EstimateConfig) (*Dictionary, error) {
	acc, err := NewAccumulator(basis, rec.Channels(), st.NumTemplates, cfg)
	if err != nil {
		return nil, err
	}
	acc.Add(rec, 0, st.Spikes)
	return acc.Finish(), nil
}
