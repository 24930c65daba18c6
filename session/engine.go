package session

import (
	"log/slog"

	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/pursuit"
	"github.com/cwbudde/algo-spikesort/signal"
	"github.com/cwbudde/algo-spikesort/whiten"
)

// Fitter is the capability surface of the alternating fit: one phase
// per method, each consuming the previous phase's output. The concrete
// engine holds the configuration; the controller sequences the calls.
type Fitter interface {
	WhitenData(rec *signal.Recording, st *signal.SpikeTrain) (*whiten.Transform, error)
	EstimateWaveforms(rec *signal.Recording, st *signal.SpikeTrain) (*dict.Dictionary, error)
	Merge(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) ([]float64, bool)
	Prune(d *dict.Dictionary)
	EstimateSpikes(rec *signal.Recording, d *dict.Dictionary, priors []float64) (*pursuit.Result, error)
	Split(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) ([]float64, bool)
	OrderTemplates(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) []float64
	EstimateByBlock(src pursuit.BlockSource, d *dict.Dictionary, priors []float64, acc *dict.Accumulator) (*signal.SpikeTrain, []float64, error)
}

// engine is the one concrete Fitter. It owns the waveform basis, the
// whitening transform once estimated, and the knot-grid geometry of the
// current phase.
type engine struct {
	cfg       Config
	basis     *signal.Basis
	transform *whiten.Transform
	knotSpan  int
	logger    *slog.Logger
}

func newEngine(cfg Config, knotSpan int, logger *slog.Logger) *engine {
	return &engine{
		cfg:      cfg,
		basis:    signal.CosineBasis(cfg.InitExtractWin, cfg.BasisComponents),
		knotSpan: knotSpan,
		logger:   logger,
	}
}

func (e *engine) estimateConfig() dict.EstimateConfig {
	c := dict.DefaultEstimateConfig()
	c.Knots = e.cfg.NumKnots
	c.KnotSpan = e.knotSpan
	return c
}

func (e *engine) pursuitConfig() pursuit.Config {
	c := pursuit.DefaultConfig()
	c.OverlapSamples = e.cfg.overlapSamples()
	return c
}

// WhitenData estimates the noise statistics with known spikes excluded
// and whitens rec in place. The transform is kept for the final block
// pass; it is not recomputed mid-loop.
func (e *engine) WhitenData(rec *signal.Recording, st *signal.SpikeTrain) (*whiten.Transform, error) {
	t, err := whiten.Estimate(rec, st, e.cfg.InitExtractWin, whiten.DefaultConfig())
	if err != nil {
		return nil, err
	}
	t.Apply(rec)
	e.transform = t
	return t, nil
}

func (e *engine) EstimateWaveforms(rec *signal.Recording, st *signal.SpikeTrain) (*dict.Dictionary, error) {
	return dict.Estimate(rec, st, e.basis, e.estimateConfig())
}

// Merge collapses near-duplicate templates and remaps the train onto
// the survivors.
func (e *engine) Merge(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) ([]float64, bool) {
	out, mapping, merged := dict.Merge(d, priors, e.cfg.MergeThreshold)
	if merged {
		st.Remap(mapping, d.NumTemplates())
	}
	return out, merged
}

func (e *engine) Prune(d *dict.Dictionary) {
	dict.Prune(d, dict.PruneConfig{
		Radius:    e.cfg.PruningRadius,
		Threshold: e.cfg.PruningThreshold,
	})
}

func (e *engine) EstimateSpikes(rec *signal.Recording, d *dict.Dictionary, priors []float64) (*pursuit.Result, error) {
	return pursuit.Estimate(rec, d, priors, e.pursuitConfig())
}

func (e *engine) Split(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) ([]float64, bool) {
	return dict.Split(d, st, priors, dict.DefaultSplitConfig())
}

// OrderTemplates permutes the dictionary into the configured electrode
// traversal order and keeps train and priors in step.
func (e *engine) OrderTemplates(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) []float64 {
	mapping := dict.Reorder(d, e.cfg.channelOrder())
	st.Remap(mapping, d.NumTemplates())
	return dict.Permute(priors, mapping)
}

func (e *engine) EstimateByBlock(src pursuit.BlockSource, d *dict.Dictionary, priors []float64, acc *dict.Accumulator) (*signal.SpikeTrain, []float64, error) {
	overlap := e.cfg.overlapSamples()
	if w := d.Window(); overlap < w {
		overlap = w
	}
	return pursuit.EstimateByBlock(src, d, priors, pursuit.BlockPassConfig{
		Pursuit:     e.pursuitConfig(),
		Overlap:     overlap,
		Transform:   e.transform,
		Accumulator: acc,
		Logger:      e.logger,
	})
}
