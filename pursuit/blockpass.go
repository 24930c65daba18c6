package pursuit

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/signal"
	"github.com/cwbudde/algo-spikesort/whiten"
)

// BlockSource serves contiguous sample ranges of the full dataset,
// artifact segments already zeroed. The persistent block store
// implements it.
type BlockSource interface {
	TotalSamples() int
	BlockSamples() int
	ReadRange(start, end int) (*signal.Recording, error)
}

// ErrShortOverlap reports a block overlap smaller than the waveform
// window, which would lose spikes spanning a boundary.
var ErrShortOverlap = errors.New("pursuit: block overlap shorter than waveform window")

// BlockPassConfig controls the final full-dataset pass.
type BlockPassConfig struct {
	Pursuit Config
	// Overlap is the number of samples each block extends into its
	// neighbors; must be at least the template support width.
	Overlap int
	// Transform whitens each block before pursuit; the dictionary is
	// assumed to be on the same whitened scale.
	Transform *whiten.Transform
	// Accumulator, when non-nil, receives the raw (unwhitened) blocks
	// and the accepted spikes, building the final amplitude-scale
	// dictionary in the same pass.
	Accumulator *dict.Accumulator
	// Logger receives per-block progress at Debug level; nil disables.
	Logger *slog.Logger
}

// EstimateByBlock runs the pursuit over the full dataset in fixed-size
// blocks. Each block is pursued against its own drift-interpolated
// dictionary snapshot; blocks are read one ahead of the compute but
// consumed and applied strictly in order. A spike belongs to the block
// containing its window start, so boundary spikes are neither missed
// nor double-counted.
func EstimateByBlock(src BlockSource, d *dict.Dictionary, priors []float64, cfg BlockPassConfig) (*signal.SpikeTrain, []float64, error) {
	if d.NumTemplates() == 0 {
		return nil, nil, ErrEmptyDictionary
	}
	window := d.Window()
	if cfg.Overlap < window {
		return nil, nil, ErrShortOverlap
	}
	total := src.TotalSamples()
	blockSize := src.BlockSamples()
	if total < window {
		return nil, nil, ErrShortSignal
	}
	nBlocks := (total + blockSize - 1) / blockSize

	type fetched struct {
		idx      int
		extStart int
		extEnd   int
		rec      *signal.Recording
		err      error
	}

	// One-block read-ahead; the channel capacity bounds the prefetch.
	feed := make(chan fetched, 1)
	go func() {
		defer close(feed)
		for i := 0; i < nBlocks; i++ {
			start := i * blockSize
			end := start + blockSize
			if end > total {
				end = total
			}
			extStart := start - cfg.Overlap
			if extStart < 0 {
				extStart = 0
			}
			extEnd := end + cfg.Overlap
			if extEnd > total {
				extEnd = total
			}
			rec, err := src.ReadRange(extStart, extEnd)
			feed <- fetched{idx: i, extStart: extStart, extEnd: extEnd, rec: rec, err: err}
			if err != nil {
				return
			}
		}
	}()

	var all []signal.Spike
	for f := range feed {
		if f.err != nil {
			return nil, nil, fmt.Errorf("pursuit: read block %d: %w", f.idx, f.err)
		}
		start := f.idx * blockSize
		end := start + blockSize
		if end > total {
			end = total
		}

		work := f.rec
		if cfg.Accumulator != nil {
			// Keep the raw copy; whiten a working clone.
			work = f.rec.Clone()
		}
		if cfg.Transform != nil {
			cfg.Transform.Apply(work)
		}

		snap := d.SnapshotAt((start + end) / 2)
		eng := newEngine(work, snap, priors, cfg.Pursuit)
		if err := eng.run(); err != nil {
			return nil, nil, fmt.Errorf("pursuit: block %d: %w", f.idx, err)
		}

		var core []signal.Spike
		for _, sp := range eng.accepted {
			g := f.extStart + sp.Sample
			if g >= start && g < end {
				sp.Sample = g
				core = append(core, sp)
			}
		}
		all = append(all, core...)

		if cfg.Accumulator != nil {
			cfg.Accumulator.Add(f.rec, f.extStart, core)
		}
		if cfg.Logger != nil {
			cfg.Logger.Debug("block pursued",
				slog.Int("block", f.idx),
				slog.Int("spikes", len(core)),
				slog.Int("total", len(all)))
		}
	}

	train := signal.NewSpikeTrain(all, d.NumTemplates())
	return train, train.Priors(total), nil
}
