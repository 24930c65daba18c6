package dict

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// SplitConfig controls the bimodality test applied to each template's
// recovered spike amplitudes.
type SplitConfig struct {
	// MinSpikes is the smallest spike count eligible for splitting.
	MinSpikes int
	// MinShare is the smallest fraction of spikes either mode may hold.
	MinShare float64
	// Separation is the required distance between the two amplitude
	// modes, in pooled standard deviations.
	Separation float64
}

// DefaultSplitConfig returns the separation test defaults. A two-means
// partition of a unimodal Gaussian already scores about 2.6 on the
// separation statistic, so the cutoff sits well above that.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{MinSpikes: 30, MinShare: 0.1, Separation: 3.5}
}

// Split tests each template's amplitude distribution for bimodality via
// a two-component separation test: a 1-D two-means partition of the
// amplitudes, accepted when the mode means are farther apart than
// Separation pooled standard deviations and both modes hold at least
// MinShare of the spikes. An accepted split duplicates the waveform,
// reassigns the upper mode's spikes to the new template, and divides the
// prior by mode share. The next estimation round differentiates the two
// waveforms.
//
// The spike train is updated in place. Returns the expanded priors and
// whether any split occurred.
func Split(d *Dictionary, st *signal.SpikeTrain, priors []float64, cfg SplitConfig) ([]float64, bool) {
	n := len(d.Templates)
	newPriors := append([]float64(nil), priors...)
	split := false

	for k := 0; k < n; k++ {
		var amps []float64
		var idx []int
		for i, s := range st.Spikes {
			if s.Template == k {
				amps = append(amps, s.Amp)
				idx = append(idx, i)
			}
		}
		if len(amps) < cfg.MinSpikes {
			continue
		}

		upper, ok := twoMeansPartition(amps, cfg)
		if !ok {
			continue
		}

		newK := len(d.Templates)
		d.Templates = append(d.Templates, d.Templates[k].clone())

		total := len(amps)
		up := 0
		for i, hi := range upper {
			if hi {
				st.Spikes[idx[i]].Template = newK
				up++
			}
		}
		share := float64(up) / float64(total)
		newPriors = append(newPriors, newPriors[k]*share)
		newPriors[k] *= 1 - share
		split = true
	}

	st.NumTemplates = len(d.Templates)
	return newPriors, split
}

// twoMeansPartition runs a 1-D two-means clustering of amps and applies
// the separation test. Returns per-amplitude membership of the upper
// mode and whether the split is accepted.
func twoMeansPartition(amps []float64, cfg SplitConfig) ([]bool, bool) {
	lo, hi := quantile(amps, 0.25), quantile(amps, 0.75)
	if hi <= lo {
		return nil, false
	}

	upper := make([]bool, len(amps))
	for iter := 0; iter < 50; iter++ {
		changed := false
		mid := 0.5 * (lo + hi)
		for i, a := range amps {
			hiSide := a > mid
			if hiSide != upper[i] {
				upper[i] = hiSide
				changed = true
			}
		}
		var low, high []float64
		for i, a := range amps {
			if upper[i] {
				high = append(high, a)
			} else {
				low = append(low, a)
			}
		}
		if len(low) == 0 || len(high) == 0 {
			return nil, false
		}
		lo, hi = stat.Mean(low, nil), stat.Mean(high, nil)
		if !changed {
			vLow := stat.Variance(low, nil)
			vHigh := stat.Variance(high, nil)
			sep := math.Abs(hi-lo) / math.Sqrt(0.5*(vLow+vHigh)+1e-12)
			share := float64(len(high)) / float64(len(amps))
			if sep < cfg.Separation || share < cfg.MinShare || share > 1-cfg.MinShare {
				return nil, false
			}
			return upper, true
		}
	}
	return nil, false
}

func quantile(x []float64, q float64) float64 {
	tmp := append([]float64(nil), x...)
	// gonum's quantile requires sorted input.
	sort.Float64s(tmp)
	return stat.Quantile(q, stat.Empirical, tmp, nil)
}
