package dict

import "math"

// PruneConfig controls dictionary sparsification.
type PruneConfig struct {
	// Radius is the half-width, in window samples, kept around the peak.
	Radius int
	// Threshold is the minimum kept coefficient magnitude, in
	// noise-normalized (whitened) units.
	Threshold float64
}

// Prune computes each template's compact support: samples farther than
// Radius from the template's global peak are zeroed, and surviving
// samples below Threshold are zeroed. The support is stored on the
// template and applied at every reconstruction, so applying the
// identical prune twice is a no-op.
func Prune(d *Dictionary, cfg PruneConfig) {
	for k := range d.Templates {
		pruneTemplate(d, k, cfg)
	}
}

func pruneTemplate(d *Dictionary, k int, cfg PruneConfig) {
	t := d.Templates[k]
	wave := d.MeanWaveform(k) // support applied if already pruned

	peakAt, peakMag := 0, 0.0
	for _, row := range wave {
		for s, v := range row {
			if m := math.Abs(v); m > peakMag {
				peakAt, peakMag = s, m
			}
		}
	}

	support := make([][]bool, len(wave))
	for ch, row := range wave {
		support[ch] = make([]bool, len(row))
		for s, v := range row {
			if abs(s-peakAt) > cfg.Radius {
				continue
			}
			if math.Abs(v) < cfg.Threshold {
				continue
			}
			support[ch][s] = true
		}
	}
	t.Support = support
}

// ApplySupport copies the support masks from src onto dst template for
// template, used to reapply the whitened-scale pruning decision to the
// final amplitude-scale dictionary.
func ApplySupport(dst, src *Dictionary) {
	n := len(dst.Templates)
	if len(src.Templates) < n {
		n = len(src.Templates)
	}
	for k := 0; k < n; k++ {
		s := src.Templates[k].Support
		if s == nil {
			continue
		}
		cp := make([][]bool, len(s))
		for ch, row := range s {
			cp[ch] = append([]bool(nil), row...)
		}
		dst.Templates[k].Support = cp
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
