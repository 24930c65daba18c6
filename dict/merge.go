package dict

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Merge combines template pairs whose mean-waveform cosine similarity
// reaches threshold. The survivor's waveform is the prior-weighted mean
// of the pair and its prior is the sum, which makes repeated merging
// associative up to floating-point error. Merging repeats until no pair
// remains at or above threshold.
//
// Returns the updated priors, the old-to-new template remap table, and
// whether any merge occurred.
func Merge(d *Dictionary, priors []float64, threshold float64) ([]float64, []int, bool) {
	n := len(d.Templates)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	weights := append([]float64(nil), priors...)
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	vecs := make([][]float64, n)
	for k := 0; k < n; k++ {
		vecs[k] = flattenMean(d, k)
	}

	merged := false
	for {
		bi, bj, best := -1, -1, threshold
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !alive[j] {
					continue
				}
				if sim := cosine(vecs[i], vecs[j]); sim >= best {
					bi, bj, best = i, j, sim
				}
			}
		}
		if bi < 0 {
			break
		}
		merged = true
		combine(d, weights, bi, bj)
		vecs[bi] = flattenMean(d, bi)
		alive[bj] = false
		parent[bj] = bi
	}

	if !merged {
		return priors, identity(n), false
	}

	mapping := make([]int, n)
	newPriors := make([]float64, 0, n)
	var kept []*Template
	for k := 0; k < n; k++ {
		if alive[k] {
			mapping[k] = len(kept)
			kept = append(kept, d.Templates[k])
			newPriors = append(newPriors, weights[k])
		}
	}
	for k := 0; k < n; k++ {
		if !alive[k] {
			root := k
			for !alive[root] {
				root = parent[root]
			}
			mapping[k] = mapping[root]
		}
	}
	d.Templates = kept
	return newPriors, mapping, true
}

// combine folds template j into template i with prior weighting.
func combine(d *Dictionary, weights []float64, i, j int) {
	wi, wj := weights[i], weights[j]
	total := wi + wj
	if total <= 0 {
		// Both priors collapsed; plain average keeps the waveform finite.
		wi, wj, total = 1, 1, 2
	}
	ti, tj := d.Templates[i], d.Templates[j]
	for knot := range ti.Coef {
		var a, b mat.Dense
		a.Scale(wi/total, ti.Coef[knot])
		b.Scale(wj/total, tj.Coef[knot])
		ti.Coef[knot].Add(&a, &b)
	}
	// The merged support is the union of both supports; a nil support
	// (unpruned) stays nil.
	if ti.Support != nil && tj.Support != nil {
		for ch := range ti.Support {
			for s := range ti.Support[ch] {
				ti.Support[ch][s] = ti.Support[ch][s] || tj.Support[ch][s]
			}
		}
	} else {
		ti.Support = nil
	}
	weights[i] += weights[j]
}

func flattenMean(d *Dictionary, k int) []float64 {
	wave := d.MeanWaveform(k)
	out := make([]float64, 0, len(wave)*len(wave[0]))
	for _, ch := range wave {
		out = append(out, ch...)
	}
	return out
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func identity(n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = i
	}
	return m
}
