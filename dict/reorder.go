package dict

import "sort"

// Reorder permutes templates by the position of each template's peak
// channel under the requested channel traversal order. Purely an index
// permutation for deterministic downstream numbering; no waveform
// changes. Returns the old-to-new remap table for the spike train and
// priors.
func Reorder(d *Dictionary, channelOrder []int) []int {
	n := len(d.Templates)

	rank := make(map[int]int, len(channelOrder))
	for pos, ch := range channelOrder {
		rank[ch] = pos
	}

	type key struct {
		old  int
		rank int
	}
	keys := make([]key, n)
	for k := 0; k < n; k++ {
		ch, _ := d.PeakChannel(k)
		r, ok := rank[ch]
		if !ok {
			r = len(channelOrder) + ch
		}
		keys[k] = key{old: k, rank: r}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].rank != keys[j].rank {
			return keys[i].rank < keys[j].rank
		}
		return keys[i].old < keys[j].old
	})

	mapping := make([]int, n)
	perm := make([]*Template, n)
	for newK, kk := range keys {
		mapping[kk.old] = newK
		perm[newK] = d.Templates[kk.old]
	}
	d.Templates = perm
	return mapping
}

// Permute applies an old-to-new remap table to a parallel float slice
// (priors), keeping it in lock-step with a reorder.
func Permute(values []float64, mapping []int) []float64 {
	out := make([]float64, len(values))
	for old, v := range values {
		out[mapping[old]] = v
	}
	return out
}
