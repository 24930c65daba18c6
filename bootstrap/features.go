package bootstrap

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// features projects each snippet onto the leading numPC principal
// components per channel and concatenates the per-channel scores into
// one feature vector. Returns one row per snippet, numPC*channels wide.
func features(rec *signal.Recording, group Group, starts []int, window, numPC int) [][]float64 {
	nSpikes := len(starts)
	nCh := len(group.Channels)
	if nSpikes == 0 {
		return nil
	}
	if numPC > window {
		numPC = window
	}
	if numPC > nSpikes {
		numPC = nSpikes
	}

	out := make([][]float64, nSpikes)
	for i := range out {
		out[i] = make([]float64, nCh*numPC)
	}

	col := make([]float64, nSpikes)
	for c, ch := range group.Channels {
		// Snippet matrix for this channel, mean-centered per sample.
		x := mat.NewDense(nSpikes, window, nil)
		for i, s := range starts {
			x.SetRow(i, rec.Data[ch][s:s+window])
		}
		mean := make([]float64, window)
		for j := 0; j < window; j++ {
			mat.Col(col, j, x)
			var sum float64
			for _, v := range col {
				sum += v
			}
			mean[j] = sum / float64(nSpikes)
		}
		for i := 0; i < nSpikes; i++ {
			for j := 0; j < window; j++ {
				x.Set(i, j, x.At(i, j)-mean[j])
			}
		}

		var svd mat.SVD
		if !svd.Factorize(x, mat.SVDThin) {
			continue
		}
		var u mat.Dense
		svd.UTo(&u)
		vals := svd.Values(nil)

		// Scores = U * S, leading numPC columns.
		for i := 0; i < nSpikes; i++ {
			for p := 0; p < numPC && p < len(vals); p++ {
				out[i][c*numPC+p] = u.At(i, p) * vals[p]
			}
		}
	}
	return out
}

// channelEnergies sums squared feature coordinates per channel block of
// a feature-space mean trajectory, giving the per-channel energy used by
// the dedup peak rule. PCA scores preserve the captured snippet energy,
// so the block norm stands in for the waveform norm on that channel.
func channelEnergies(mean []float64, channels, numPC int) []float64 {
	out := make([]float64, channels)
	for c := 0; c < channels; c++ {
		var sum float64
		for p := 0; p < numPC; p++ {
			v := mean[c*numPC+p]
			sum += v * v
		}
		out[c] = sum
	}
	return out
}
