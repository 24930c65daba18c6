package bootstrap

import (
	"github.com/cwbudde/algo-spikesort/signal"
)

// detect finds negative threshold crossings on the group's channels and
// returns aligned snippet window starts. A crossing on any group channel
// opens a candidate; the candidate is aligned so the deepest trough sits
// at the window center, and a dead time of one window suppresses
// re-triggering on the same event.
func detect(rec *signal.Recording, group Group, thresh float64, window int) []int {
	n := rec.Samples()
	if n < window {
		return nil
	}

	sigma := make([]float64, len(group.Channels))
	for i, ch := range group.Channels {
		sigma[i] = signal.MAD(rec.Data[ch])
	}

	half := window / 2
	var starts []int
	s := half
	for s < n-half {
		crossed := false
		for i, ch := range group.Channels {
			if sigma[i] > 0 && rec.Data[ch][s] < -thresh*sigma[i] {
				crossed = true
				break
			}
		}
		if !crossed {
			s++
			continue
		}

		// Align to the deepest trough (in noise units) within one
		// window of the crossing.
		troughAt, troughDepth := s, 0.0
		end := s + window
		if end > n {
			end = n
		}
		for t := s; t < end; t++ {
			for i, ch := range group.Channels {
				if sigma[i] <= 0 {
					continue
				}
				depth := -rec.Data[ch][t] / sigma[i]
				if depth > troughDepth {
					troughAt, troughDepth = t, depth
				}
			}
		}

		start := troughAt - half
		if start < 0 {
			start = 0
		}
		if start+window > n {
			start = n - window
		}
		starts = append(starts, start)
		s = troughAt + window // dead time
	}
	return starts
}
