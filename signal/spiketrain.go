package signal

import "sort"

// Spike is one recovered event: template k fired at Sample with the
// given amplitude (1 for binary detection).
type Spike struct {
	Sample   int
	Template int
	Amp      float64
}

// SpikeTrain is a sparse samples-by-templates matrix stored as a
// time-sorted event list. Template indices are dense in
// [0, NumTemplates).
type SpikeTrain struct {
	Spikes       []Spike
	NumTemplates int
}

// NewSpikeTrain wraps an event list, sorting it by sample time.
func NewSpikeTrain(spikes []Spike, numTemplates int) *SpikeTrain {
	st := &SpikeTrain{Spikes: spikes, NumTemplates: numTemplates}
	st.Sort()
	return st
}

// Sort orders events by sample time, breaking ties by template index so
// downstream sweeps are deterministic.
func (st *SpikeTrain) Sort() {
	sort.Slice(st.Spikes, func(i, j int) bool {
		a, b := st.Spikes[i], st.Spikes[j]
		if a.Sample != b.Sample {
			return a.Sample < b.Sample
		}
		return a.Template < b.Template
	})
}

// Counts returns the number of events per template.
func (st *SpikeTrain) Counts() []int {
	counts := make([]int, st.NumTemplates)
	for _, s := range st.Spikes {
		counts[s.Template]++
	}
	return counts
}

// Priors returns the empirical firing probability per template: the
// nonzero fraction of samples in that template's column.
func (st *SpikeTrain) Priors(numSamples int) []float64 {
	priors := make([]float64, st.NumTemplates)
	if numSamples <= 0 {
		return priors
	}
	for _, s := range st.Spikes {
		priors[s.Template] += 1
	}
	for k := range priors {
		priors[k] /= float64(numSamples)
	}
	return priors
}

// ForTemplate returns the sample times of template k, time-ordered.
func (st *SpikeTrain) ForTemplate(k int) []int {
	var out []int
	for _, s := range st.Spikes {
		if s.Template == k {
			out = append(out, s.Sample)
		}
	}
	return out
}

// Remap rewrites template indices through mapping and drops events whose
// mapping entry is negative. NumTemplates becomes newCount. Used to keep
// the spike train in lock-step with dictionary merges, splits, drops,
// and reorders.
func (st *SpikeTrain) Remap(mapping []int, newCount int) {
	kept := st.Spikes[:0]
	for _, s := range st.Spikes {
		nk := mapping[s.Template]
		if nk < 0 {
			continue
		}
		s.Template = nk
		kept = append(kept, s)
	}
	st.Spikes = kept
	st.NumTemplates = newCount
}

// Clone returns a deep copy.
func (st *SpikeTrain) Clone() *SpikeTrain {
	return &SpikeTrain{
		Spikes:       append([]Spike(nil), st.Spikes...),
		NumTemplates: st.NumTemplates,
	}
}
