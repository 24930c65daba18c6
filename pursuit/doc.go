// Package pursuit recovers a sparse spike train from a whitened
// recording by greedy matched-filter pursuit against the waveform
// dictionary.
//
// Each template's matched-filter correlation with the residual is
// computed with FFT cross-correlation and kept incrementally up to date
// as accepted spikes are subtracted. A candidate is accepted when its
// correlation clears a prior-dependent threshold and respects the
// refractory exclusion against previously accepted spikes of spatially
// overlapping templates. The same engine runs in memory during the fit
// loop and block by block, with per-block drift-interpolated dictionary
// snapshots, during the final full-dataset pass.
package pursuit
