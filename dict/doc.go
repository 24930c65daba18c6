// Package dict maintains the waveform dictionary: per-template
// spatiotemporal shapes sampled at a small number of drift knots, stored
// as basis-space coefficients, together with the operations that evolve
// the template set during fitting (estimation, merging, pruning,
// splitting, spatial reordering).
//
// A template's waveform at drift position u in [0, 1] is the
// hat-function interpolation of its knot coefficients, reconstructed
// through the shared basis and masked by the template's pruning support.
// A spike at sample s covers samples [s, s+window).
package dict
