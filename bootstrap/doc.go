// Package bootstrap seeds the fitting loop with an initial spike train.
//
// The signal is scanned in overlapping channel groups (a window of a
// fixed number of channels sliding by one along the configured channel
// order). Each group independently detects threshold crossings, extracts
// snippets, projects them onto leading principal components per channel,
// and fits a drift-tolerant heavy-tailed mixture over the features.
// Group results are then deduplicated: a cluster survives only if its
// energy peaks on its group's center channel (edges excepted), and
// near-simultaneous detections across clusters are resolved by a single
// deterministic time-ordered sweep.
package bootstrap
