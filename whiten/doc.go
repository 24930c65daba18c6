// Package whiten estimates a noise-whitening transform from the
// spike-free residual of a recording and applies it in place.
//
// The transform has two stages: a short symmetric FIR built from the
// inverse square root of the pooled temporal autocorrelation, followed
// by a spatial decorrelation across channels (symmetric inverse square
// root of the channel covariance). After both stages the background
// noise is approximately unit-variance and uncorrelated across channels
// and short lags. The transform is estimated once, before the
// alternating fit loop, and never recomputed.
package whiten
