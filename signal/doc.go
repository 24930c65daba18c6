// Package signal provides the shared data model for spike sorting:
// multi-channel recordings, sparse spike trains, and the fixed
// low-dimensional waveform basis used to project snippet windows.
//
// Recordings are stored channel-major so per-channel operations
// (filtering, correlation, noise estimation) work on contiguous slices.
package signal
