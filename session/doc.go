// Package session owns one spike-sorting run end to end: configuration,
// the working directory and persistent signal store, the bootstrap and
// whitening setup, and the alternating fit loop that refines the
// template dictionary and spike train until convergence.
//
// A session has two states. It is constructed "configured" and becomes
// "ready" once Ingest has populated the signal store; every fitting
// entry point requires ready and fails with ErrNotInitialized before
// that. The session owns a uniquely named working directory and removes
// it on Close unless the Debug option retains it for inspection.
package session
