// Package store persists the resampled signal as a chunked array in a
// SQLite file, chunked along the processing-block boundary, together
// with the per-artifact-block contamination flags.
//
// Writes are resumable and idempotent: every block commits in one
// transaction together with a monotonic completion marker, so a
// partially written block is never marked complete and a restart
// resumes from the marker. A store whose marker holds the completion
// sentinel is treated as valid input and never reprocessed.
package store
