// Package checkpoint saves the progress of a command line batch so an
// interrupted run can be resumed.
//
// A checkpoint records the full username list of the batch and the results
// that are final: successful scrapes and profiles that are private, missing
// or empty. Resuming scrapes only the remaining positions and merges the
// new results back into one report covering the whole list.
//
// Checkpoint files are written atomically and carry a version number.
package checkpoint
