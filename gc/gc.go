// Package gc provides the garbage collected backends the merkle store
// persists entries through. Two interchangeable strategies are supported:
//
//   - CycledStore retains the last N cycles by reference accounting alone.
//     It is cheap but only keeps entries alive that were explicitly
//     re-touched via MarkReused.
//   - MarkSweepStore batches per commit reachability sets into cycles and,
//     when enough cycles have accumulated, runs a mark phase over the commit
//     DAG before sweeping anything.
//
// Both implement merkle.Backend over a raw kvstore.Store.
package gc

import "errors"

var (
	// ErrGCAborted indicates a collection pass was abandoned before the
	// sweep. An incomplete reachability set must never be swept against, so
	// any fault during the mark phase aborts the entire pass and nothing
	// is deleted.
	ErrGCAborted = errors.New("garbage collection pass aborted")
)
