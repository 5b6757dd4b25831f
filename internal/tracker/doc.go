// Package tracker decides, per observation of a source record, whether the
// record is new, unchanged, or changed, and keeps the persisted history in
// step.
//
// Observe follows a small state machine over the stored row:
//
//	no row                       -> CREATE  (first = last = now)
//	active, |stored - declared|
//	        <= tolerance         -> NOOP    (nothing written)
//	tombstone, or beyond
//	        tolerance            -> UPDATE  (last = now, revive if needed)
//
// The read and the write run inside one store-level critical section
// (Store.Modify), so concurrent observers of one key cannot lose an update or
// create a second row.
//
// A Tracker remembers the last key it resolved. Repeating an observation for
// that key with the same declared instant returns the cached result without
// touching the store. Because of that cache, a Tracker must not be shared
// between goroutines; use one per batch run.
//
// The tracker borrows its store and never closes it. Once the shutdown signal
// reports that teardown has begun, store failures are logged at debug level
// and reported as ErrShuttingDown instead of ErrStore.
package tracker
