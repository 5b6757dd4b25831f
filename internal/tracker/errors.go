package tracker

import (
	"errors"
	"fmt"

	"github.com/roach88/indextrack/internal/record"
)

var (
	// ErrStore marks a failure reported by the underlying store.
	ErrStore = errors.New("change tracker store failure")

	// ErrShuttingDown is returned instead of ErrStore once shutdown has begun.
	// Callers treat it as an expected stop, not a failure.
	ErrShuttingDown = errors.New("change tracker shutting down")
)

// storeError wraps err so that both errors.Is(err, ErrStore) and matching on
// the underlying cause (record.ErrNotFound, driver errors) work.
func storeError(op string, key record.Key, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStore, op, key, err)
}

// IsShuttingDown reports whether err is an expected post-shutdown failure.
func IsShuttingDown(err error) bool {
	return errors.Is(err, ErrShuttingDown)
}
