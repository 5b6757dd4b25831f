// Package record defines the tracked-record types shared by the store and the
// tracker.
//
// This package contains type definitions and small helpers only. Every other
// internal package imports record; record imports nothing internal.
//
// Key design constraints:
//   - All instants are UTC
//   - A nil timestamp pointer means NULL in the store
//   - Keys are normalized (trimmed, Unicode NFC) before they reach a store
package record
