// Package storage persists scheduler run history.
//
// Drivers:
//   - "file": JSON Lines, no dependencies
//   - "sqlite": modernc.org/sqlite (pure Go), WAL mode, bounded history
//
// Storage is an audit trail of what ran; queued tasks themselves are never
// persisted and do not survive a restart.
package storage
