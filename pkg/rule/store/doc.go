// Package store holds the live rule generation and its history.
//
// The live generation is an immutable value behind an atomic pointer:
// Current is lock-free and callable from any number of concurrent readers,
// Publish linearizably swaps the pointer so a reader mid-evaluation sees
// either the old or the new generation in full, never a mix. Only verified
// candidates whose base generation still matches the live generation are
// accepted; everything else fails without touching the live set.
//
// Published generations are durably persisted to SQLite so the live
// generation survives a process restart.
package store
