// Package storage is the durable key-value layer behind the coordinator and
// the campaign scheduler.
//
// Values are opaque byte slices (callers store JSON). A Set with several keys
// is applied atomically by every driver:
//   - "memory": process-local map (tests, offline CLI dry runs)
//   - "file":   single JSON snapshot, rewritten via tmp file + rename
//   - "sqlite": one row per key, one transaction per Set
package storage
