// Package store provides the SQLite-backed local record store.
//
// The store is the device's source of truth: one append-only chain of
// Record[Encrypted] per (host, tag). Materialized views are derived from it
// and can always be rebuilt.
//
// # Contract
//
//   - Push accepts only idx == last+1 with parent == last.id
//     (record.ErrNonContiguousIdx, record.ErrChainMismatch).
//   - Pushing a record already stored at its idx is a no-op success, so a
//     retried push is safe.
//   - A rejected push never touches any other stream.
//   - Engine failures are returned wrapped in record.ErrStorageUnavailable
//     and are not retried here.
//
// # Ordering
//
//   - Range: idx ASC within one stream.
//   - AllTagged: timestamp ASC, host ASC, idx ASC across hosts.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: one writer, pushes serialized per stream
package store
