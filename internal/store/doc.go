// Package store provides durable sinks for population snapshots.
//
// Three implementations of snapshot.Sink:
//   - Store: SQLite database keeping a history of snapshot rows
//   - FileSink: a single file replaced atomically on every write, chosen
//     by OpenBackend for a .json path
//   - MemorySink: in-process, for package tests
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - user_version: layout stamp; a newer stamp is refused by Open
//
// Row ids are UUIDv7, so ids sort by creation time. Content hashes are
// computed by the snapshot package (internal/ir/hash.go) and stored as-is;
// the sinks never re-encode content.
package store
