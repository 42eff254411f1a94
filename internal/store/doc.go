// Package store provides persistence for mcph-gateway.
//
// # Overview
//
// The Store interface covers four concerns backed by a single SQLite
// database:
//
//   - API keys: long-lived bearer credentials, stored as SHA-256 hashes
//     with scopes, active flag, expiry, and a cooldown-guarded
//     last-used timestamp.
//   - OAuth clients: durable registration records. Short-lived
//     authorization codes deliberately do NOT live here; they are held
//     in memory by the oauth package and lost on restart.
//   - Crates: artifact metadata (ownership, content type, download
//     counters, guest-upload expiry). Bytes live in the blob store.
//   - Tool usage: per-caller invocation counters, incremented by the
//     registry's usage wrapper and read by operators for quotas.
//
// # Concurrency
//
// Counter updates (downloads, tool usage) and the last-used cooldown
// guard are single SQL statements, so concurrent callers never lose
// increments or amplify writes.
//
// # Implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no CGO) with WAL mode.
// The schema is created automatically on first open. Use path
// ":memory:" for tests.
package store
