// Package storage provides SQLite-backed persistence for client state.
//
// Two tables are kept:
//   - kv: opaque blobs keyed by name (session tokens, local guest cart)
//   - checkout_keys: the idempotency key of the outstanding checkout attempt,
//     keyed by scope (usually the server cart id)
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
//
// Writes to checkout_keys use ON CONFLICT DO NOTHING so that reserving a key
// twice for the same scope returns the key stored first.
package storage
