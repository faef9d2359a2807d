// Package stores provides the durable order repository for fedbroker.
// It is backed by SQLite with WAL mode, embedded golang-migrate migrations,
// and an append-only audit trail of order state changes.
package stores
