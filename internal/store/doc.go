// Package store persists records in SQLite and implements the storage
// surface the engine validates and derives against: point lookups,
// uniqueness probes, and ordered partition reads.
//
// The store is the single writer. Commit serializes all mutations under
// one mutex so at most one write (record plus its derived updates) is in
// flight at a time; WAL mode keeps reads concurrent with that writer.
package store
