// Package schema defines the value model and the frozen schema registry
// for the IRMA rule engine.
//
// An EntitySpec describes one entity type: the ordered attribute
// definitions (semantic type, constraints, default, nullability) and the
// derived-field specifications whose values are recomputed from sibling
// rows under a partition and ordering.
//
// Specs are loaded once at startup, validated as a whole, and frozen.
// After Registry.Freeze the registry is safe for concurrent reads and
// immutable for the process lifetime; a schema reload builds a fresh
// registry and swaps it atomically.
package schema
