// Package engine is the write-path façade: it validates a candidate
// record against the frozen schema registry and, when the record is
// accepted, plans and executes the derived-attribute recomputation the
// write implies.
//
// The engine never persists anything itself. A Write returns the
// accepted record plus the derived-value updates; the storage layer
// commits both under its single-writer discipline. Rejected writes
// carry the full violation report and imply no recomputation at all.
package engine
