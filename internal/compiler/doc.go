// Package compiler parses CUE entity definitions into schema specs.
//
// Entities are declared under an "entity" struct; each carries its
// attributes (with inline constraint options), an optional entity-level
// constraints block (composite unique keys, time ranges, script checks)
// and an optional derived block. Errors carry CUE source positions.
package compiler
