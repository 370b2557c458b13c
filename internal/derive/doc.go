// Package derive plans and executes derived-field recomputation.
//
// The planner answers "which partitions must be recomputed for this
// change" - deliberately one partition at a time, never walking
// foreign-key graphs, so recompute work stays bounded. The executor runs
// a pure transform over one ordered partition, rejecting out-of-order
// input instead of silently producing wrong deltas.
package derive
