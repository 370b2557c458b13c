// Package rules implements the constraint evaluator: given a candidate
// record and a read-only lookup capability, it decides validity and
// produces the complete, ordered list of violations.
//
// Per-attribute checks are independent and never short-circuit. Built-in
// constraint kinds (required, range, pattern, enum, unique, time-range)
// are typed predicate variants; scripted cross-field rules are CUE
// expressions evaluated against the candidate record and declared,
// prefetched related records. Violation messages are localized (en/de).
package rules
