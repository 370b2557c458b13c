package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/irmahq/irma/internal/schema"
)

// Outcome is the three-valued result of a predicate evaluation.
type Outcome int

const (
	// OutcomeValid means the constraint holds.
	OutcomeValid Outcome = iota
	// OutcomeInvalid means the constraint is violated by the input.
	OutcomeInvalid
	// OutcomeError means the predicate could not be evaluated. For script
	// predicates this becomes a script-error violation; for everything
	// else it is an infrastructure failure surfaced to the caller.
	OutcomeError
)

// Predicate decides one constraint against a candidate record. Built-in
// constraint kinds are typed variants; the scripted kind is a sandboxed
// expression with an explicit single-record lookup capability, never
// arbitrary storage access.
//
// Eval must be side-effect-free: it may read through look but never
// mutates the record or storage, so validation is safe to run
// speculatively (e.g. for live previews).
type Predicate interface {
	// Kind is the violation kind this predicate reports.
	Kind() Kind

	// Eval returns the outcome plus the message-template arguments for a
	// violation. err is only set alongside OutcomeError.
	Eval(ctx context.Context, candidate, prior *schema.Record, look Lookup) (Outcome, []any, error)
}

// requiredPredicate rejects absent values on non-nullable attributes.
type requiredPredicate struct {
	attr string
}

func (p *requiredPredicate) Kind() Kind { return KindRequired }

func (p *requiredPredicate) Eval(_ context.Context, candidate, _ *schema.Record, _ Lookup) (Outcome, []any, error) {
	if schema.IsNull(candidate.Get(p.attr)) {
		return OutcomeInvalid, nil, nil
	}
	return OutcomeValid, nil, nil
}

// rangePredicate bounds numeric values. Absent values pass; nullability is
// checked separately by requiredPredicate.
type rangePredicate struct {
	attr     string
	min, max *float64
}

func (p *rangePredicate) Kind() Kind { return KindRange }

func (p *rangePredicate) Eval(_ context.Context, candidate, _ *schema.Record, _ Lookup) (Outcome, []any, error) {
	v := candidate.Get(p.attr)
	if schema.IsNull(v) {
		return OutcomeValid, nil, nil
	}
	n, ok := schema.Numeric(v)
	if !ok {
		return OutcomeError, nil, fmt.Errorf("range constraint on non-numeric value %T", v)
	}
	if (p.min != nil && n < *p.min) || (p.max != nil && n > *p.max) {
		// Bounds are rendered at message time so their labels localize
		// with the rest of the template.
		return OutcomeInvalid, []any{schema.Key(v), rangeBounds{min: p.min, max: p.max}}, nil
	}
	return OutcomeValid, nil, nil
}

// patternPredicate requires a full regular-expression match.
type patternPredicate struct {
	attr    string
	source  string
	pattern *regexp.Regexp // compiled with ^(?:...)$ anchoring
}

func newPatternPredicate(attr, source string) (*patternPredicate, error) {
	re, err := regexp.Compile("^(?:" + source + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern for %s: %w", attr, err)
	}
	return &patternPredicate{attr: attr, source: source, pattern: re}, nil
}

func (p *patternPredicate) Kind() Kind { return KindPattern }

func (p *patternPredicate) Eval(_ context.Context, candidate, _ *schema.Record, _ Lookup) (Outcome, []any, error) {
	v := candidate.Get(p.attr)
	if schema.IsNull(v) {
		return OutcomeValid, nil, nil
	}
	s, ok := v.(schema.String)
	if !ok {
		return OutcomeError, nil, fmt.Errorf("pattern constraint on non-text value %T", v)
	}
	if !p.pattern.MatchString(string(s)) {
		// The failure message includes the offending value.
		return OutcomeInvalid, []any{string(s), p.source}, nil
	}
	return OutcomeValid, nil, nil
}

// enumPredicate requires case-sensitive membership in a fixed set.
type enumPredicate struct {
	attr    string
	allowed []string
	members map[string]bool
}

func newEnumPredicate(attr string, allowed []string) *enumPredicate {
	members := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		members[a] = true
	}
	return &enumPredicate{attr: attr, allowed: allowed, members: members}
}

func (p *enumPredicate) Kind() Kind { return KindEnum }

func (p *enumPredicate) Eval(_ context.Context, candidate, _ *schema.Record, _ Lookup) (Outcome, []any, error) {
	v := candidate.Get(p.attr)
	if schema.IsNull(v) {
		return OutcomeValid, nil, nil
	}
	s, ok := v.(schema.String)
	if !ok {
		return OutcomeError, nil, fmt.Errorf("enum constraint on non-text value %T", v)
	}
	if !p.members[string(s)] {
		return OutcomeInvalid, []any{string(s), "[" + strings.Join(p.allowed, ", ") + "]"}, nil
	}
	return OutcomeValid, nil, nil
}

// timeRangePredicate fails when both start and end are present and
// start > end.
type timeRangePredicate struct {
	attr       string
	start, end string
}

func (p *timeRangePredicate) Kind() Kind { return KindTimeRange }

func (p *timeRangePredicate) Eval(_ context.Context, candidate, _ *schema.Record, _ Lookup) (Outcome, []any, error) {
	start := candidate.Get(p.start)
	end := candidate.Get(p.end)
	if schema.IsNull(start) || schema.IsNull(end) {
		return OutcomeValid, nil, nil
	}
	c, err := schema.Compare(start, end)
	if err != nil {
		return OutcomeError, nil, fmt.Errorf("time-range %s/%s: %w", p.start, p.end, err)
	}
	if c > 0 {
		return OutcomeInvalid, []any{schema.Key(start), schema.Key(end)}, nil
	}
	return OutcomeValid, nil, nil
}

// uniquePredicate issues a storage-side existence probe for a scoped value
// tuple. The evaluator never scans storage itself; it interprets the
// boolean result of the probe, keeping the engine storage-agnostic.
type uniquePredicate struct {
	entity string
	scope  schema.UniqueScope
}

func (p *uniquePredicate) Kind() Kind { return KindUnique }

func (p *uniquePredicate) Eval(ctx context.Context, candidate, prior *schema.Record, look Lookup) (Outcome, []any, error) {
	values := make([]schema.Value, len(p.scope.Attrs))
	allNull := true
	for i, attr := range p.scope.Attrs {
		values[i] = candidate.Get(attr)
		if !schema.IsNull(values[i]) {
			allNull = false
		}
	}
	// A fully absent tuple carries no identity to collide on.
	if allNull {
		return OutcomeValid, nil, nil
	}

	// Unchanged tuple on an update cannot newly collide.
	if prior != nil && prior.ID == candidate.ID && p.tupleUnchanged(candidate, prior) {
		return OutcomeValid, nil, nil
	}

	exists, err := look.ExistsOther(ctx, p.entity, p.scope.Attrs, values, candidate.ID)
	if err != nil {
		return OutcomeError, nil, fmt.Errorf("uniqueness probe for %s(%s): %w",
			p.entity, strings.Join(p.scope.Attrs, ","), err)
	}
	if exists {
		return OutcomeInvalid, []any{renderTuple(p.scope.Attrs, values)}, nil
	}
	return OutcomeValid, nil, nil
}

func (p *uniquePredicate) tupleUnchanged(candidate, prior *schema.Record) bool {
	for _, attr := range p.scope.Attrs {
		if !schema.Equal(candidate.Get(attr), prior.Get(attr)) {
			return false
		}
	}
	return true
}

func renderTuple(attrs []string, values []schema.Value) string {
	parts := make([]string, len(attrs))
	for i := range attrs {
		parts[i] = attrs[i] + "=" + schema.Key(values[i])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
