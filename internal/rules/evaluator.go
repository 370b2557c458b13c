package rules

import (
	"context"
	"fmt"

	"golang.org/x/text/language"

	"github.com/irmahq/irma/internal/schema"
)

// Evaluator validates candidate records against their entity's declared
// constraints. Predicates are compiled once from the frozen registry; the
// evaluator is then safe for concurrent use.
//
// Validation never mutates its input and never short-circuits: every
// violation for a record is collected so a caller sees the complete list
// in one pass.
type Evaluator struct {
	reg      *schema.Registry
	locale   language.Tag
	compiled map[string]*compiledEntity
}

// compiledEntity holds the predicate chain for one entity type, in
// deterministic order: per attribute the required check then the declared
// constraints, and the uniqueness scopes last.
type compiledEntity struct {
	spec   *schema.EntitySpec
	checks []check
}

// check binds a predicate to the attribute its violations are reported
// against.
type check struct {
	attr string
	pred Predicate
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLocale selects the violation message locale. Unsupported tags fall
// back to English.
func WithLocale(tag string) Option {
	return func(e *Evaluator) {
		e.locale = MatchLocale(tag)
	}
}

// NewEvaluator compiles predicates for every entity in the registry.
// Compilation failures (e.g. a script body that does not parse) are schema
// bugs and fail construction; they never surface per-record.
func NewEvaluator(reg *schema.Registry, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		reg:      reg,
		locale:   language.English,
		compiled: make(map[string]*compiledEntity),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, name := range reg.Entities() {
		spec, _ := reg.Lookup(name)
		ce, err := compileEntity(spec)
		if err != nil {
			return nil, fmt.Errorf("compile constraints for %s: %w", name, err)
		}
		e.compiled[name] = ce
	}
	return e, nil
}

// Locale returns the message locale the evaluator renders.
func (e *Evaluator) Locale() language.Tag {
	return e.locale
}

// Validate checks a candidate record against its entity's constraints.
// prior may be nil (create); for updates it is the stored version of the
// record, letting the evaluator skip uniqueness probes for unchanged
// tuples.
//
// The returned error reports infrastructure failures only (unknown entity,
// failed uniqueness probe). Script evaluation failures are violations of
// kind script-error, not errors: validation completes and the caller still
// sees every other violation.
func (e *Evaluator) Validate(ctx context.Context, entity string, candidate, prior *schema.Record, look Lookup) (Report, error) {
	ce, ok := e.compiled[entity]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}

	var report Report
	for _, c := range ce.checks {
		outcome, args, err := c.pred.Eval(ctx, candidate, prior, look)
		switch outcome {
		case OutcomeValid:

		case OutcomeInvalid:
			report = append(report, Violation{
				Attribute: c.attr,
				Kind:      c.pred.Kind(),
				Message:   message(e.locale, c.pred.Kind(), args...),
				Locale:    e.locale.String(),
			})

		case OutcomeError:
			if c.pred.Kind() == KindScript {
				// A thrown script is a single violation, distinct from a
				// script returning false. Logged distinctly upstream since
				// it usually means an authoring bug.
				report = append(report, Violation{
					Attribute: c.attr,
					Kind:      KindScriptError,
					Message:   message(e.locale, KindScriptError, args...),
					Locale:    e.locale.String(),
				})
				continue
			}
			return nil, fmt.Errorf("validate %s.%s: %w", entity, c.attr, err)
		}
	}
	return report, nil
}

// compileEntity builds the ordered predicate chain for one entity spec.
func compileEntity(spec *schema.EntitySpec) (*compiledEntity, error) {
	ce := &compiledEntity{spec: spec}

	for _, a := range spec.Attributes {
		if !a.Nullable {
			ce.checks = append(ce.checks, check{attr: a.Name, pred: &requiredPredicate{attr: a.Name}})
		}
		for _, c := range a.Constraints {
			switch c.Kind {
			case schema.ConstraintRange:
				ce.checks = append(ce.checks, check{attr: a.Name,
					pred: &rangePredicate{attr: a.Name, min: c.Min, max: c.Max}})

			case schema.ConstraintPattern:
				p, err := newPatternPredicate(a.Name, c.Pattern)
				if err != nil {
					return nil, err
				}
				ce.checks = append(ce.checks, check{attr: a.Name, pred: p})

			case schema.ConstraintEnum:
				ce.checks = append(ce.checks, check{attr: a.Name,
					pred: newEnumPredicate(a.Name, c.Enum)})

			case schema.ConstraintTimeRange:
				ce.checks = append(ce.checks, check{attr: a.Name,
					pred: &timeRangePredicate{attr: a.Name, start: c.StartAttr, end: c.EndAttr}})

			case schema.ConstraintScript:
				p, err := newScriptPredicate(spec, a.Name, c)
				if err != nil {
					return nil, err
				}
				ce.checks = append(ce.checks, check{attr: a.Name, pred: p})

			case schema.ConstraintUnique:
				// Handled below through the resolved scopes so composite
				// members are validated jointly, never independently.

			default:
				return nil, fmt.Errorf("unknown constraint kind %q on %s", c.Kind, a.Name)
			}
		}
	}

	for _, scope := range spec.UniqueScopes() {
		ce.checks = append(ce.checks, check{attr: scope.Attrs[0],
			pred: &uniquePredicate{entity: spec.Name, scope: scope}})
	}

	return ce, nil
}
