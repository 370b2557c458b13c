package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"

	"github.com/irmahq/irma/internal/schema"
)

// scriptPredicate evaluates a declared CUE expression against the
// candidate record and a set of prefetched related records.
//
// The expression sees two bindings:
//
//	self         the candidate record's attributes
//	rel.<name>   one prefetched record per declared use (null when the
//	             foreign key is absent or dangling)
//
// Prefetching is declared, not discovered: each use names the foreign-key
// attribute and the referenced entity, and the evaluator resolves it
// through the single-record lookup capability before evaluation. The
// script itself has no storage access.
//
// The body is compiled once, at evaluator construction, into a scope
// template; each evaluation unifies the template with the record's self
// and rel values. An evaluation failure (non-bool result, null access) is
// reported as a script-error violation, distinct from the expression
// returning false.
type scriptPredicate struct {
	attr     string
	uses     []schema.ScriptRef
	declared []string // every declared attribute, bound as null when absent

	cctx       *cue.Context
	tmpl       cue.Value // self, rel and the compiled body under result
	resultPath cue.Path
}

// newScriptPredicate parses and compiles the body. Unresolved references
// are schema bugs and fail here, never per record; evaluation errors that
// depend on the record (e.g. null arithmetic) stay runtime script-errors.
func newScriptPredicate(entity *schema.EntitySpec, attr string, spec schema.ConstraintSpec) (*scriptPredicate, error) {
	if _, err := parser.ParseExpr(entity.Name+"."+attr, spec.Script); err != nil {
		return nil, fmt.Errorf("script for %s.%s does not parse: %w", entity.Name, attr, err)
	}

	cctx := cuecontext.New()
	tmpl := cctx.CompileString("self: _\nrel: _\nresult: ("+spec.Script+")",
		cue.Filename(entity.Name+"."+attr))
	if err := tmpl.Err(); err != nil {
		return nil, fmt.Errorf("script for %s.%s does not compile: %w", entity.Name, attr, err)
	}

	declared := make([]string, 0, len(entity.Attributes))
	for _, a := range entity.Attributes {
		declared = append(declared, a.Name)
	}
	return &scriptPredicate{
		attr:       attr,
		uses:       spec.Uses,
		declared:   declared,
		cctx:       cctx,
		tmpl:       tmpl,
		resultPath: cue.ParsePath("result"),
	}, nil
}

func (p *scriptPredicate) Kind() Kind { return KindScript }

func (p *scriptPredicate) Eval(ctx context.Context, candidate, _ *schema.Record, look Lookup) (Outcome, []any, error) {
	rel := make(map[string]any, len(p.uses))
	for _, use := range p.uses {
		rel[use.Binding()] = nil

		fk := candidate.Get(use.Attr)
		if schema.IsNull(fk) {
			continue
		}
		id, ok := fk.(schema.String)
		if !ok {
			return OutcomeError, []any{fmt.Sprintf("foreign key %s is not an identifier", use.Attr)},
				fmt.Errorf("script use %s: foreign key holds %T", use.Attr, fk)
		}
		// Lookup failures surface as script errors: the script cannot be
		// decided without its declared inputs.
		ref, err := look.Get(ctx, use.Entity, string(id))
		if err != nil {
			return OutcomeError, []any{err.Error()}, fmt.Errorf("script lookup %s/%s: %w", use.Entity, id, err)
		}
		if ref != nil {
			rel[use.Binding()] = attrsToAny(ref)
		}
	}

	// Every declared attribute is bound, null when absent, so scripts can
	// null-guard instead of tripping on missing fields.
	self := attrsToAny(candidate)
	for _, name := range p.declared {
		if _, ok := self[name]; !ok {
			self[name] = nil
		}
	}

	// JSON is valid CUE, and encoding/json renders absent values as null,
	// which Encode does not.
	scopeJSON, err := json.Marshal(map[string]any{"self": self, "rel": rel})
	if err != nil {
		return OutcomeError, []any{err.Error()}, fmt.Errorf("encode script scope: %w", err)
	}
	scope := p.cctx.CompileString(string(scopeJSON))
	if err := scope.Err(); err != nil {
		return OutcomeError, []any{err.Error()}, fmt.Errorf("compile script scope: %w", err)
	}

	result := p.tmpl.Unify(scope).LookupPath(p.resultPath)
	if err := result.Err(); err != nil {
		return OutcomeError, []any{err.Error()}, fmt.Errorf("evaluate script: %w", err)
	}
	ok, err := result.Bool()
	if err != nil {
		return OutcomeError, []any{err.Error()}, fmt.Errorf("script result is not a boolean: %w", err)
	}
	if !ok {
		return OutcomeInvalid, []any{p.attr}, nil
	}
	return OutcomeValid, nil, nil
}

// attrsToAny converts record attributes (plus the identifier) into the
// plain-Go shape CUE's Encode understands.
func attrsToAny(rec *schema.Record) map[string]any {
	out := make(map[string]any, len(rec.Attrs)+1)
	out["id"] = rec.ID
	for k, v := range rec.Attrs {
		out[k] = schema.ToAny(v)
	}
	return out
}
