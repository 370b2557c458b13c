package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/rules"
	"github.com/irmahq/irma/internal/schema"
)

// Storage is what the engine needs from the record store: point lookups
// and uniqueness probes for validation, plus ordered partition reads for
// derivation. Implemented by store.Store (production) and in-memory
// fakes (tests).
type Storage interface {
	rules.Lookup

	// PartitionRows returns every stored record of the entity whose
	// partition-key attribute equals partition, sorted ascending by the
	// spec's sort keys.
	PartitionRows(ctx context.Context, entity string, spec schema.DerivedSpec, partition schema.Value) ([]*schema.Record, error)
}

// WriteResult is the outcome of one write.
//
// State is Rejected or Committed; the intermediate states never escape
// Write. A Rejected result carries the full violation report and no
// updates. A Committed result carries the accepted record (defaults
// applied) and the derived-value updates the storage layer must persist
// together with it.
type WriteResult struct {
	State   State
	Record  *schema.Record
	Report  rules.Report
	Updates []derive.Update
}

// Engine validates and derives. It holds no mutable state after
// construction and is safe for concurrent use; write serialization is
// the storage layer's job.
type Engine struct {
	reg     *schema.Registry
	eval    *rules.Evaluator
	storage Storage
	idgen   IDGenerator
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	log      *slog.Logger
	idgen    IDGenerator
	evalOpts []rules.Option
}

// WithIDGenerator replaces the default UUIDv7 record-ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) {
		c.idgen = g
	}
}

// WithLogger sets the engine's structured logger. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithLocale selects the locale for violation messages.
func WithLocale(tag string) Option {
	return func(c *config) {
		c.evalOpts = append(c.evalOpts, rules.WithLocale(tag))
	}
}

// New builds an Engine over a frozen registry. The registry must be
// frozen first: predicate compilation assumes entity specs no longer
// change underneath it.
func New(reg *schema.Registry, storage Storage, opts ...Option) (*Engine, error) {
	if !reg.Frozen() {
		return nil, fmt.Errorf("registry must be frozen before engine construction")
	}

	cfg := &config{log: slog.Default(), idgen: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(cfg)
	}

	eval, err := rules.NewEvaluator(reg, cfg.evalOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		reg:     reg,
		eval:    eval,
		storage: storage,
		idgen:   cfg.idgen,
		log:     cfg.log,
	}, nil
}

// Write runs one record through the full pipeline: defaults, constraint
// validation, derivation planning, recomputation.
//
// A record with violations is Rejected and causes no recomputation. An
// accepted record yields the updates for every touched partition; when
// the write moves the record between partitions, both the old and the
// new partition are recomputed. Failures after validation (a storage
// read, an ordering violation, a transform error) return a
// *DerivationError and nothing is committed.
func (e *Engine) Write(ctx context.Context, rec *schema.Record) (*WriteResult, error) {
	spec, ok := e.reg.Lookup(rec.EntityType)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", rec.EntityType)
	}

	candidate := rec.Clone()
	if candidate.ID == "" {
		// The ID is assigned before validation so uniqueness probes and
		// derived updates can reference the record.
		candidate.ID = e.idgen.Generate()
	}
	applyDefaults(spec, candidate)

	prior, err := e.storage.Get(ctx, candidate.EntityType, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("load prior %s/%s: %w", candidate.EntityType, candidate.ID, err)
	}

	report, err := e.eval.Validate(ctx, candidate.EntityType, candidate, prior, e.storage)
	if err != nil {
		return nil, err
	}
	if !report.Empty() {
		e.log.Info("write rejected",
			"entity", candidate.EntityType,
			"record", candidate.ID,
			"violations", len(report))
		return &WriteResult{State: StateRejected, Record: candidate, Report: report}, nil
	}

	updates, err := e.derive(ctx, spec, prior, candidate)
	if err != nil {
		return nil, err
	}

	e.log.Info("write committed",
		"entity", candidate.EntityType,
		"record", candidate.ID,
		"derived_updates", len(updates))
	return &WriteResult{State: StateCommitted, Record: candidate, Updates: updates}, nil
}

// derive recomputes every derived attribute the write touches, one
// partition at a time. Specs run in dependency order, and values computed
// earlier in the same write are folded into the rows of later specs, so a
// derived field chained on another derived field never sees stale
// upstream values.
func (e *Engine) derive(ctx context.Context, spec *schema.EntitySpec, prior, candidate *schema.Record) ([]derive.Update, error) {
	changed := derive.ChangedAttrs(prior, candidate)
	fresh := make(map[string]map[string]schema.Value) // record ID -> values from earlier specs

	var updates []derive.Update
	for _, ds := range derive.Order(spec.Derived) {
		if !derive.Touches(ds, changed) {
			continue
		}
		var specUpdates []derive.Update
		for _, part := range derive.Partitions(ds, prior, candidate) {
			rows, err := e.storage.PartitionRows(ctx, spec.Name, ds, part)
			if err != nil {
				return nil, &DerivationError{
					Entity: spec.Name, Attribute: ds.Target,
					Partition: schema.Key(part), Err: err,
				}
			}
			rows = mergeCandidate(ds, rows, candidate, part)
			rows = overlayFresh(rows, fresh)

			ups, err := derive.Recompute(spec.Name, ds, rows)
			if err != nil {
				return nil, &DerivationError{
					Entity: spec.Name, Attribute: ds.Target,
					Partition: schema.Key(part), Err: err,
				}
			}
			e.log.Debug("partition recomputed",
				"entity", spec.Name,
				"attribute", ds.Target,
				"partition", schema.Key(part),
				"rows", len(rows))
			specUpdates = append(specUpdates, ups...)
		}
		if len(specUpdates) > 0 {
			// Downstream specs depending on this target must recompute
			// against the values of this write, not the stored ones.
			changed[ds.Target] = true
			for _, u := range specUpdates {
				m := fresh[u.RecordID]
				if m == nil {
					m = make(map[string]schema.Value)
					fresh[u.RecordID] = m
				}
				m[u.Attribute] = u.Value
			}
		}
		updates = append(updates, specUpdates...)
	}
	return updates, nil
}

// overlayFresh patches derived values computed earlier in the same write
// into the partition rows. Affected rows are cloned; stored rows and the
// candidate stay untouched.
func overlayFresh(rows []*schema.Record, fresh map[string]map[string]schema.Value) []*schema.Record {
	if len(fresh) == 0 {
		return rows
	}
	out := make([]*schema.Record, len(rows))
	for i, r := range rows {
		if m, ok := fresh[r.ID]; ok {
			c := r.Clone()
			for k, v := range m {
				c.Attrs[k] = v
			}
			out[i] = c
		} else {
			out[i] = r
		}
	}
	return out
}

// mergeCandidate substitutes the not-yet-persisted candidate into the
// stored partition rows. The stored version of the record is always
// removed; the candidate joins only the partition it now belongs to, so
// the old partition of a moved record is recomputed without it.
func mergeCandidate(ds schema.DerivedSpec, rows []*schema.Record, candidate *schema.Record, part schema.Value) []*schema.Record {
	merged := make([]*schema.Record, 0, len(rows)+1)
	for _, r := range rows {
		if r.ID != candidate.ID {
			merged = append(merged, r)
		}
	}
	if schema.Equal(candidate.Get(ds.PartitionKey), part) {
		merged = append(merged, candidate)
		derive.SortRows(ds, merged)
	}
	return merged
}

// applyDefaults fills declared defaults for attributes the candidate
// does not carry at all. Explicit nulls stay null.
func applyDefaults(spec *schema.EntitySpec, rec *schema.Record) {
	for _, a := range spec.Attributes {
		if a.Default == nil {
			continue
		}
		if _, ok := rec.Attrs[a.Name]; !ok {
			rec.Attrs[a.Name] = a.Default
		}
	}
}
