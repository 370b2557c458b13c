package derive

import (
	"fmt"
	"sort"

	"github.com/irmahq/irma/internal/schema"
)

// Update is one recomputed derived value to persist.
type Update struct {
	RecordID  string       `json:"record_id"`
	Attribute string       `json:"attribute"`
	Value     schema.Value `json:"-"`
}

// Recompute runs the spec's transform over one ordered partition and
// returns the new value per row, in partition order.
//
// rows must already be sorted ascending by the spec's sort keys; the
// executor verifies monotonicity and fails with OrderingError instead of
// producing silently wrong results. Recomputation is deterministic and
// idempotent: identical ordered input yields identical output, and
// recomputing an already-correct partition is a no-op in effect.
func Recompute(entity string, spec schema.DerivedSpec, rows []*schema.Record) ([]Update, error) {
	if err := checkOrdering(entity, spec, rows); err != nil {
		return nil, err
	}

	fn, ok := lookupTransform(spec.Transform)
	if !ok {
		// The registry validates transform names, so this indicates a
		// registry/executor drift bug, not bad input.
		return nil, fmt.Errorf("transform %q not registered", spec.Transform)
	}

	values, err := fn(spec, rows)
	if err != nil {
		return nil, fmt.Errorf("transform %s for %s.%s: %w", spec.Transform, entity, spec.Target, err)
	}
	if len(values) != len(rows) {
		return nil, fmt.Errorf("transform %s returned %d values for %d rows", spec.Transform, len(values), len(rows))
	}

	updates := make([]Update, len(rows))
	for i, row := range rows {
		updates[i] = Update{RecordID: row.ID, Attribute: spec.Target, Value: values[i]}
	}
	return updates, nil
}

// checkOrdering verifies rows are non-decreasing under the sort keys.
// Cheap single pass; comparison failures (mixed value types under one
// key) are ordering violations too.
func checkOrdering(entity string, spec schema.DerivedSpec, rows []*schema.Record) error {
	for i := 1; i < len(rows); i++ {
		c, err := compareSortKeys(spec.SortKeys, rows[i-1], rows[i])
		if err != nil || c > 0 {
			return &OrderingError{Entity: entity, Attribute: spec.Target, Position: i}
		}
	}
	return nil
}

// compareSortKeys orders two rows lexicographically by the sort keys.
func compareSortKeys(keys []string, a, b *schema.Record) (int, error) {
	for _, k := range keys {
		c, err := schema.Compare(a.Get(k), b.Get(k))
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// SortRows sorts partition rows ascending by the spec's sort keys,
// breaking ties by record ID for determinism. Used by storage layers to
// satisfy the executor's ordering contract.
func SortRows(spec schema.DerivedSpec, rows []*schema.Record) {
	sort.SliceStable(rows, func(i, j int) bool {
		c, err := compareSortKeys(spec.SortKeys, rows[i], rows[j])
		if err == nil && c != 0 {
			return c < 0
		}
		return rows[i].ID < rows[j].ID
	})
}
