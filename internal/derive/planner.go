package derive

import (
	"github.com/irmahq/irma/internal/schema"
)

// Partitions returns the partition keys that must be recomputed for a
// change to one record. old is nil on create; new is nil on delete.
//
// The changed record's own partition is the minimal recompute set. When
// the change moves the record between partitions (e.g. a reading
// reassigned to a different meter), both the old and the new partition
// are returned, old first.
//
// The planner reasons about one partition at a time. If the change
// happened on a *referenced* entity (a dependsOn foreign key whose target
// row changed), the caller must invoke planning for each dependent record
// explicitly - the planner never walks foreign-key graphs, keeping
// transitive recompute bounded and under caller control.
func Partitions(spec schema.DerivedSpec, old, new *schema.Record) []schema.Value {
	var out []schema.Value

	var oldKey, newKey schema.Value
	if old != nil {
		oldKey = old.Get(spec.PartitionKey)
	}
	if new != nil {
		newKey = new.Get(spec.PartitionKey)
	}

	switch {
	case old == nil && new == nil:
		return nil
	case old == nil:
		out = append(out, newKey)
	case new == nil:
		out = append(out, oldKey)
	case schema.Equal(oldKey, newKey):
		out = append(out, newKey)
	default:
		out = append(out, oldKey, newKey)
	}
	return out
}

// Order arranges derived specs so every spec comes after the derived
// fields it depends on. A derived field may use another derived field's
// target as input; recomputing in declaration order would feed it the
// stored (stale) upstream values. Declaration order is kept among
// independent specs. The registry rejects dependency cycles, so the
// traversal always terminates.
func Order(specs []schema.DerivedSpec) []schema.DerivedSpec {
	byTarget := make(map[string]int, len(specs))
	for i, s := range specs {
		byTarget[s.Target] = i
	}

	out := make([]schema.DerivedSpec, 0, len(specs))
	placed := make(map[string]bool, len(specs))
	var place func(i int)
	place = func(i int) {
		s := specs[i]
		if placed[s.Target] {
			return
		}
		placed[s.Target] = true
		for _, dep := range s.DependsOn {
			if j, ok := byTarget[dep]; ok {
				place(j)
			}
		}
		out = append(out, s)
	}
	for i := range specs {
		place(i)
	}
	return out
}

// Touches reports whether a derived spec must be recomputed given the set
// of changed attribute names.
func Touches(spec schema.DerivedSpec, changed map[string]bool) bool {
	for _, dep := range spec.DependsOn {
		if changed[dep] {
			return true
		}
	}
	// A partition or ordering change reorders rows even when no declared
	// dependency changed value.
	if changed[spec.PartitionKey] {
		return true
	}
	for _, k := range spec.SortKeys {
		if changed[k] {
			return true
		}
	}
	return false
}

// ChangedAttrs diffs two records into the set of attribute names whose
// values differ. old may be nil (create): every attribute of new counts.
func ChangedAttrs(old, new *schema.Record) map[string]bool {
	changed := make(map[string]bool)
	if new == nil {
		if old != nil {
			for k := range old.Attrs {
				changed[k] = true
			}
		}
		return changed
	}
	for k, v := range new.Attrs {
		if old == nil || !schema.Equal(old.Get(k), v) {
			changed[k] = true
		}
	}
	if old != nil {
		for k := range old.Attrs {
			if _, ok := new.Attrs[k]; !ok {
				changed[k] = true
			}
		}
	}
	return changed
}
