package derive

import (
	"fmt"
	"sort"
	"sync"

	"github.com/irmahq/irma/internal/schema"
)

// Transform computes derived values for one ordered partition. It
// receives the full partition sorted by the spec's sort keys and returns
// one value per row, in order.
//
// Transforms must be pure: a function of the ordered rows only, with no
// global side effects and no cross-partition reads. For any position they
// may reference strictly-earlier rows, never later ones.
type Transform func(spec schema.DerivedSpec, rows []*schema.Record) ([]schema.Value, error)

var (
	transformMu sync.RWMutex
	transforms  = map[string]Transform{
		"delta":         deltaTransform,
		"running_total": runningTotalTransform,
	}
)

// RegisterTransform installs a named transform. Registration happens at
// process start, before schemas load; later calls replace the previous
// entry.
func RegisterTransform(name string, fn Transform) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[name] = fn
}

// TransformNames returns the registered transform names, sorted. The
// schema registry uses this list to validate derived specs.
func TransformNames() []string {
	transformMu.RLock()
	defer transformMu.RUnlock()
	names := make([]string, 0, len(transforms))
	for n := range transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupTransform(name string) (Transform, bool) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}

// deltaTransform yields the difference between each row's source value
// and the previous row's. The first row of a partition has no previous
// row and yields null; a missing current or prior value means "no delta",
// never an error.
func deltaTransform(spec schema.DerivedSpec, rows []*schema.Record) ([]schema.Value, error) {
	out := make([]schema.Value, len(rows))
	for i, row := range rows {
		if i == 0 {
			out[i] = schema.Null{}
			continue
		}
		cur, curOK := numericAt(row, spec.Source)
		prev, prevOK := numericAt(rows[i-1], spec.Source)
		if !curOK || !prevOK {
			out[i] = schema.Null{}
			continue
		}
		out[i] = numericResult(row, rows[i-1], spec.Source, cur-prev)
	}
	return out, nil
}

// runningTotalTransform yields the cumulative sum of the source value up
// to and including each row. Missing values contribute nothing.
func runningTotalTransform(spec schema.DerivedSpec, rows []*schema.Record) ([]schema.Value, error) {
	out := make([]schema.Value, len(rows))
	total := 0.0
	allInt := true
	for i, row := range rows {
		v := row.Get(spec.Source)
		if !schema.IsNull(v) {
			n, ok := schema.Numeric(v)
			if !ok {
				return nil, fmt.Errorf("running_total over non-numeric %s at row %d", spec.Source, i)
			}
			if _, isInt := v.(schema.Int); !isInt {
				allInt = false
			}
			total += n
		}
		if allInt {
			out[i] = schema.Int(int64(total))
		} else {
			out[i] = schema.Float(total)
		}
	}
	return out, nil
}

// numericAt reads a numeric source value from a row.
func numericAt(row *schema.Record, attr string) (float64, bool) {
	v := row.Get(attr)
	if schema.IsNull(v) {
		return 0, false
	}
	return schema.Numeric(v)
}

// numericResult keeps integer typing when both operands were integers.
func numericResult(a, b *schema.Record, attr string, diff float64) schema.Value {
	_, aInt := a.Get(attr).(schema.Int)
	_, bInt := b.Get(attr).(schema.Int)
	if aInt && bInt {
		return schema.Int(int64(diff))
	}
	return schema.Float(diff)
}
