package derive

import (
	"fmt"
)

// OrderingError reports partition rows that are not sorted by the derived
// field's sort keys. The executor fails loudly rather than computing a
// silently wrong delta from misordered rows.
type OrderingError struct {
	Entity    string
	Attribute string // derived target
	Position  int    // index of the first out-of-order row
}

// Error implements the error interface.
func (e *OrderingError) Error() string {
	return fmt.Sprintf("partition rows for %s.%s out of sort order at index %d",
		e.Entity, e.Attribute, e.Position)
}
