package rules

import (
	"context"

	"github.com/irmahq/irma/internal/schema"
)

// Lookup is the narrow, read-only capability the storage layer supplies to
// the evaluator. The evaluator never scans storage itself: uniqueness is a
// single existence probe and cross-entity scripts read single records by
// identifier. Both operations may block on the storage layer and may fail;
// callers wanting bounded validation latency should pass a context with a
// deadline.
type Lookup interface {
	// Get fetches one record by identifier. Returns (nil, nil) when the
	// record does not exist.
	Get(ctx context.Context, entity, id string) (*schema.Record, error)

	// ExistsOther reports whether any record other than excludeID carries
	// the given value tuple for the scoped attributes.
	ExistsOther(ctx context.Context, entity string, attrs []string, values []schema.Value, excludeID string) (bool, error)
}
