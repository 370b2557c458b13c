package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irmahq/irma/internal/schema"
)

func TestPartitionsCreate(t *testing.T) {
	parts := Partitions(usageSpec(), nil, reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(1)))
	require.Len(t, parts, 1)
	assert.Equal(t, schema.String("m-17"), parts[0])
}

func TestPartitionsDelete(t *testing.T) {
	parts := Partitions(usageSpec(), reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(1)), nil)
	require.Len(t, parts, 1)
	assert.Equal(t, schema.String("m-17"), parts[0])
}

func TestPartitionsUpdateSamePartition(t *testing.T) {
	old := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(1))
	upd := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(2))
	parts := Partitions(usageSpec(), old, upd)
	require.Len(t, parts, 1)
	assert.Equal(t, schema.String("m-17"), parts[0])
}

func TestPartitionsReassignment(t *testing.T) {
	old := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(1))
	upd := reading("r-1", "m-18", "2024-01-01T00:00:00Z", schema.Float(1))

	// Moving a record between partitions recomputes both, old first.
	parts := Partitions(usageSpec(), old, upd)
	require.Len(t, parts, 2)
	assert.Equal(t, schema.String("m-17"), parts[0])
	assert.Equal(t, schema.String("m-18"), parts[1])
}

func TestPartitionsNothing(t *testing.T) {
	assert.Nil(t, Partitions(usageSpec(), nil, nil))
}

func TestOrderPutsDependenciesFirst(t *testing.T) {
	specs := []schema.DerivedSpec{
		{Target: "usage_total", DependsOn: []string{"usage"}},
		{Target: "usage", DependsOn: []string{"value"}},
	}

	ordered := Order(specs)
	require.Len(t, ordered, 2)
	assert.Equal(t, "usage", ordered[0].Target)
	assert.Equal(t, "usage_total", ordered[1].Target)
}

func TestOrderKeepsDeclarationOrderWhenIndependent(t *testing.T) {
	specs := []schema.DerivedSpec{
		{Target: "a", DependsOn: []string{"x"}},
		{Target: "b", DependsOn: []string{"y"}},
	}

	ordered := Order(specs)
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].Target)
	assert.Equal(t, "b", ordered[1].Target)
}

func TestTouches(t *testing.T) {
	spec := usageSpec()

	assert.True(t, Touches(spec, map[string]bool{"value": true}))
	assert.True(t, Touches(spec, map[string]bool{"meter": true}))
	assert.True(t, Touches(spec, map[string]bool{"reading_time": true}))
	assert.False(t, Touches(spec, map[string]bool{"note": true}))
	assert.False(t, Touches(spec, nil))
}

func TestChangedAttrs(t *testing.T) {
	old := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100))
	upd := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(120))

	changed := ChangedAttrs(old, upd)
	assert.Equal(t, map[string]bool{"value": true}, changed)
}

func TestChangedAttrsCreate(t *testing.T) {
	rec := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100))

	changed := ChangedAttrs(nil, rec)
	assert.True(t, changed["meter"])
	assert.True(t, changed["reading_time"])
	assert.True(t, changed["value"])
}

func TestChangedAttrsRemoved(t *testing.T) {
	old := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100))
	upd := reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100))
	delete(upd.Attrs, "value")

	changed := ChangedAttrs(old, upd)
	assert.Equal(t, map[string]bool{"value": true}, changed)
}
