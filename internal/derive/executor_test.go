package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irmahq/irma/internal/schema"
)

func usageSpec() schema.DerivedSpec {
	return schema.DerivedSpec{
		Target:       "usage",
		DependsOn:    []string{"meter", "reading_time", "value"},
		PartitionKey: "meter",
		SortKeys:     []string{"reading_time"},
		Transform:    "delta",
		Source:       "value",
	}
}

func reading(id, meter, ts string, value schema.Value) *schema.Record {
	t, err := schema.ParseTime(ts)
	if err != nil {
		panic(err)
	}
	return &schema.Record{ID: id, EntityType: "meter_reading", Attrs: map[string]schema.Value{
		"meter":        schema.String(meter),
		"reading_time": t,
		"value":        value,
	}}
}

func TestRecomputeDelta(t *testing.T) {
	rows := []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100)),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Float(120)),
		reading("r-3", "m-17", "2024-03-01T00:00:00Z", schema.Float(150)),
	}

	updates, err := Recompute("meter_reading", usageSpec(), rows)
	require.NoError(t, err)
	require.Len(t, updates, 3)

	// First reading of a partition has no prior: derived value is null.
	assert.Equal(t, "r-1", updates[0].RecordID)
	assert.True(t, schema.IsNull(updates[0].Value))

	assert.Equal(t, schema.Float(20), updates[1].Value)
	assert.Equal(t, schema.Float(30), updates[2].Value)
	for _, u := range updates {
		assert.Equal(t, "usage", u.Attribute)
	}
}

func TestRecomputeDeltaMissingPriorValue(t *testing.T) {
	rows := []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Null{}),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Float(120)),
	}

	updates, err := Recompute("meter_reading", usageSpec(), rows)
	require.NoError(t, err)

	// Missing prior value means "no delta", not an error.
	assert.True(t, schema.IsNull(updates[0].Value))
	assert.True(t, schema.IsNull(updates[1].Value))
}

func TestRecomputeKeepsIntegerTyping(t *testing.T) {
	rows := []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Int(100)),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Int(120)),
	}

	updates, err := Recompute("meter_reading", usageSpec(), rows)
	require.NoError(t, err)
	assert.Equal(t, schema.Int(20), updates[1].Value)
}

func TestRecomputeIdempotent(t *testing.T) {
	rows := []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100)),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Float(120)),
	}

	first, err := Recompute("meter_reading", usageSpec(), rows)
	require.NoError(t, err)
	second, err := Recompute("meter_reading", usageSpec(), rows)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecomputeRejectsOutOfOrderRows(t *testing.T) {
	rows := []*schema.Record{
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Float(120)),
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100)),
	}

	_, err := Recompute("meter_reading", usageSpec(), rows)
	require.Error(t, err)

	var ordErr *OrderingError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, 1, ordErr.Position)
	assert.Equal(t, "usage", ordErr.Attribute)
}

func TestRecomputeEmptyPartition(t *testing.T) {
	updates, err := Recompute("meter_reading", usageSpec(), nil)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestRunningTotal(t *testing.T) {
	spec := usageSpec()
	spec.Target = "total"
	spec.Transform = "running_total"

	rows := []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Int(10)),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Null{}),
		reading("r-3", "m-17", "2024-03-01T00:00:00Z", schema.Int(5)),
	}

	updates, err := Recompute("meter_reading", spec, rows)
	require.NoError(t, err)
	assert.Equal(t, schema.Int(10), updates[0].Value)
	assert.Equal(t, schema.Int(10), updates[1].Value)
	assert.Equal(t, schema.Int(15), updates[2].Value)
}

func TestSortRows(t *testing.T) {
	rows := []*schema.Record{
		reading("r-3", "m-17", "2024-03-01T00:00:00Z", schema.Float(150)),
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(100)),
		reading("r-2", "m-17", "2024-02-01T00:00:00Z", schema.Float(120)),
	}

	SortRows(usageSpec(), rows)
	assert.Equal(t, "r-1", rows[0].ID)
	assert.Equal(t, "r-2", rows[1].ID)
	assert.Equal(t, "r-3", rows[2].ID)
}

func TestRegisterTransform(t *testing.T) {
	RegisterTransform("const_zero", func(_ schema.DerivedSpec, rows []*schema.Record) ([]schema.Value, error) {
		out := make([]schema.Value, len(rows))
		for i := range out {
			out[i] = schema.Int(0)
		}
		return out, nil
	})

	assert.Contains(t, TransformNames(), "const_zero")

	spec := usageSpec()
	spec.Transform = "const_zero"
	updates, err := Recompute("meter_reading", spec, []*schema.Record{
		reading("r-1", "m-17", "2024-01-01T00:00:00Z", schema.Float(1)),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Int(0), updates[0].Value)
}
