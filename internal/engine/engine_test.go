package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/rules"
	"github.com/irmahq/irma/internal/schema"
)

// memStorage is an in-memory Storage for engine tests.
type memStorage struct {
	records map[string]*schema.Record // keyed by ID
	readErr error
}

func newMemStorage(recs ...*schema.Record) *memStorage {
	m := &memStorage{records: make(map[string]*schema.Record)}
	for _, r := range recs {
		m.records[r.ID] = r
	}
	return m
}

func (m *memStorage) Get(_ context.Context, entity, id string) (*schema.Record, error) {
	r, ok := m.records[id]
	if !ok || r.EntityType != entity {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *memStorage) ExistsOther(_ context.Context, entity string, attrs []string, values []schema.Value, excludeID string) (bool, error) {
	for _, r := range m.records {
		if r.EntityType != entity || r.ID == excludeID {
			continue
		}
		match := true
		for i, a := range attrs {
			if !schema.Equal(r.Get(a), values[i]) {
				match = false
				break
			}
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStorage) PartitionRows(_ context.Context, entity string, spec schema.DerivedSpec, partition schema.Value) ([]*schema.Record, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var rows []*schema.Record
	for _, r := range m.records {
		if r.EntityType == entity && schema.Equal(r.Get(spec.PartitionKey), partition) {
			rows = append(rows, r.Clone())
		}
	}
	derive.SortRows(spec, rows)
	return rows, nil
}

func meterRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(derive.TransformNames())

	min := 0.0
	spec := &schema.EntitySpec{
		Name: "meter_reading",
		Attributes: []schema.AttributeDef{
			{Name: "meter", Type: schema.TypeString},
			{Name: "reading_time", Type: schema.TypeDate},
			{Name: "value", Type: schema.TypeNumber, Constraints: []schema.ConstraintSpec{
				{Kind: schema.ConstraintRange, Min: &min},
			}},
			{Name: "note", Type: schema.TypeString, Nullable: true,
				Default: schema.String("unreviewed")},
			{Name: "usage", Type: schema.TypeNumber, Nullable: true},
		},
		Derived: []schema.DerivedSpec{{
			Target:       "usage",
			DependsOn:    []string{"meter", "reading_time", "value"},
			PartitionKey: "meter",
			SortKeys:     []string{"reading_time"},
			Transform:    "delta",
			Source:       "value",
		}},
	}
	require.NoError(t, reg.Register(spec))
	reg.Freeze()
	return reg
}

func storedReading(id, meter, ts string, value float64) *schema.Record {
	pt, err := schema.ParseTime(ts)
	if err != nil {
		panic(err)
	}
	return &schema.Record{ID: id, EntityType: "meter_reading", Attrs: map[string]schema.Value{
		"meter":        schema.String(meter),
		"reading_time": pt,
		"value":        schema.Float(value),
	}}
}

func TestNewRequiresFrozenRegistry(t *testing.T) {
	reg := schema.NewRegistry(derive.TransformNames())
	_, err := New(reg, newMemStorage())
	require.Error(t, err)
}

func TestWriteCommitsAndDerives(t *testing.T) {
	reg := meterRegistry(t)
	st := newMemStorage(
		storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100),
		storedReading("r-2", "m-17", "2024-02-01T00:00:00Z", 120),
	)
	eng, err := New(reg, st)
	require.NoError(t, err)

	res, err := eng.Write(context.Background(), storedReading("r-3", "m-17", "2024-03-01T00:00:00Z", 150))
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.True(t, res.Report.Empty())

	// The whole partition is recomputed, candidate included.
	require.Len(t, res.Updates, 3)
	assert.True(t, schema.IsNull(res.Updates[0].Value))
	assert.Equal(t, schema.Float(20), res.Updates[1].Value)
	assert.Equal(t, "r-3", res.Updates[2].RecordID)
	assert.Equal(t, schema.Float(30), res.Updates[2].Value)
}

func TestWriteAppliesDefaults(t *testing.T) {
	reg := meterRegistry(t)
	eng, err := New(reg, newMemStorage())
	require.NoError(t, err)

	res, err := eng.Write(context.Background(), storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100))
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, schema.String("unreviewed"), res.Record.Get("note"))
}

func TestWriteRejectedSkipsDerivation(t *testing.T) {
	reg := meterRegistry(t)
	st := newMemStorage(storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100))
	eng, err := New(reg, st)
	require.NoError(t, err)

	bad := storedReading("r-2", "m-17", "2024-02-01T00:00:00Z", -5)
	delete(bad.Attrs, "reading_time")

	res, err := eng.Write(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, res.State)
	assert.Empty(t, res.Updates)

	// Both violations arrive in one report.
	require.Len(t, res.Report, 2)
	assert.Equal(t, rules.KindRequired, res.Report[0].Kind)
	assert.Equal(t, rules.KindRange, res.Report[1].Kind)
}

func TestWriteReassignmentRecomputesBothPartitions(t *testing.T) {
	reg := meterRegistry(t)
	st := newMemStorage(
		storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100),
		storedReading("r-2", "m-17", "2024-02-01T00:00:00Z", 120),
		storedReading("r-3", "m-18", "2024-01-01T00:00:00Z", 40),
	)
	eng, err := New(reg, st)
	require.NoError(t, err)

	// Reassign r-2 from m-17 to m-18.
	moved := storedReading("r-2", "m-18", "2024-02-01T00:00:00Z", 120)
	res, err := eng.Write(context.Background(), moved)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)

	byRecord := make(map[string]schema.Value)
	for _, u := range res.Updates {
		byRecord[u.RecordID] = u.Value
	}

	// Old partition m-17 shrinks to r-1 alone: its usage resets to null.
	require.Contains(t, byRecord, "r-1")
	assert.True(t, schema.IsNull(byRecord["r-1"]))

	// New partition m-18 now pairs r-3 with r-2: 120 - 40.
	assert.True(t, schema.IsNull(byRecord["r-3"]))
	assert.Equal(t, schema.Float(80), byRecord["r-2"])
}

// chainedRegistry adds usage_total, a running total over the usage
// deltas. usage_total is deliberately declared before the usage field it
// depends on: recomputation must follow dependency order, not
// declaration order.
func chainedRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(derive.TransformNames())

	spec := &schema.EntitySpec{
		Name: "meter_reading",
		Attributes: []schema.AttributeDef{
			{Name: "meter", Type: schema.TypeString},
			{Name: "reading_time", Type: schema.TypeDate},
			{Name: "value", Type: schema.TypeNumber},
			{Name: "usage", Type: schema.TypeNumber, Nullable: true},
			{Name: "usage_total", Type: schema.TypeNumber, Nullable: true},
		},
		Derived: []schema.DerivedSpec{
			{
				Target:       "usage_total",
				DependsOn:    []string{"usage"},
				PartitionKey: "meter",
				SortKeys:     []string{"reading_time"},
				Transform:    "running_total",
				Source:       "usage",
			},
			{
				Target:       "usage",
				DependsOn:    []string{"meter", "reading_time", "value"},
				PartitionKey: "meter",
				SortKeys:     []string{"reading_time"},
				Transform:    "delta",
				Source:       "value",
			},
		},
	}
	require.NoError(t, reg.Register(spec))
	reg.Freeze()
	return reg
}

func TestWriteChainedDerivedFields(t *testing.T) {
	reg := chainedRegistry(t)

	r1 := storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100)
	r2 := storedReading("r-2", "m-17", "2024-02-01T00:00:00Z", 120)
	r2.Attrs["usage"] = schema.Float(20)
	st := newMemStorage(r1, r2)

	eng, err := New(reg, st)
	require.NoError(t, err)

	res, err := eng.Write(context.Background(), storedReading("r-3", "m-17", "2024-03-01T00:00:00Z", 150))
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)

	byKey := make(map[string]schema.Value)
	for _, u := range res.Updates {
		byKey[u.RecordID+"/"+u.Attribute] = u.Value
	}

	// The new reading's delta, then its total over the usage values
	// computed in this write. Stored usage alone would give 20 here.
	assert.Equal(t, schema.Float(30), byKey["r-3/usage"])
	assert.Equal(t, schema.Float(50), byKey["r-3/usage_total"])
	assert.Equal(t, schema.Float(20), byKey["r-2/usage_total"])
}

func TestWriteUntouchedDerivedSkipsRecompute(t *testing.T) {
	reg := meterRegistry(t)
	st := newMemStorage(storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100))
	eng, err := New(reg, st)
	require.NoError(t, err)

	// Only the note changes; no dependency of usage is touched.
	upd := storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100)
	upd.Attrs["note"] = schema.String("checked")

	res, err := eng.Write(context.Background(), upd)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Empty(t, res.Updates)
}

func TestWriteDerivationFailureIsSystemError(t *testing.T) {
	reg := meterRegistry(t)
	st := newMemStorage(storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", 100))
	st.readErr = fmt.Errorf("disk gone")
	eng, err := New(reg, st)
	require.NoError(t, err)

	_, err = eng.Write(context.Background(), storedReading("r-2", "m-17", "2024-02-01T00:00:00Z", 120))
	require.Error(t, err)
	assert.True(t, IsDerivationError(err))

	var de *DerivationError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "usage", de.Attribute)
	assert.Equal(t, "m-17", de.Partition)
	assert.ErrorContains(t, errors.Unwrap(de), "disk gone")
}

func TestWriteUnknownEntity(t *testing.T) {
	reg := meterRegistry(t)
	eng, err := New(reg, newMemStorage())
	require.NoError(t, err)

	_, err = eng.Write(context.Background(), &schema.Record{ID: "x", EntityType: "nope"})
	require.Error(t, err)
	assert.False(t, IsDerivationError(err))
}

func TestWriteGermanLocale(t *testing.T) {
	reg := meterRegistry(t)
	eng, err := New(reg, newMemStorage(), WithLocale("de-AT"))
	require.NoError(t, err)

	res, err := eng.Write(context.Background(), storedReading("r-1", "m-17", "2024-01-01T00:00:00Z", -1))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, res.State)
	require.Len(t, res.Report, 1)
	assert.Equal(t, "de", res.Report[0].Locale)
}

func TestWriteAssignsID(t *testing.T) {
	reg := meterRegistry(t)
	eng, err := New(reg, newMemStorage(), WithIDGenerator(NewFixedGenerator("r-fixed-1")))
	require.NoError(t, err)

	rec := storedReading("", "m-17", "2024-01-01T00:00:00Z", 100)
	res, err := eng.Write(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "r-fixed-1", res.Record.ID)
	// The caller's record is untouched.
	assert.Empty(t, rec.ID)
}

func TestFixedGeneratorExhaustionPanics(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "validating", StateValidating.String())
	assert.Equal(t, "deriving", StateDeriving.String())
	assert.Equal(t, "rejected", StateRejected.String())
	assert.Equal(t, "committed", StateCommitted.String())
}
