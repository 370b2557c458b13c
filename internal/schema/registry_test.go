package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTransforms = []string{"delta", "running_total"}

func validBookSpec() *EntitySpec {
	return &EntitySpec{
		Name: "book",
		Attributes: []AttributeDef{
			{Name: "title", Type: TypeString, IsLabel: true},
			{Name: "price", Type: TypeNumber, Nullable: true,
				Constraints: []ConstraintSpec{{Kind: ConstraintRange, Min: f(0)}}},
			{Name: "format", Type: TypeEnum, Nullable: true,
				Constraints: []ConstraintSpec{{Kind: ConstraintEnum, Enum: []string{"hardcover", "paperback"}}}},
		},
	}
}

func f(v float64) *float64 { return &v }

func TestRegisterValidSpec(t *testing.T) {
	reg := NewRegistry(testTransforms)
	require.NoError(t, reg.Register(validBookSpec()))

	spec, ok := reg.Lookup("book")
	require.True(t, ok)
	attr, ok := spec.Attribute("price")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, attr.Type)
}

func TestRegisterRejectsInvertedRange(t *testing.T) {
	spec := validBookSpec()
	spec.Attributes[1].Constraints = []ConstraintSpec{
		{Kind: ConstraintRange, Min: f(10), Max: f(5)},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrRangeInverted, errs[0].Code)
	assert.Equal(t, "price", errs[0].Attribute)

	_, ok := reg.Lookup("book")
	assert.False(t, ok, "rejected spec must not be partially registered")
}

func TestRegisterRejectsCompositeKeyTooSmall(t *testing.T) {
	spec := validBookSpec()
	spec.Attributes[0].Constraints = []ConstraintSpec{
		{Kind: ConstraintUnique, CompositeID: "bk"},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, ErrCompositeTooSmall, errs[0].Code)
}

func TestUniqueScopesResolveJointly(t *testing.T) {
	spec := &EntitySpec{
		Name: "meter_reading",
		Attributes: []AttributeDef{
			{Name: "serial", Type: TypeString,
				Constraints: []ConstraintSpec{{Kind: ConstraintUnique}}},
			{Name: "meter", Type: TypeForeignKey, Target: "meter",
				Constraints: []ConstraintSpec{{Kind: ConstraintUnique, CompositeID: "rk"}}},
			{Name: "reading_time", Type: TypeDate,
				Constraints: []ConstraintSpec{{Kind: ConstraintUnique, CompositeID: "rk"}}},
		},
	}

	reg := NewRegistry(testTransforms)
	require.NoError(t, reg.Register(spec))

	got, ok := reg.Lookup("meter_reading")
	require.True(t, ok)
	scopes := got.UniqueScopes()
	require.Len(t, scopes, 2)
	assert.Equal(t, []string{"serial"}, scopes[0].Attrs)
	assert.Equal(t, "rk", scopes[1].CompositeID)
	assert.Equal(t, []string{"meter", "reading_time"}, scopes[1].Attrs)
}

func TestRegisterCollectsAllErrors(t *testing.T) {
	spec := &EntitySpec{
		Name: "bad",
		Attributes: []AttributeDef{
			{Name: "a", Type: "mystery"},
			{Name: "a", Type: TypeString},
			{Name: "b", Type: TypeString,
				Constraints: []ConstraintSpec{{Kind: ConstraintPattern, Pattern: "("}}},
		},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3, "every defect is reported in one pass")
}

func TestRegisterDerivedValidation(t *testing.T) {
	spec := &EntitySpec{
		Name: "meter_reading",
		Attributes: []AttributeDef{
			{Name: "meter", Type: TypeForeignKey, Target: "meter"},
			{Name: "reading_time", Type: TypeDate},
			{Name: "value", Type: TypeNumber},
			{Name: "usage", Type: TypeNumber, Nullable: true},
		},
		Derived: []DerivedSpec{{
			Target:       "usage",
			DependsOn:    []string{"meter", "reading_time", "value"},
			PartitionKey: "meter",
			SortKeys:     []string{"reading_time"},
			Transform:    "delta",
			Source:       "value",
		}},
	}

	reg := NewRegistry(testTransforms)
	require.NoError(t, reg.Register(spec))
}

func TestRegisterDerivedUnknownDependency(t *testing.T) {
	spec := &EntitySpec{
		Name: "meter_reading",
		Attributes: []AttributeDef{
			{Name: "meter", Type: TypeForeignKey, Target: "meter"},
			{Name: "usage", Type: TypeNumber, Nullable: true},
		},
		Derived: []DerivedSpec{{
			Target:       "usage",
			DependsOn:    []string{"ghost"},
			PartitionKey: "meter",
			SortKeys:     []string{"meter"},
			Transform:    "delta",
		}},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, ErrUnknownAttribute, errs[0].Code)
}

func TestRegisterDerivedUnknownTransform(t *testing.T) {
	spec := &EntitySpec{
		Name: "m",
		Attributes: []AttributeDef{
			{Name: "k", Type: TypeString},
			{Name: "d", Type: TypeNumber, Nullable: true},
		},
		Derived: []DerivedSpec{{
			Target: "d", DependsOn: []string{"k"},
			PartitionKey: "k", SortKeys: []string{"k"}, Transform: "frobnicate",
		}},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, ErrUnknownTransform, errs[0].Code)
}

func TestRegisterDerivedCycle(t *testing.T) {
	spec := &EntitySpec{
		Name: "m",
		Attributes: []AttributeDef{
			{Name: "k", Type: TypeString},
			{Name: "a", Type: TypeNumber, Nullable: true},
			{Name: "b", Type: TypeNumber, Nullable: true},
		},
		Derived: []DerivedSpec{
			{Target: "a", DependsOn: []string{"b"}, PartitionKey: "k", SortKeys: []string{"k"}, Transform: "delta", Source: "b"},
			{Target: "b", DependsOn: []string{"a"}, PartitionKey: "k", SortKeys: []string{"k"}, Transform: "delta", Source: "a"},
		},
	}

	reg := NewRegistry(testTransforms)
	err := reg.Register(spec)
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	found := false
	for _, e := range errs {
		if e.Code == ErrDerivedCycle {
			found = true
		}
	}
	assert.True(t, found, "cycle between derived fields must be rejected")
}

func TestFreezeRejectsFurtherRegistration(t *testing.T) {
	reg := NewRegistry(testTransforms)
	require.NoError(t, reg.Register(validBookSpec()))
	reg.Freeze()

	err := reg.Register(&EntitySpec{Name: "late"})
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, ErrRegistryFrozen, errs[0].Code)
	assert.True(t, reg.Frozen())
}

func TestDuplicateEntityRejected(t *testing.T) {
	reg := NewRegistry(testTransforms)
	require.NoError(t, reg.Register(validBookSpec()))

	err := reg.Register(validBookSpec())
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, ErrDuplicateEntity, errs[0].Code)
}
