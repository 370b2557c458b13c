package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNumeric(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int less", Int(1), Int(2), -1},
		{"int equal", Int(5), Int(5), 0},
		{"int greater", Int(9), Int(2), 1},
		{"float vs int", Float(1.5), Int(2), -1},
		{"int vs float equal", Int(2), Float(2.0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareNullOrdersFirst(t *testing.T) {
	got, err := Compare(Null{}, Int(0))
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = Compare(String("a"), Null{})
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = Compare(Null{}, Null{})
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestCompareTime(t *testing.T) {
	early := NewTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := NewTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	got, err := Compare(early, late)
	require.NoError(t, err)
	assert.Equal(t, -1, got)

	got, err = Compare(late, early)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestCompareMismatchedTypes(t *testing.T) {
	_, err := Compare(String("a"), Bool(true))
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(TypeInt, float64(42))
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)

	_, err = Coerce(TypeInt, float64(42.5))
	assert.Error(t, err, "fractional value is not an int")

	v, err = Coerce(TypeNumber, float64(59.99))
	require.NoError(t, err)
	assert.Equal(t, Float(59.99), v)

	v, err = Coerce(TypeDate, "2000-01-01")
	require.NoError(t, err)
	tv, ok := v.(Time)
	require.True(t, ok)
	assert.Equal(t, 2000, tv.T.Year())

	v, err = Coerce(TypeString, nil)
	require.NoError(t, err)
	assert.True(t, IsNull(v))

	v, err = Coerce(TypeEnum, "hardcover")
	require.NoError(t, err)
	assert.Equal(t, String("hardcover"), v)

	_, err = Coerce(TypeBool, "yes")
	assert.Error(t, err)
}

func TestKeyRendering(t *testing.T) {
	assert.Equal(t, "null", Key(Null{}))
	assert.Equal(t, "m-17", Key(String("m-17")))
	assert.Equal(t, "42", Key(Int(42)))
	assert.Equal(t, "59.99", Key(Float(59.99)))
	assert.Equal(t, "true", Key(Bool(true)))
}

func TestRecordGetAndClone(t *testing.T) {
	rec := &Record{
		ID:         "r-1",
		EntityType: "book",
		Attrs:      map[string]Value{"title": String("Dune")},
	}

	assert.Equal(t, String("Dune"), rec.Get("title"))
	assert.True(t, IsNull(rec.Get("missing")))

	clone := rec.Clone()
	clone.Attrs["title"] = String("changed")
	assert.Equal(t, String("Dune"), rec.Get("title"), "clone must not alias the original")
}
