package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/schema"
)

// Get loads one record by entity type and ID. Returns (nil, nil) when no
// such record exists; absence is an answer, not an error.
func (s *Store) Get(ctx context.Context, entity, id string) (*schema.Record, error) {
	spec, ok := s.reg.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}

	var attrsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT attrs FROM records
		WHERE id = ? AND entity_type = ?
	`, id, entity).Scan(&attrsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entity, id, err)
	}

	attrs, err := unmarshalAttrs(spec, attrsJSON)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entity, id, err)
	}
	return &schema.Record{ID: id, EntityType: entity, Attrs: attrs}, nil
}

// ExistsOther reports whether any record other than excludeID carries the
// given attribute tuple. Backs the uniqueness predicates; the comparison
// uses IS so explicit nulls in the tuple match stored nulls.
func (s *Store) ExistsOther(ctx context.Context, entity string, attrs []string, values []schema.Value, excludeID string) (bool, error) {
	if len(attrs) != len(values) {
		return false, fmt.Errorf("exists probe: %d attrs for %d values", len(attrs), len(values))
	}

	var b strings.Builder
	b.WriteString("SELECT 1 FROM records WHERE entity_type = ? AND id != ?")
	args := []any{entity, excludeID}
	for i, a := range attrs {
		b.WriteString(" AND json_extract(attrs, ?) IS ?")
		args = append(args, "$."+a, schema.ToAny(values[i]))
	}
	b.WriteString(" LIMIT 1")

	var one int
	err := s.db.QueryRowContext(ctx, b.String(), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists probe %s: %w", entity, err)
	}
	return true, nil
}

// PartitionRows returns every record of the entity whose partition-key
// attribute equals partition, sorted ascending by the spec's sort keys.
// Sorting happens in Go: sort keys are typed values, and SQLite's JSON
// collation does not match their comparison rules.
func (s *Store) PartitionRows(ctx context.Context, entity string, dspec schema.DerivedSpec, partition schema.Value) ([]*schema.Record, error) {
	spec, ok := s.reg.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attrs FROM records
		WHERE entity_type = ? AND json_extract(attrs, ?) IS ?
	`, entity, "$."+dspec.PartitionKey, schema.ToAny(partition))
	if err != nil {
		return nil, fmt.Errorf("partition rows %s: %w", entity, err)
	}
	defer rows.Close()

	var out []*schema.Record
	for rows.Next() {
		var (
			id        string
			attrsJSON string
		)
		if err := rows.Scan(&id, &attrsJSON); err != nil {
			return nil, fmt.Errorf("partition rows %s: %w", entity, err)
		}
		attrs, err := unmarshalAttrs(spec, attrsJSON)
		if err != nil {
			return nil, fmt.Errorf("partition rows %s/%s: %w", entity, id, err)
		}
		out = append(out, &schema.Record{ID: id, EntityType: entity, Attrs: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partition rows %s: %w", entity, err)
	}

	derive.SortRows(dspec, out)
	return out, nil
}

// List returns every record of one entity type, ordered by ID. Used by
// the CLI for recompute sweeps and inspection.
func (s *Store) List(ctx context.Context, entity string) ([]*schema.Record, error) {
	spec, ok := s.reg.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attrs FROM records
		WHERE entity_type = ?
		ORDER BY id
	`, entity)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	defer rows.Close()

	var out []*schema.Record
	for rows.Next() {
		var (
			id        string
			attrsJSON string
		)
		if err := rows.Scan(&id, &attrsJSON); err != nil {
			return nil, fmt.Errorf("list %s: %w", entity, err)
		}
		attrs, err := unmarshalAttrs(spec, attrsJSON)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", entity, id, err)
		}
		out = append(out, &schema.Record{ID: id, EntityType: entity, Attrs: attrs})
	}
	return out, rows.Err()
}

// Partitions returns the distinct partition-key values present for one
// derived spec. Used by the CLI to recompute an entity from scratch.
func (s *Store) Partitions(ctx context.Context, entity string, dspec schema.DerivedSpec) ([]schema.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT json_extract(attrs, ?) FROM records
		WHERE entity_type = ?
		ORDER BY 1
	`, "$."+dspec.PartitionKey, entity)
	if err != nil {
		return nil, fmt.Errorf("partitions %s: %w", entity, err)
	}
	defer rows.Close()

	var out []schema.Value
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("partitions %s: %w", entity, err)
		}
		v, err := scanValue(raw)
		if err != nil {
			return nil, fmt.Errorf("partitions %s: %w", entity, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// scanValue maps a SQLite scalar to a value.
func scanValue(raw any) (schema.Value, error) {
	switch x := raw.(type) {
	case nil:
		return schema.Null{}, nil
	case string:
		return schema.String(x), nil
	case []byte:
		return schema.String(string(x)), nil
	case int64:
		return schema.Int(x), nil
	case float64:
		return schema.Float(x), nil
	case bool:
		return schema.Bool(x), nil
	default:
		return nil, fmt.Errorf("unsupported column shape %T", raw)
	}
}
