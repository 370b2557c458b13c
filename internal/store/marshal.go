package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/irmahq/irma/internal/schema"
)

// marshalAttrs converts a record's attribute map to JSON TEXT for the
// attrs column. Map keys are sorted by json.Marshal, so identical attrs
// always produce identical TEXT.
func marshalAttrs(attrs map[string]schema.Value) (string, error) {
	m := make(map[string]any, len(attrs))
	for k, v := range attrs {
		m[k] = schema.ToAny(v)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

// unmarshalAttrs parses the attrs column back into typed values, using
// the entity spec to pick the semantic type per attribute. Numbers are
// decoded as json.Number so large integers survive the round trip.
//
// Attributes in the row but absent from the spec are kept as untyped
// scalars rather than dropped: the schema may have shrunk since the row
// was written.
func unmarshalAttrs(spec *schema.EntitySpec, data string) (map[string]schema.Value, error) {
	attrs := make(map[string]schema.Value)
	if data == "" || data == "{}" {
		return attrs, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}

	for k, rv := range raw {
		var (
			v   schema.Value
			err error
		)
		if def, ok := spec.Attribute(k); ok {
			v, err = schema.Coerce(def.Type, rv)
		} else {
			v, err = coerceLoose(rv)
		}
		if err != nil {
			return nil, fmt.Errorf("unmarshal attrs: %s: %w", k, err)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// coerceLoose maps a JSON scalar to a value by its Go shape alone.
func coerceLoose(raw any) (schema.Value, error) {
	switch x := raw.(type) {
	case nil:
		return schema.Null{}, nil
	case string:
		return schema.String(x), nil
	case bool:
		return schema.Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return schema.Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number %q", x)
		}
		return schema.Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported attribute shape %T", raw)
	}
}

// marshalValue renders one value as JSON TEXT for json_set.
func marshalValue(v schema.Value) (string, error) {
	data, err := json.Marshal(schema.ToAny(v))
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}
