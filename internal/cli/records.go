package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/irmahq/irma/internal/schema"
)

// recordDoc is the on-disk shape of one record, in YAML or JSON.
type recordDoc struct {
	Entity string         `yaml:"entity" json:"entity"`
	ID     string         `yaml:"id" json:"id"`
	Attrs  map[string]any `yaml:"attrs" json:"attrs"`
}

// LoadRecords reads records from a YAML or JSON file. YAML files may
// hold multiple documents (seed imports); JSON files hold one object or
// an array. Attribute scalars are coerced through the entity's declared
// semantic types, so malformed input fails here with the file name
// rather than deep in validation.
func LoadRecords(path string, reg *schema.Registry) ([]*schema.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var docs []recordDoc
	switch filepath.Ext(path) {
	case ".json":
		docs, err = decodeJSONRecords(f)
	default:
		docs, err = decodeYAMLRecords(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	records := make([]*schema.Record, 0, len(docs))
	for i, doc := range docs {
		rec, err := docToRecord(doc, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeYAMLRecords(r io.Reader) ([]recordDoc, error) {
	var docs []recordDoc
	dec := yaml.NewDecoder(r)
	for {
		var doc recordDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func decodeJSONRecords(r io.Reader) ([]recordDoc, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var many []recordDoc
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one recordDoc
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []recordDoc{one}, nil
}

// docToRecord coerces a decoded document into a typed record.
func docToRecord(doc recordDoc, reg *schema.Registry) (*schema.Record, error) {
	if doc.Entity == "" {
		return nil, fmt.Errorf("missing entity")
	}
	spec, ok := reg.Lookup(doc.Entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", doc.Entity)
	}

	attrs := make(map[string]schema.Value, len(doc.Attrs))
	for k, raw := range doc.Attrs {
		def, ok := spec.Attribute(k)
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q", k)
		}
		v, err := schema.Coerce(def.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs[k] = v
	}

	return &schema.Record{ID: doc.ID, EntityType: doc.Entity, Attrs: attrs}, nil
}
