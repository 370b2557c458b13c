package schema

// SemanticType identifies the declared meaning of an attribute.
type SemanticType string

// Supported semantic types. Display-oriented types (url, mail, geo,
// address, contact, json) are carried as text; they exist so schemas can
// declare intent and so the UI layer can pick widgets.
const (
	TypeString     SemanticType = "string"
	TypeInt        SemanticType = "int"
	TypeNumber     SemanticType = "number"
	TypeDate       SemanticType = "date"
	TypeBool       SemanticType = "bool"
	TypeURL        SemanticType = "url"
	TypeMail       SemanticType = "mail"
	TypeJSON       SemanticType = "json"
	TypeGeo        SemanticType = "geo"
	TypeAddress    SemanticType = "address"
	TypeContact    SemanticType = "contact"
	TypePattern    SemanticType = "pattern"
	TypeEnum       SemanticType = "enum"
	TypeForeignKey SemanticType = "foreign-key"
)

// ValidSemanticTypes defines the allowed semantic type names.
var ValidSemanticTypes = map[SemanticType]bool{
	TypeString:     true,
	TypeInt:        true,
	TypeNumber:     true,
	TypeDate:       true,
	TypeBool:       true,
	TypeURL:        true,
	TypeMail:       true,
	TypeJSON:       true,
	TypeGeo:        true,
	TypeAddress:    true,
	TypeContact:    true,
	TypePattern:    true,
	TypeEnum:       true,
	TypeForeignKey: true,
}

// ConstraintKind identifies a constraint variant.
type ConstraintKind string

const (
	// ConstraintRequired rejects absent values on non-nullable attributes.
	ConstraintRequired ConstraintKind = "required"
	// ConstraintRange bounds numeric values.
	ConstraintRange ConstraintKind = "range"
	// ConstraintPattern requires a full regular-expression match.
	ConstraintPattern ConstraintKind = "pattern"
	// ConstraintEnum requires membership in a fixed value set.
	ConstraintEnum ConstraintKind = "enum"
	// ConstraintUnique requires a scoped value tuple to be unique across
	// records. Key lists the scope; a single member means single-column.
	ConstraintUnique ConstraintKind = "unique"
	// ConstraintTimeRange requires start <= end when both are present.
	ConstraintTimeRange ConstraintKind = "time-range"
	// ConstraintScript evaluates a declared expression against the
	// candidate record and prefetched related records.
	ConstraintScript ConstraintKind = "script"
)

// ConstraintSpec is a tagged variant describing one declared constraint.
// Only the fields for the given Kind are populated.
type ConstraintSpec struct {
	Kind ConstraintKind `json:"kind"`

	// Range
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Pattern
	Pattern string `json:"pattern,omitempty"`

	// Enum
	Enum []string `json:"enum,omitempty"`

	// Unique scope: empty means single-column (the attribute itself);
	// otherwise a composite key identifier. Attributes sharing one
	// CompositeID are validated jointly, never independently.
	CompositeID string `json:"composite_id,omitempty"`

	// TimeRange
	StartAttr string `json:"start_attr,omitempty"`
	EndAttr   string `json:"end_attr,omitempty"`

	// Script: expression body plus the related records it needs
	// prefetched before evaluation.
	Script string      `json:"script,omitempty"`
	Uses   []ScriptRef `json:"uses,omitempty"`
}

// ScriptRef tells the evaluator which related record to prefetch before
// evaluating a script constraint. Attr names a foreign-key attribute on
// the candidate record; Entity is the referenced entity type; As is the
// binding name inside the script scope (defaults to Attr).
type ScriptRef struct {
	Attr   string `json:"attr"`
	Entity string `json:"entity"`
	As     string `json:"as,omitempty"`
}

// Binding returns the script-scope name for the prefetched record.
func (r ScriptRef) Binding() string {
	if r.As != "" {
		return r.As
	}
	return r.Attr
}

// AttributeDef describes one attribute of an entity type.
type AttributeDef struct {
	Name             string           `json:"name"`
	Type             SemanticType     `json:"type"`
	Nullable         bool             `json:"nullable"`
	Default          Value            `json:"-"`
	IsLabel          bool             `json:"is_label,omitempty"`
	IsSecondaryLabel bool             `json:"is_secondary_label,omitempty"`
	Target           string           `json:"target,omitempty"` // foreign-key referenced entity
	Constraints      []ConstraintSpec `json:"constraints,omitempty"`
}

// DerivedSpec describes a calculated attribute whose value is a pure
// function of the ordered rows sharing its partition key.
type DerivedSpec struct {
	Target       string   `json:"target"`
	DependsOn    []string `json:"depends_on"`
	PartitionKey string   `json:"partition_by"`
	SortKeys     []string `json:"order_by"`
	Transform    string   `json:"transform"`
	Source       string   `json:"source,omitempty"` // input attribute for value transforms
}

// UniqueScope is one uniqueness requirement resolved from the attribute
// constraints: either a single column or the joint members of a composite
// key, in attribute declaration order.
type UniqueScope struct {
	CompositeID string   `json:"composite_id,omitempty"`
	Attrs       []string `json:"attrs"`
}

// EntitySpec is the frozen schema descriptor for one entity type:
// the ordered attribute definitions plus derived-field specifications.
type EntitySpec struct {
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes"`
	Derived    []DerivedSpec  `json:"derived,omitempty"`

	byName map[string]*AttributeDef
	unique []UniqueScope
}

// Attribute returns the definition for a named attribute.
func (s *EntitySpec) Attribute(name string) (*AttributeDef, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// DerivedTarget returns the derived spec computing the named attribute.
func (s *EntitySpec) DerivedTarget(name string) (*DerivedSpec, bool) {
	for i := range s.Derived {
		if s.Derived[i].Target == name {
			return &s.Derived[i], true
		}
	}
	return nil, false
}

// UniqueScopes returns the resolved uniqueness requirements: one scope per
// single-column unique constraint plus one joint scope per composite key.
func (s *EntitySpec) UniqueScopes() []UniqueScope {
	return s.unique
}

// index builds the attribute lookup and resolves unique scopes.
// Called during registration, after validation.
func (s *EntitySpec) index() {
	s.byName = make(map[string]*AttributeDef, len(s.Attributes))
	for i := range s.Attributes {
		s.byName[s.Attributes[i].Name] = &s.Attributes[i]
	}

	s.unique = nil
	composite := make(map[string][]string)
	var compositeOrder []string
	for _, a := range s.Attributes {
		for _, c := range a.Constraints {
			if c.Kind != ConstraintUnique {
				continue
			}
			if c.CompositeID == "" {
				s.unique = append(s.unique, UniqueScope{Attrs: []string{a.Name}})
				continue
			}
			if _, seen := composite[c.CompositeID]; !seen {
				compositeOrder = append(compositeOrder, c.CompositeID)
			}
			composite[c.CompositeID] = append(composite[c.CompositeID], a.Name)
		}
	}
	for _, id := range compositeOrder {
		s.unique = append(s.unique, UniqueScope{CompositeID: id, Attrs: composite[id]})
	}
}

// Record is one row of an entity type: a stable identity plus a mapping
// from attribute name to value. Records are owned by the storage layer;
// the engine reads them and returns computed views, never mutating input.
type Record struct {
	ID         string           `json:"id"`
	EntityType string           `json:"entity_type"`
	Attrs      map[string]Value `json:"-"`
}

// Get returns the value of an attribute, Null when absent.
func (r *Record) Get(name string) Value {
	if v, ok := r.Attrs[name]; ok && v != nil {
		return v
	}
	return Null{}
}

// Clone returns a deep-enough copy: Values are immutable, so copying the
// attribute map is sufficient.
func (r *Record) Clone() *Record {
	attrs := make(map[string]Value, len(r.Attrs))
	for k, v := range r.Attrs {
		attrs[k] = v
	}
	return &Record{ID: r.ID, EntityType: r.EntityType, Attrs: attrs}
}
