package rules

// Kind categorizes a constraint violation.
type Kind string

const (
	// KindRequired reports an absent value on a non-nullable attribute.
	KindRequired Kind = "required"
	// KindRange reports a numeric value outside its declared bounds.
	KindRange Kind = "range"
	// KindPattern reports a value that does not fully match its pattern.
	KindPattern Kind = "pattern"
	// KindEnum reports a value outside the allowed set.
	KindEnum Kind = "enum"
	// KindUnique reports a scoped value tuple already held by another record.
	KindUnique Kind = "unique"
	// KindTimeRange reports a start value after its end value.
	KindTimeRange Kind = "time-range"
	// KindScript reports a script constraint that evaluated to false.
	KindScript Kind = "script"
	// KindScriptError reports a script constraint that failed to evaluate.
	// Kept distinct from KindScript: it usually indicates an authoring bug
	// in the schema, not bad input.
	KindScriptError Kind = "script-error"
)

// Violation describes one failed constraint on a candidate record.
type Violation struct {
	Attribute string `json:"attribute"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Locale    string `json:"locale"`
}

// Report is the ordered list of violations for one record. Violations
// appear in attribute declaration order, constraints in declaration order
// within an attribute, uniqueness scopes last. An empty report means the
// record is valid.
type Report []Violation

// Empty reports whether the record passed every constraint.
func (r Report) Empty() bool {
	return len(r) == 0
}

// ByAttribute returns the violations recorded against one attribute.
func (r Report) ByAttribute(attr string) []Violation {
	var out []Violation
	for _, v := range r {
		if v.Attribute == attr {
			out = append(out, v)
		}
	}
	return out
}

// Kinds returns the violation kinds in report order.
func (r Report) Kinds() []Kind {
	out := make([]Kind, len(r))
	for i, v := range r {
		out[i] = v.Kind
	}
	return out
}
