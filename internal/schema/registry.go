package schema

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Registry holds the frozen schema descriptors for every entity type.
//
// Lifecycle is validate-then-freeze: Register is called once per entity
// type at load time, Freeze seals the registry, and Lookup is safe for
// concurrent reads afterwards. Hot reload replaces the whole Registry
// atomically; specs never change mid-flight.
type Registry struct {
	mu         sync.RWMutex
	frozen     bool
	entities   map[string]*EntitySpec
	transforms map[string]bool
}

// NewRegistry creates an empty registry. transformNames lists the derived
// transforms the executor knows; derived specs referencing anything else
// fail registration.
func NewRegistry(transformNames []string) *Registry {
	known := make(map[string]bool, len(transformNames))
	for _, n := range transformNames {
		known[n] = true
	}
	return &Registry{
		entities:   make(map[string]*EntitySpec),
		transforms: known,
	}
}

// Register validates and installs an entity spec. All-or-nothing: any
// defect rejects the whole spec, and every defect is reported in one
// Errors value rather than failing on the first.
func (r *Registry) Register(spec *EntitySpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return Errors{{Code: ErrRegistryFrozen, Entity: spec.Name,
			Message: "registry is frozen; build a new registry to reload schemas"}}
	}
	if _, exists := r.entities[spec.Name]; exists {
		return Errors{{Code: ErrDuplicateEntity, Entity: spec.Name,
			Message: "entity type already registered"}}
	}

	if errs := r.validate(spec); len(errs) > 0 {
		return errs
	}

	spec.index()
	r.entities[spec.Name] = spec
	return nil
}

// Freeze seals the registry. Lookup is concurrent-read-safe afterwards;
// further Register calls fail with ErrRegistryFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been sealed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the schema descriptor for an entity type.
func (r *Registry) Lookup(entity string) (*EntitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.entities[entity]
	return spec, ok
}

// Entities returns the registered entity type names, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for n := range r.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// validate collects every defect in the spec. Called with r.mu held.
func (r *Registry) validate(spec *EntitySpec) Errors {
	var errs Errors

	attrNames := make(map[string]bool, len(spec.Attributes))
	for _, a := range spec.Attributes {
		if attrNames[a.Name] {
			errs = append(errs, Error{Code: ErrDuplicateAttribute, Entity: spec.Name,
				Attribute: a.Name, Message: "attribute declared twice"})
			continue
		}
		attrNames[a.Name] = true

		if !ValidSemanticTypes[a.Type] {
			errs = append(errs, Error{Code: ErrUnknownSemanticType, Entity: spec.Name,
				Attribute: a.Name, Message: fmt.Sprintf("unknown semantic type %q", a.Type)})
		}
	}

	for _, a := range spec.Attributes {
		for _, c := range a.Constraints {
			errs = append(errs, validateConstraint(spec.Name, a.Name, c, attrNames)...)
		}
	}

	errs = append(errs, validateCompositeKeys(spec)...)
	errs = append(errs, r.validateDerived(spec, attrNames)...)
	return errs
}

// validateCompositeKeys checks that every composite unique key spans at
// least two attributes. Members sharing a composite ID are validated
// jointly by the evaluator, so a one-member "composite" is a schema bug.
func validateCompositeKeys(spec *EntitySpec) Errors {
	members := make(map[string][]string)
	var order []string
	for _, a := range spec.Attributes {
		for _, c := range a.Constraints {
			if c.Kind != ConstraintUnique || c.CompositeID == "" {
				continue
			}
			if _, seen := members[c.CompositeID]; !seen {
				order = append(order, c.CompositeID)
			}
			members[c.CompositeID] = append(members[c.CompositeID], a.Name)
		}
	}

	var errs Errors
	for _, id := range order {
		if len(members[id]) < 2 {
			errs = append(errs, Error{Code: ErrCompositeTooSmall, Entity: spec.Name,
				Attribute: members[id][0],
				Message:   fmt.Sprintf("composite unique key %q references fewer than two attributes", id)})
		}
	}
	return errs
}

// validateConstraint checks one constraint spec against the attribute set.
func validateConstraint(entity, attr string, c ConstraintSpec, attrs map[string]bool) Errors {
	var errs Errors

	switch c.Kind {
	case ConstraintRange:
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			errs = append(errs, Error{Code: ErrRangeInverted, Entity: entity, Attribute: attr,
				Message: fmt.Sprintf("min %v > max %v makes every value invalid", *c.Min, *c.Max)})
		}

	case ConstraintPattern:
		if _, err := regexp.Compile(c.Pattern); err != nil {
			errs = append(errs, Error{Code: ErrBadPattern, Entity: entity, Attribute: attr,
				Message: fmt.Sprintf("pattern %q: %v", c.Pattern, err)})
		}

	case ConstraintEnum:
		if len(c.Enum) == 0 {
			errs = append(errs, Error{Code: ErrEnumEmpty, Entity: entity, Attribute: attr,
				Message: "enum constraint with no allowed values"})
		}

	case ConstraintTimeRange:
		for _, k := range []string{c.StartAttr, c.EndAttr} {
			if !attrs[k] {
				errs = append(errs, Error{Code: ErrUnknownAttribute, Entity: entity, Attribute: attr,
					Message: fmt.Sprintf("time-range references unknown attribute %q", k)})
			}
		}

	case ConstraintScript:
		if c.Script == "" {
			errs = append(errs, Error{Code: ErrScriptEmpty, Entity: entity, Attribute: attr,
				Message: "script constraint with empty body"})
		}
		for _, u := range c.Uses {
			if !attrs[u.Attr] {
				errs = append(errs, Error{Code: ErrUnknownAttribute, Entity: entity, Attribute: attr,
					Message: fmt.Sprintf("script use references unknown attribute %q", u.Attr)})
			}
		}
	}

	return errs
}

// validateDerived checks derived specs: reference integrity, transform
// names, and dependency cycles between derived targets.
func (r *Registry) validateDerived(spec *EntitySpec, attrs map[string]bool) Errors {
	var errs Errors

	for _, d := range spec.Derived {
		if !attrs[d.Target] {
			errs = append(errs, Error{Code: ErrUnknownAttribute, Entity: spec.Name,
				Attribute: d.Target, Message: "derived target is not a declared attribute"})
		}
		if d.PartitionKey == "" || len(d.SortKeys) == 0 {
			errs = append(errs, Error{Code: ErrMissingPartition, Entity: spec.Name,
				Attribute: d.Target, Message: "derived field needs a partition key and at least one sort key"})
		}
		refs := make([]string, 0, len(d.DependsOn)+1+len(d.SortKeys))
		refs = append(refs, d.DependsOn...)
		if d.PartitionKey != "" {
			refs = append(refs, d.PartitionKey)
		}
		refs = append(refs, d.SortKeys...)
		if d.Source != "" {
			refs = append(refs, d.Source)
		}
		for _, ref := range refs {
			if !attrs[ref] {
				errs = append(errs, Error{Code: ErrUnknownAttribute, Entity: spec.Name,
					Attribute: d.Target, Message: fmt.Sprintf("derived field references unknown attribute %q", ref)})
			}
		}
		if !r.transforms[d.Transform] {
			errs = append(errs, Error{Code: ErrUnknownTransform, Entity: spec.Name,
				Attribute: d.Target, Message: fmt.Sprintf("unknown transform %q", d.Transform)})
		}
	}

	errs = append(errs, detectDerivedCycles(spec)...)
	return errs
}

// detectDerivedCycles finds dependency cycles among derived fields.
//
// A derived field may depend on another derived field's target; a cycle
// between them would make recomputation order undefined, so unlike
// cross-rule cycles in a workflow engine this is an error, not a warning.
func detectDerivedCycles(spec *EntitySpec) Errors {
	derivedBy := make(map[string][]string, len(spec.Derived)) // target -> deps that are derived
	isDerived := make(map[string]bool, len(spec.Derived))
	for _, d := range spec.Derived {
		isDerived[d.Target] = true
	}
	for _, d := range spec.Derived {
		for _, dep := range d.DependsOn {
			if isDerived[dep] {
				derivedBy[d.Target] = append(derivedBy[d.Target], dep)
			}
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(derivedBy))

	var errs Errors
	var visit func(n string)
	visit = func(n string) {
		color[n] = grey
		for _, dep := range derivedBy[n] {
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				errs = append(errs, Error{Code: ErrDerivedCycle, Entity: spec.Name, Attribute: n,
					Message: fmt.Sprintf("derived fields form a dependency cycle via %q", dep)})
			}
		}
		color[n] = black
	}

	// Deterministic traversal order: declaration order of derived specs.
	for _, d := range spec.Derived {
		if color[d.Target] == white {
			visit(d.Target)
		}
	}
	return errs
}
