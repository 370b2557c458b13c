package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/irmahq/irma/internal/schema"
)

// CompileEntities parses every entity definition under the "entity"
// struct of a CUE value, in declaration order.
//
// The CUE value is the instance root, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: book: { ... }`)
//	specs, err := CompileEntities(v)
func CompileEntities(v cue.Value) ([]*schema.EntitySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entityVal := v.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "no entity definitions found",
			Pos:     v.Pos(),
		}
	}

	iter, err := entityVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []*schema.EntitySpec
	for iter.Next() {
		spec, err := CompileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// CompileEntity parses one entity struct into an EntitySpec. Attribute
// order follows CUE declaration order, which the registry preserves for
// deterministic validation ordering.
func CompileEntity(name string, v cue.Value) (*schema.EntitySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &schema.EntitySpec{Name: name}

	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("entity.%s.attributes", name),
			Message: "attributes are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		attr, err := parseAttribute(name, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Attributes = append(spec.Attributes, attr)
	}

	if err := parseEntityConstraints(name, v, spec); err != nil {
		return nil, err
	}

	derived, err := parseDerived(name, v)
	if err != nil {
		return nil, err
	}
	spec.Derived = derived

	return spec, nil
}

// parseAttribute parses one attribute definition: its semantic type plus
// the inline constraint options (min/max, pattern, values, unique).
func parseAttribute(entity, name string, v cue.Value) (schema.AttributeDef, error) {
	attr := schema.AttributeDef{Name: name, Nullable: true}
	field := func(opt string) string {
		return fmt.Sprintf("entity.%s.attributes.%s.%s", entity, name, opt)
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return attr, &CompileError{
			Field:   field("type"),
			Message: "type is required",
			Pos:     v.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return attr, formatCUEError(err)
	}
	attr.Type = schema.SemanticType(typeName)

	if required, ok, err := boolOpt(v, "required"); err != nil {
		return attr, err
	} else if ok {
		attr.Nullable = !required
	}
	if label, _, err := boolOpt(v, "label"); err != nil {
		return attr, err
	} else {
		attr.IsLabel = label
	}
	if secondary, _, err := boolOpt(v, "secondary_label"); err != nil {
		return attr, err
	} else {
		attr.IsSecondaryLabel = secondary
	}

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if targetVal.Exists() {
		target, err := targetVal.String()
		if err != nil {
			return attr, formatCUEError(err)
		}
		attr.Target = target
	}

	defVal := v.LookupPath(cue.ParsePath("default"))
	if defVal.Exists() {
		d, err := scalarValue(attr.Type, defVal)
		if err != nil {
			return attr, &CompileError{
				Field:   field("default"),
				Message: err.Error(),
				Pos:     defVal.Pos(),
			}
		}
		attr.Default = d
	}

	// Range bounds: min and/or max.
	var min, max *float64
	if f, ok, err := floatOpt(v, "min"); err != nil {
		return attr, err
	} else if ok {
		min = &f
	}
	if f, ok, err := floatOpt(v, "max"); err != nil {
		return attr, err
	} else if ok {
		max = &f
	}
	if min != nil || max != nil {
		attr.Constraints = append(attr.Constraints, schema.ConstraintSpec{
			Kind: schema.ConstraintRange, Min: min, Max: max,
		})
	}

	patVal := v.LookupPath(cue.ParsePath("pattern"))
	if patVal.Exists() {
		pat, err := patVal.String()
		if err != nil {
			return attr, formatCUEError(err)
		}
		attr.Constraints = append(attr.Constraints, schema.ConstraintSpec{
			Kind: schema.ConstraintPattern, Pattern: pat,
		})
	}

	valuesVal := v.LookupPath(cue.ParsePath("values"))
	if valuesVal.Exists() {
		members, err := stringList(valuesVal)
		if err != nil {
			return attr, err
		}
		attr.Constraints = append(attr.Constraints, schema.ConstraintSpec{
			Kind: schema.ConstraintEnum, Enum: members,
		})
	}

	// unique: true (single column) or unique: "key-id" (composite member).
	uniqueVal := v.LookupPath(cue.ParsePath("unique"))
	if uniqueVal.Exists() {
		if id, err := uniqueVal.String(); err == nil {
			attr.Constraints = append(attr.Constraints, schema.ConstraintSpec{
				Kind: schema.ConstraintUnique, CompositeID: id,
			})
		} else if u, err := uniqueVal.Bool(); err == nil {
			if u {
				attr.Constraints = append(attr.Constraints, schema.ConstraintSpec{
					Kind: schema.ConstraintUnique,
				})
			}
		} else {
			return attr, &CompileError{
				Field:   field("unique"),
				Message: "must be a bool or a composite key id string",
				Pos:     uniqueVal.Pos(),
			}
		}
	}

	return attr, nil
}

// parseEntityConstraints parses the entity-level constraints block:
// composite unique sugar, time ranges, and script checks. Each resolved
// constraint is attached to the attribute it reports against.
func parseEntityConstraints(entity string, v cue.Value, spec *schema.EntitySpec) error {
	consVal := v.LookupPath(cue.ParsePath("constraints"))
	if !consVal.Exists() {
		return nil
	}

	// unique: [["a", "b"], ...] - each group becomes a composite key.
	uniqueVal := consVal.LookupPath(cue.ParsePath("unique"))
	if uniqueVal.Exists() {
		groups, err := uniqueVal.List()
		if err != nil {
			return formatCUEError(err)
		}
		for n := 1; groups.Next(); n++ {
			members, err := stringList(groups.Value())
			if err != nil {
				return err
			}
			id := fmt.Sprintf("u%d", n)
			for _, m := range members {
				if err := attachConstraint(entity, spec, m, schema.ConstraintSpec{
					Kind: schema.ConstraintUnique, CompositeID: id,
				}, uniqueVal.Pos()); err != nil {
					return err
				}
			}
		}
	}

	// time_range: [{start: "a", end: "b"}, ...]
	trVal := consVal.LookupPath(cue.ParsePath("time_range"))
	if trVal.Exists() {
		ranges, err := trVal.List()
		if err != nil {
			return formatCUEError(err)
		}
		for ranges.Next() {
			rv := ranges.Value()
			start, err := rv.LookupPath(cue.ParsePath("start")).String()
			if err != nil {
				return formatCUEError(err)
			}
			end, err := rv.LookupPath(cue.ParsePath("end")).String()
			if err != nil {
				return formatCUEError(err)
			}
			if err := attachConstraint(entity, spec, start, schema.ConstraintSpec{
				Kind: schema.ConstraintTimeRange, StartAttr: start, EndAttr: end,
			}, rv.Pos()); err != nil {
				return err
			}
		}
	}

	// checks: [{attr: "price", script: "...", uses: [...]}, ...]
	checksVal := consVal.LookupPath(cue.ParsePath("checks"))
	if checksVal.Exists() {
		checks, err := checksVal.List()
		if err != nil {
			return formatCUEError(err)
		}
		for checks.Next() {
			cv := checks.Value()
			attr, err := cv.LookupPath(cue.ParsePath("attr")).String()
			if err != nil {
				return formatCUEError(err)
			}
			script, err := cv.LookupPath(cue.ParsePath("script")).String()
			if err != nil {
				return formatCUEError(err)
			}
			cons := schema.ConstraintSpec{Kind: schema.ConstraintScript, Script: script}

			usesVal := cv.LookupPath(cue.ParsePath("uses"))
			if usesVal.Exists() {
				uses, err := usesVal.List()
				if err != nil {
					return formatCUEError(err)
				}
				for uses.Next() {
					ref, err := parseScriptRef(uses.Value())
					if err != nil {
						return err
					}
					cons.Uses = append(cons.Uses, ref)
				}
			}

			if err := attachConstraint(entity, spec, attr, cons, cv.Pos()); err != nil {
				return err
			}
		}
	}

	return nil
}

// parseScriptRef parses one related-record binding of a script check.
func parseScriptRef(v cue.Value) (schema.ScriptRef, error) {
	var ref schema.ScriptRef

	attr, err := v.LookupPath(cue.ParsePath("attr")).String()
	if err != nil {
		return ref, formatCUEError(err)
	}
	ref.Attr = attr

	entity, err := v.LookupPath(cue.ParsePath("entity")).String()
	if err != nil {
		return ref, formatCUEError(err)
	}
	ref.Entity = entity

	asVal := v.LookupPath(cue.ParsePath("as"))
	if asVal.Exists() {
		as, err := asVal.String()
		if err != nil {
			return ref, formatCUEError(err)
		}
		ref.As = as
	}

	return ref, nil
}

// parseDerived parses the derived block: one ordered-partition transform
// per derived attribute.
func parseDerived(entity string, v cue.Value) ([]schema.DerivedSpec, error) {
	derivedVal := v.LookupPath(cue.ParsePath("derived"))
	if !derivedVal.Exists() {
		return nil, nil
	}

	iter, err := derivedVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []schema.DerivedSpec
	for iter.Next() {
		target := iter.Label()
		dv := iter.Value()
		field := func(opt string) string {
			return fmt.Sprintf("entity.%s.derived.%s.%s", entity, target, opt)
		}

		ds := schema.DerivedSpec{Target: target}

		deps, err := requiredStringList(dv, "depends_on", field("depends_on"))
		if err != nil {
			return nil, err
		}
		ds.DependsOn = deps

		partVal := dv.LookupPath(cue.ParsePath("partition_by"))
		if !partVal.Exists() {
			return nil, &CompileError{
				Field:   field("partition_by"),
				Message: "partition_by is required",
				Pos:     dv.Pos(),
			}
		}
		if ds.PartitionKey, err = partVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		order, err := requiredStringList(dv, "order_by", field("order_by"))
		if err != nil {
			return nil, err
		}
		ds.SortKeys = order

		transformVal := dv.LookupPath(cue.ParsePath("transform"))
		if !transformVal.Exists() {
			return nil, &CompileError{
				Field:   field("transform"),
				Message: "transform is required",
				Pos:     dv.Pos(),
			}
		}
		if ds.Transform, err = transformVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		sourceVal := dv.LookupPath(cue.ParsePath("source"))
		if sourceVal.Exists() {
			if ds.Source, err = sourceVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		specs = append(specs, ds)
	}
	return specs, nil
}

// attachConstraint appends a constraint to a named attribute, failing
// with a positioned error when the attribute does not exist.
func attachConstraint(entity string, spec *schema.EntitySpec, attr string, cons schema.ConstraintSpec, pos token.Pos) error {
	for i := range spec.Attributes {
		if spec.Attributes[i].Name == attr {
			spec.Attributes[i].Constraints = append(spec.Attributes[i].Constraints, cons)
			return nil
		}
	}
	return &CompileError{
		Field:   fmt.Sprintf("entity.%s.constraints", entity),
		Message: fmt.Sprintf("unknown attribute %q", attr),
		Pos:     pos,
	}
}

// scalarValue converts a concrete CUE scalar to the value for a semantic
// type. Used for attribute defaults.
func scalarValue(t schema.SemanticType, v cue.Value) (schema.Value, error) {
	if v.Null() == nil {
		return schema.Null{}, nil
	}
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		if t == schema.TypeDate {
			return schema.ParseTime(s)
		}
		return schema.String(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		if t == schema.TypeNumber {
			return schema.Float(i), nil
		}
		return schema.Int(i), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return schema.Float(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return schema.Bool(b), nil
	default:
		return nil, fmt.Errorf("unsupported default kind %v", v.Kind())
	}
}

// boolOpt reads an optional bool field.
func boolOpt(v cue.Value, name string) (val, ok bool, err error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return false, false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, false, formatCUEError(err)
	}
	return b, true, nil
}

// floatOpt reads an optional numeric field.
func floatOpt(v cue.Value, name string) (val float64, ok bool, err error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return 0, false, nil
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return f, true, nil
}

// stringList reads a CUE list of strings.
func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// requiredStringList reads a required list-of-strings field.
func requiredStringList(v cue.Value, name, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil, &CompileError{
			Field:   field,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	return stringList(fv)
}
