// Copyright 2026 The Lava Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema validates action parameters against a declared shape.
//
// Every action publishes an [Object] describing the parameters it
// accepts: a typed property set, per-property optionality and
// defaults, and whether unknown properties are tolerated. The job
// loader binds raw JSON parameters against the schema before any
// device is touched, so a malformed job fails while it is still just
// a file.
//
// The dialect is deliberately small. Four value types cover every
// action the dispatcher ships, and optionality lives on the property
// itself rather than in a separate required list:
//
//	var bootSchema = &schema.Object{
//		Properties: map[string]schema.Property{
//			"options":  {Type: schema.TypeStringList, Optional: true},
//			"adb_check": {Type: schema.TypeBool, Optional: true, Default: false},
//		},
//	}
package schema

import (
	"fmt"
	"sort"

	"github.com/bwenstar/lava/lib/fault"
)

// Type identifies the value type of a property.
type Type string

const (
	TypeString     Type = "string"
	TypeBool       Type = "bool"
	TypeInteger    Type = "integer"
	TypeStringList Type = "string-list"
)

// Property describes a single parameter.
type Property struct {
	// Type is the required value type.
	Type Type

	// Optional properties may be absent from the parameter set.
	// Non-optional properties missing from the input fail binding.
	Optional bool

	// Default is substituted when an optional property is absent.
	// A nil Default means the property is simply left unset.
	Default any
}

// Object describes the full parameter set of an action.
type Object struct {
	// Properties maps parameter names to their descriptions.
	Properties map[string]Property

	// AdditionalProperties, when true, permits parameters beyond
	// those declared. When false any unknown parameter fails
	// binding.
	AdditionalProperties bool
}

// Params is a bound parameter set: validated, defaults applied, values
// normalized to their Go types (string, bool, int, []string).
type Params map[string]any

// Has reports whether the parameter is present.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// String returns the named string parameter, or "" when absent.
func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// Bool returns the named bool parameter, or false when absent.
func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// Int returns the named integer parameter, or 0 when absent.
func (p Params) Int(name string) int {
	v, _ := p[name].(int)
	return v
}

// StringList returns the named string-list parameter, or nil when
// absent.
func (p Params) StringList(name string) []string {
	v, _ := p[name].([]string)
	return v
}

// Bind validates raw parameters against the object and returns the
// normalized set. All violations are collected before failing, so one
// pass over the job reports every problem; the returned error is a
// [fault.ValidationError] naming the given subject.
//
// A nil Object performs no validation and returns an empty set,
// matching actions that declare no parameters.
func (o *Object) Bind(subject string, raw map[string]any) (Params, error) {
	params := Params{}
	if o == nil {
		return params, nil
	}

	var issues []string

	// Deterministic order keeps error output stable.
	names := make([]string, 0, len(o.Properties))
	for name := range o.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		property := o.Properties[name]
		value, present := raw[name]
		if !present {
			if !property.Optional {
				issues = append(issues, fmt.Sprintf("missing required property %q", name))
				continue
			}
			if property.Default != nil {
				normalized, err := normalize(property.Type, property.Default)
				if err != nil {
					issues = append(issues, fmt.Sprintf("property %q: default %s", name, err))
					continue
				}
				params[name] = normalized
			}
			continue
		}
		normalized, err := normalize(property.Type, value)
		if err != nil {
			issues = append(issues, fmt.Sprintf("property %q: %s", name, err))
			continue
		}
		params[name] = normalized
	}

	var unknown []string
	for name := range raw {
		if _, declared := o.Properties[name]; !declared {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		if o.AdditionalProperties {
			params[name] = raw[name]
		} else {
			issues = append(issues, fmt.Sprintf("unknown property %q", name))
		}
	}

	if len(issues) > 0 {
		return nil, fault.Validation(subject, issues)
	}
	return params, nil
}

// normalize checks that value matches the declared type and converts
// it to the canonical Go representation. JSON decoding produces
// float64 for numbers and []any for arrays; both are accepted here
// alongside the native Go types used by tests and defaults.
func normalize(propertyType Type, value any) (any, error) {
	switch propertyType {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil

	case TypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return b, nil

	case TypeInteger:
		switch number := value.(type) {
		case int:
			return number, nil
		case int64:
			return int(number), nil
		case float64:
			if number != float64(int(number)) {
				return nil, fmt.Errorf("expected integer, got %v", number)
			}
			return int(number), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}

	case TypeStringList:
		switch list := value.(type) {
		case []string:
			return append([]string(nil), list...), nil
		case []any:
			strings := make([]string, 0, len(list))
			for index, element := range list {
				s, ok := element.(string)
				if !ok {
					return nil, fmt.Errorf("element %d: expected string, got %T", index, element)
				}
				strings = append(strings, s)
			}
			return strings, nil
		default:
			return nil, fmt.Errorf("expected string list, got %T", value)
		}

	default:
		return nil, fmt.Errorf("unsupported property type %q", propertyType)
	}
}
