package placeholder

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Value is a placeholder value: a single string or an ordered list of
// strings. The zero value is the empty scalar.
type Value struct {
	scalar string
	items  []string
	isList bool
}

// String builds a scalar value.
func String(s string) Value {
	return Value{scalar: s}
}

// List builds a list value. An empty list is a valid value and renders to an
// empty block.
func List(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{items: items, isList: true}
}

// IsList reports whether the value is the list variant.
func (v Value) IsList() bool {
	return v.isList
}

// Scalar returns the scalar content. Empty for list values.
func (v Value) Scalar() string {
	return v.scalar
}

// Items returns the list content. Nil for scalar values.
func (v Value) Items() []string {
	return v.items
}

// UnmarshalJSON accepts a JSON string or an array of strings. Anything else
// is rejected so malformed submissions fail before a job exists.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return fmt.Errorf("placeholder value must be a string or a list of strings")
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = String(s)
		return nil
	}

	var items []*string
	if err := json.Unmarshal(data, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item == nil {
				return fmt.Errorf("placeholder value must be a string or a list of strings")
			}
			out = append(out, *item)
		}
		*v = List(out...)
		return nil
	}

	return fmt.Errorf("placeholder value must be a string or a list of strings")
}

// MarshalJSON emits the underlying string or list.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isList {
		return json.Marshal(v.items)
	}
	return json.Marshal(v.scalar)
}

// UnmarshalYAML accepts a YAML scalar or a sequence of scalars, so data
// files for the render command read naturally.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = String(node.Value)
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("placeholder list entries must be scalars")
			}
			items = append(items, item.Value)
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("placeholder value must be a scalar or a sequence")
	}
}
