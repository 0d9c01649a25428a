package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Type is the declared JSON type of a schema node.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeAny     Type = "any"
)

// Schema describes the target output shape of a plan. It is a small subset of
// JSON Schema: enough for the planner to declare fields and types and for the
// validator to report the first mismatch.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

var knownTypes = map[Type]bool{
	TypeObject: true, TypeArray: true, TypeString: true, TypeInteger: true,
	TypeNumber: true, TypeBoolean: true, TypeNull: true, TypeAny: true,
}

// aliases accepted from the planner; normalized by Check.
var typeAliases = map[string]Type{
	"int":   TypeInteger,
	"float": TypeNumber,
	"bool":  TypeBoolean,
	"str":   TypeString,
	"list":  TypeArray,
	"dict":  TypeObject,
}

// Check verifies that the schema is well formed and normalizes type aliases
// in place. A nil schema is rejected.
func Check(s *Schema) error {
	return check(s, "$")
}

func check(s *Schema, path string) error {
	if s == nil {
		return fmt.Errorf("%s: schema is missing", path)
	}
	t := Type(strings.ToLower(strings.TrimSpace(string(s.Type))))
	if alias, ok := typeAliases[string(t)]; ok {
		t = alias
	}
	if t == "" {
		t = TypeAny
	}
	if !knownTypes[t] {
		return fmt.Errorf("%s: unknown type %q", path, s.Type)
	}
	s.Type = t

	switch t {
	case TypeObject:
		for _, name := range s.Required {
			if _, ok := s.Properties[name]; !ok {
				return fmt.Errorf("%s: required property %q is not declared", path, name)
			}
		}
		for _, name := range sortedKeys(s.Properties) {
			if err := check(s.Properties[name], path+"."+name); err != nil {
				return err
			}
		}
	case TypeArray:
		if s.Items != nil {
			if err := check(s.Items, path+"[]"); err != nil {
				return err
			}
		}
	default:
		if len(s.Properties) > 0 || s.Items != nil {
			return fmt.Errorf("%s: %s cannot declare properties or items", path, t)
		}
	}
	return nil
}

// String renders a compact, human readable signature such as
// {answer: integer, labels: [string]}. Used in prompts and diagnostics.
func (s *Schema) String() string {
	if s == nil {
		return "any"
	}
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *Schema) write(b *strings.Builder) {
	switch s.Type {
	case TypeObject:
		b.WriteString("{")
		for i, name := range sortedKeys(s.Properties) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			if !s.isRequired(name) {
				b.WriteString("?")
			}
			b.WriteString(": ")
			s.Properties[name].write(b)
		}
		b.WriteString("}")
	case TypeArray:
		b.WriteString("[")
		if s.Items != nil {
			s.Items.write(b)
		} else {
			b.WriteString("any")
		}
		b.WriteString("]")
	default:
		b.WriteString(string(s.Type))
	}
	if s.Nullable {
		b.WriteString("|null")
	}
}

func (s *Schema) isRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
