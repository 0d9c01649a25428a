package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Violation describes the first place where a document departs from its schema.
type Violation struct {
	Path     string
	Expected string
	Got      string
	Message  string
}

func (v *Violation) Error() string {
	if v.Message != "" {
		return fmt.Sprintf("%s: %s", v.Path, v.Message)
	}
	return fmt.Sprintf("%s: expected %s, got %s", v.Path, v.Expected, v.Got)
}

// Decode parses raw JSON keeping numbers as json.Number so integers and
// floats stay distinguishable. Trailing data after the first value is an error.
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("document is empty")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the JSON value")
	}
	return v, nil
}

// Validate parses raw and checks it against s. It returns nil when the
// document fully matches, otherwise the first violation found. Properties are
// visited in a stable order so the same document always yields the same
// diagnostic.
func Validate(s *Schema, raw []byte) *Violation {
	v, err := Decode(raw)
	if err != nil {
		return &Violation{Path: "$", Message: "output is not valid JSON: " + err.Error()}
	}
	return ValidateValue(s, v)
}

// ValidateValue checks an already decoded value (decoded with UseNumber).
func ValidateValue(s *Schema, v any) *Violation {
	return validate(s, v, "$")
}

func validate(s *Schema, v any, path string) *Violation {
	if s == nil || s.Type == TypeAny {
		return nil
	}
	if v == nil {
		if s.Nullable || s.Type == TypeNull {
			return nil
		}
		return mismatch(path, s.Type, v)
	}

	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, s.Type, v)
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				return &Violation{
					Path:     path + "." + name,
					Expected: string(s.Properties[name].typeOrAny()),
					Got:      "missing",
					Message:  fmt.Sprintf("required field %q is missing", name),
				}
			}
		}
		for _, name := range sortedKeys(s.Properties) {
			val, ok := obj[name]
			if !ok {
				continue
			}
			if viol := validate(s.Properties[name], val, path+"."+name); viol != nil {
				return viol
			}
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return mismatch(path, s.Type, v)
		}
		for i, item := range arr {
			if viol := validate(s.Items, item, path+"["+strconv.Itoa(i)+"]"); viol != nil {
				return viol
			}
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return mismatch(path, s.Type, v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch(path, s.Type, v)
		}
	case TypeNumber:
		if _, ok := v.(json.Number); !ok {
			return mismatch(path, s.Type, v)
		}
	case TypeInteger:
		n, ok := v.(json.Number)
		if !ok || !isInteger(n) {
			return mismatch(path, s.Type, v)
		}
	case TypeNull:
		return mismatch(path, s.Type, v)
	}
	return nil
}

func (s *Schema) typeOrAny() Type {
	if s == nil {
		return TypeAny
	}
	return s.Type
}

func mismatch(path string, want Type, v any) *Violation {
	return &Violation{Path: path, Expected: string(want), Got: describe(v)}
}

// isInteger looks at the literal, not its range: 1e3 and 4.0 are numbers,
// while integers wider than int64 still count.
func isInteger(n json.Number) bool {
	return n != "" && !strings.ContainsAny(string(n), ".eE")
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		if isInteger(x) {
			return "integer"
		}
		return "number"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
