package schema

import "encoding/json"

// Example builds a placeholder document shaped like s: "default" for strings,
// 0 for numbers, false for booleans and a single representative element for
// arrays. Prompts show it to the code generator as the target layout.
func Example(s *Schema) any {
	if s == nil {
		return "default"
	}
	switch s.Type {
	case TypeObject:
		out := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			out[name] = Example(p)
		}
		return out
	case TypeArray:
		return []any{Example(s.Items)}
	case TypeInteger, TypeNumber:
		return 0
	case TypeBoolean:
		return false
	case TypeNull:
		return nil
	default:
		return "default"
	}
}

// ExampleJSON is Example rendered as JSON. Map keys are sorted by encoding/json.
func ExampleJSON(s *Schema) string {
	b, err := json.Marshal(Example(s))
	if err != nil {
		return "{}"
	}
	return string(b)
}
