package avro

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func equivalentSchemas(a, b string) (bool, error) {
	na, err := normalizeSchemaJSON(a)
	if err != nil {
		return false, err
	}
	nb, err := normalizeSchemaJSON(b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

// normalizeSchemaJSON re-marshals a schema with record fields and union
// branches sorted so that equivalent schemas compare equal as strings.
func normalizeSchemaJSON(schemaJSON string) (string, error) {
	var s any
	if err := json.Unmarshal([]byte(schemaJSON), &s); err != nil {
		return "", fmt.Errorf("failed to parse schema JSON: %w", err)
	}
	out, err := json.Marshal(normalize(s))
	if err != nil {
		return "", fmt.Errorf("failed to marshal normalized schema: %w", err)
	}
	return string(out), nil
}

func normalize(s any) any {
	switch v := s.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = normalize(x)
		}
		if fields, ok := out["fields"].([]any); ok {
			sort.SliceStable(fields, func(i, j int) bool {
				return fieldName(fields[i]) < fieldName(fields[j])
			})
		}
		if union, ok := out["type"].([]any); ok {
			sortUnion(union)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = normalize(x)
		}
		return out
	default:
		return v
	}
}

func fieldName(f any) string {
	m, _ := f.(map[string]any)
	name, _ := m["name"].(string)
	return name
}

func sortUnion(u []any) {
	sort.SliceStable(u, func(i, j int) bool {
		return fmt.Sprint(u[i]) < fmt.Sprint(u[j])
	})
}
