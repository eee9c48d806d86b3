package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// loadFile reads one document and returns its text content. JSON files
// are flattened into "key: value" lines so their content is searchable
// with the same keyword scoring as plain text.
func loadFile(path, ext string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if ext != ".json" {
		return string(raw), nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	var b strings.Builder
	flattenJSON("", data, &b)
	return b.String(), nil
}

// flattenJSON renders nested JSON as indented "key: value" text.
// Object keys are sorted so reloads produce identical chunks.
func flattenJSON(prefix string, v any, b *strings.Builder) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenJSON(key, val[k], b)
		}
	case []any:
		for i, item := range val {
			flattenJSON(fmt.Sprintf("%s[%d]", prefix, i), item, b)
		}
	default:
		if prefix == "" {
			fmt.Fprintf(b, "%v\n", val)
		} else {
			fmt.Fprintf(b, "%s: %v\n", prefix, val)
		}
	}
}
