package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes lets YAML config files share the strict JSON decoder
// (DisallowUnknownFields). Non-YAML paths pass through untouched.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// stringifyKeys rewrites YAML's map[any]any nodes into map[string]any so the
// tree is JSON-marshalable.
func stringifyKeys(node any) any {
	switch v := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = stringifyKeys(item)
		}
		return out
	case map[string]any:
		for k, item := range v {
			v[k] = stringifyKeys(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = stringifyKeys(item)
		}
		return v
	default:
		return node
	}
}
