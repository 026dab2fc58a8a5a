package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// isJSON reports whether data should be decoded as JSON: a .json extension,
// or any other extension with a document that starts with '{'.
func isJSON(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return true
	case ".yaml", ".yml":
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	if isJSON(path, data) {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	v, err := stringKeys("", v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// stringKeys rejects non-string mapping keys (e.g. `4455: x`), which have no
// meaning in this config.
func stringKeys(at string, in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := stringKeys(join(at, k), v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		for k := range x {
			if _, ok := k.(string); !ok {
				return nil, fmt.Errorf("yaml: %s: key %v is not a string", orRoot(at), k)
			}
		}
		m := make(map[string]any, len(x))
		for k, v := range x {
			nv, err := stringKeys(join(at, k.(string)), v)
			if err != nil {
				return nil, err
			}
			m[k.(string)] = nv
		}
		return m, nil
	case []any:
		for i := range x {
			nv, err := stringKeys(fmt.Sprintf("%s[%d]", orRoot(at), i), x[i])
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	}
	return in, nil
}

func join(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}
