package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// extraKeys returns the object keys in data that are not in known.
func extraKeys(data []byte, known map[string]bool) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var extra map[string]any
	for k, v := range raw {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}

// mergeExtra encodes v and adds the passthrough keys that v does not set itself.
func mergeExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, exists := out[k]; !exists {
			out[k] = val
		}
	}
	return json.Marshal(out)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
