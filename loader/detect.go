// Package loader reads editor configurations from JSON or YAML documents,
// validates them, and keeps an engine in step with a configuration file.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the document format. The file extension wins
// (.yaml/.yml -> YAML, .json -> JSON); otherwise a document starting with
// '{' is JSON and anything else is YAML.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// FormatFromContentType maps an HTTP Content-Type to a format.
func FormatFromContentType(contentType string) (Format, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch mediaType {
	case "application/json":
		return FormatJSON, true
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return FormatYAML, true
	}
	return "", false
}

// DetectSchema checks that data is an editor configuration: a mapping with
// a portTypes or nodeTypes key. It returns the format it parsed with.
func DetectSchema(data []byte, path string) (Format, error) {
	format := DetectFormat(path, data)
	jsonData, err := toJSON(data, format)
	if err != nil {
		return "", err
	}
	var raw map[string]any
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}
	if !hasKey(raw, "portTypes") && !hasKey(raw, "nodeTypes") {
		return "", fmt.Errorf("unable to detect configuration: document has neither portTypes nor nodeTypes")
	}
	return format, nil
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// toJSON returns data as JSON. YAML goes through any so the typed decode
// always sees JSON.
func toJSON(data []byte, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yamlToJSON(data)
	}
	return data, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
