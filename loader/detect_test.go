package loader

import (
	"encoding/json"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want Format
	}{
		{name: "yaml extension", path: "editor.yaml", data: `{"portTypes": []}`, want: FormatYAML},
		{name: "yml extension", path: "EDITOR.YML", data: "portTypes: []", want: FormatYAML},
		{name: "json extension", path: "editor.json", data: "portTypes: []", want: FormatJSON},
		{name: "sniffed json", path: "", data: "\n  {\"nodeTypes\": []}", want: FormatJSON},
		{name: "sniffed yaml", path: "editor.conf", data: "nodeTypes: []", want: FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.path, []byte(tt.data)); got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        Format
		wantOK      bool
	}{
		{contentType: "application/json", want: FormatJSON, wantOK: true},
		{contentType: "application/json; charset=utf-8", want: FormatJSON, wantOK: true},
		{contentType: "application/yaml", want: FormatYAML, wantOK: true},
		{contentType: "text/x-yaml", want: FormatYAML, wantOK: true},
		{contentType: "text/plain"},
		{contentType: ""},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, ok := FormatFromContentType(tt.contentType)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("FormatFromContentType(%q) = %q, %v, want %q, %v", tt.contentType, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDetectSchema(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    string
		want    Format
		wantErr bool
	}{
		{name: "json port types only", path: "a.json", data: `{"portTypes": []}`, want: FormatJSON},
		{name: "yaml node types only", path: "a.yaml", data: "nodeTypes:\n  - type: n\n", want: FormatYAML},
		{name: "workflow document", path: "a.json", data: `{"nodes": [], "edges": []}`, wantErr: true},
		{name: "invalid json", path: "a.json", data: `{not json}`, wantErr: true},
		{name: "invalid yaml", path: "a.yaml", data: "portTypes: [\n", wantErr: true},
		{name: "top-level list", path: "a.json", data: `[]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectSchema([]byte(tt.data), tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("DetectSchema() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectSchema() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectSchema() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestYAMLToJSON(t *testing.T) {
	data := []byte("portTypes:\n  - type: number\n    controls:\n      - {type: float, name: value, step: 0.5}\n")
	out, err := yamlToJSON(data)
	if err != nil {
		t.Fatalf("yamlToJSON() error = %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	ports, ok := parsed["portTypes"].([]any)
	if !ok || len(ports) != 1 {
		t.Fatalf("portTypes = %v", parsed["portTypes"])
	}
}
