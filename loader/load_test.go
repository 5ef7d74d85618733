package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/schema"
)

func testdataPath(name string) string {
	return filepath.Join("testdata", name)
}

func codes(diags []schema.Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestLoadFile_JSON(t *testing.T) {
	cfg, diags, err := LoadFile(testdataPath("editor.json"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
	if len(cfg.PortTypes) != 1 || len(cfg.NodeTypes) != 2 {
		t.Fatalf("got %d port types and %d node types", len(cfg.PortTypes), len(cfg.NodeTypes))
	}
	if got := cfg.NodeTypes[1].Inputs.Kind(); got != schema.PortsNamed {
		t.Errorf("template inputs kind = %q, want %q", got, schema.PortsNamed)
	}
}

func TestLoadFile_YAMLMatchesJSON(t *testing.T) {
	jsonCfg, _, err := LoadFile(testdataPath("editor.json"))
	if err != nil {
		t.Fatalf("LoadFile(JSON) error = %v", err)
	}
	yamlCfg, _, err := LoadFile(testdataPath("editor.yaml"))
	if err != nil {
		t.Fatalf("LoadFile(YAML) error = %v", err)
	}

	jsonHash, err := jsonCfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	yamlHash, err := yamlCfg.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if jsonHash != yamlHash {
		t.Errorf("YAML hash %s differs from JSON hash %s", yamlHash, jsonHash)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	cfg, diags, err := LoadFile(testdataPath("invalid.json"))
	if cfg != nil {
		t.Error("expected no configuration")
	}
	var diagErr *DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("error = %v, want *DiagnosticError", err)
	}
	want := []string{schema.CodeVersion, schema.CodePortTypeMissingID, schema.CodeUnknownPortRef}
	if diff := cmp.Diff(want, codes(diags)); diff != "" {
		t.Errorf("codes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(diags, diagErr.Diagnostics); diff != "" {
		t.Errorf("error carries different diagnostics (-returned +error):\n%s", diff)
	}
}

func TestLoadFile_FileNotFound(t *testing.T) {
	_, _, err := LoadFile("nonexistent.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		format    Format
		wantCodes []string
		wantErr   bool
	}{
		{
			name:   "standard port types are predeclared",
			data:   `{"nodeTypes": [{"type": "n", "label": "N", "inputs": [{"type": "str"}, {"type": "object"}]}]}`,
			format: FormatJSON,
		},
		{
			name:      "warnings do not fail",
			data:      "portTypes:\n  - {type: a}\n  - {type: a}\n",
			format:    FormatYAML,
			wantCodes: []string{schema.CodePortTypeDuplicate},
		},
		{
			name:      "bad entries are returned with the configuration",
			data:      `{"portTypes": [{"label": "x"}], "nodeTypes": [{"type": "n", "label": "N", "inputs": [{"type": "ghost"}]}]}`,
			format:    FormatJSON,
			wantCodes: []string{schema.CodePortTypeMissingID, schema.CodeUnknownPortRef},
		},
		{
			name:      "malformed json",
			data:      `{"portTypes": [`,
			format:    FormatJSON,
			wantCodes: []string{schema.CodeParse},
			wantErr:   true,
		},
		{
			name:      "malformed yaml",
			data:      "portTypes: [\n",
			format:    FormatYAML,
			wantCodes: []string{schema.CodeParse},
			wantErr:   true,
		},
		{
			name:      "bad version",
			data:      `{"version": "one", "portTypes": []}`,
			format:    FormatJSON,
			wantCodes: []string{schema.CodeVersion},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, diags, err := Parse([]byte(tt.data), tt.format)
			if tt.wantErr {
				var diagErr *DiagnosticError
				if !errors.As(err, &diagErr) {
					t.Fatalf("error = %v, want *DiagnosticError", err)
				}
				diags = diagErr.Diagnostics
			} else if err != nil {
				t.Fatalf("Parse() error = %v", err)
			} else if cfg == nil {
				t.Fatal("Parse() returned no configuration")
			}
			if diff := cmp.Diff(tt.wantCodes, codes(diags)); diff != "" {
				t.Errorf("codes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_BadEntryDoesNotBlockSiblings(t *testing.T) {
	data := `{
  "nodeTypes": [
    {"type": "good", "label": "Good", "inputs": [{"type": "num"}]},
    {"type": "bad", "label": "Bad", "inputs": [{"type": "missing"}]}
  ],
  "portTypes": [{"type": "num", "label": "Number"}]
}`
	cfg, diags, err := Parse([]byte(data), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if diff := cmp.Diff([]string{schema.CodeUnknownPortRef}, codes(diags)); diff != "" {
		t.Errorf("codes (-want +got):\n%s", diff)
	}

	compiled, err := compile.Compile(cfg, compile.Options{})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !compiled.Registry.HasNodeType("good") {
		t.Error("good node type was not registered")
	}
	if compiled.Registry.HasNodeType("bad") {
		t.Error("bad node type was registered")
	}
}

func TestDiagnosticError_Message(t *testing.T) {
	tests := []struct {
		name  string
		diags []schema.Diagnostic
		want  string
	}{
		{
			name:  "single error",
			diags: []schema.Diagnostic{{Code: "PT-001", Severity: schema.SeverityError, Message: "test error"}},
			want:  "validation error: test error",
		},
		{
			name: "warnings are not counted",
			diags: []schema.Diagnostic{
				{Code: "PT-002", Severity: schema.SeverityWarning, Message: "dup"},
				{Code: "PT-001", Severity: schema.SeverityError, Message: "first error"},
				{Code: "NT-003", Severity: schema.SeverityError, Message: "second error"},
			},
			want: "2 validation errors (first: first error)",
		},
		{
			name:  "no errors",
			diags: []schema.Diagnostic{{Code: "PT-002", Severity: schema.SeverityWarning, Message: "dup"}},
			want:  "validation failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &DiagnosticError{Diagnostics: tt.diags}
			if got := err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
