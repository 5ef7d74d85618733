package schema

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleConfig = `{
  "portTypes": [
    {"type": "number", "label": "Number", "color": "blue",
     "controls": [{"type": "float", "name": "value", "label": "Value", "step": 0.5, "unit": "kg"}]},
    {"type": "any", "label": "Anything"}
  ],
  "nodeTypes": [
    {"type": "add", "label": "Add", "category": "Math",
     "inputs": [{"type": "number", "name": "a"}, {"type": "number", "name": "b", "hidePort": true}],
     "outputs": [{"type": "number", "name": "sum"}],
     "icon": "plus"},
    {"type": "fmt", "label": "Format", "inputs": {"path": "template_ports"}, "outputs": {"source": "[port('any', 'out')]"}}
  ]
}`

func TestParse_PortsVariants(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.NodeTypes) != 2 {
		t.Fatalf("node types = %d, want 2", len(cfg.NodeTypes))
	}

	add := cfg.NodeTypes[0]
	if got := add.Inputs.Kind(); got != PortsStatic {
		t.Errorf("add inputs kind = %q, want static", got)
	}
	if len(add.Inputs.Static) != 2 || add.Inputs.Static[1].HidePort == nil || !*add.Inputs.Static[1].HidePort {
		t.Errorf("add inputs = %+v", add.Inputs.Static)
	}

	fmtNode := cfg.NodeTypes[1]
	if got := fmtNode.Inputs.Kind(); got != PortsNamed {
		t.Errorf("fmt inputs kind = %q, want named", got)
	}
	if fmtNode.Inputs.Path != "template_ports" {
		t.Errorf("path = %q", fmtNode.Inputs.Path)
	}
	if got := fmtNode.Outputs.Kind(); got != PortsInline {
		t.Errorf("fmt outputs kind = %q, want inline", got)
	}
}

func TestParse_RejectsScalarPorts(t *testing.T) {
	_, err := Parse([]byte(`{"nodeTypes": [{"type": "x", "label": "X", "inputs": "nope"}]}`))
	if err == nil {
		t.Fatal("expected error for scalar inputs")
	}
}

func TestPortsDecl_NullIsEmpty(t *testing.T) {
	cfg, err := Parse([]byte(`{"nodeTypes": [{"type": "x", "label": "X", "inputs": null}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.NodeTypes[0].Inputs.IsEmpty() {
		t.Error("null inputs should be empty")
	}
	if !cfg.NodeTypes[0].Outputs.IsEmpty() {
		t.Error("missing outputs should be empty")
	}
}

func TestPassthrough_RoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ctl := cfg.PortTypes[0].Controls[0]
	if diff := cmp.Diff(map[string]any{"unit": "kg"}, ctl.Extra); diff != "" {
		t.Errorf("control extra (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"icon": "plus"}, cfg.NodeTypes[0].Metadata); diff != "" {
		t.Errorf("node metadata (-want +got):\n%s", diff)
	}

	data, err := json.Marshal(cfg.NodeTypes[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["icon"] != "plus" {
		t.Errorf("icon not re-emitted: %s", data)
	}
	if _, ok := out["inputs"].([]any); !ok {
		t.Errorf("static inputs should marshal as a list: %s", data)
	}
}

func TestHash_StableAcrossFormatting(t *testing.T) {
	a, err := Parse([]byte(`{"portTypes":[{"type":"int","label":"Int"}],"nodeTypes":[{"type":"n","label":"N","x":1,"y":2}]}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte(`{
		"nodeTypes": [{"y": 2, "label": "N", "x": 1, "type": "n"}],
		"portTypes": [{"label": "Int", "type": "int"}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha != hb {
		t.Errorf("hashes differ for equivalent configs: %s vs %s", ha, hb)
	}

	b.NodeTypes[0].Label = "Other"
	hc, _ := b.Hash()
	if hc == ha {
		t.Error("hash should change with content")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantCodes []string
	}{
		{
			name:      "valid",
			config:    sampleConfig,
			wantCodes: nil,
		},
		{
			name:      "missing port type id",
			config:    `{"portTypes": [{"label": "x"}]}`,
			wantCodes: []string{CodePortTypeMissingID},
		},
		{
			name:      "duplicate port type",
			config:    `{"portTypes": [{"type": "a"}, {"type": "a"}]}`,
			wantCodes: []string{CodePortTypeDuplicate},
		},
		{
			name:      "unknown control kind",
			config:    `{"portTypes": [{"type": "a", "controls": [{"type": "hologram", "name": "h"}]}]}`,
			wantCodes: []string{CodeUnknownControl},
		},
		{
			name:      "unknown color",
			config:    `{"portTypes": [{"type": "a", "color": "teal"}]}`,
			wantCodes: []string{CodeUnknownColor},
		},
		{
			name:      "missing node type id",
			config:    `{"nodeTypes": [{"label": "x"}]}`,
			wantCodes: []string{CodeNodeTypeMissingID},
		},
		{
			name:      "duplicate node type",
			config:    `{"nodeTypes": [{"type": "n", "label": "N"}, {"type": "n", "label": "M"}]}`,
			wantCodes: []string{CodeNodeTypeDuplicate},
		},
		{
			name:      "unknown port reference",
			config:    `{"nodeTypes": [{"type": "n", "label": "N", "inputs": [{"type": "ghost"}]}]}`,
			wantCodes: []string{CodeUnknownPortRef},
		},
		{
			name:      "source and path",
			config:    `{"nodeTypes": [{"type": "n", "label": "N", "inputs": {"source": "[]", "path": "f"}}]}`,
			wantCodes: []string{CodeAmbiguousPorts},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.config))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			var got []string
			for _, d := range cfg.Validate() {
				got = append(got, d.Code)
			}
			if diff := cmp.Diff(tt.wantCodes, got); diff != "" {
				t.Errorf("codes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_Predeclared(t *testing.T) {
	cfg, err := Parse([]byte(`{"nodeTypes": [{"type": "n", "label": "N", "inputs": [{"type": "str"}]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if diags := cfg.Validate("str"); len(diags) != 0 {
		t.Errorf("predeclared port type should resolve, got %v", diags)
	}
}

func TestDiagnosticHelpers(t *testing.T) {
	diags := []Diagnostic{
		{Code: CodePortTypeDuplicate, Severity: SeverityWarning},
		{Code: CodeUnknownPortRef, Severity: SeverityError},
	}
	if !HasErrors(diags) {
		t.Error("HasErrors should be true")
	}
	if len(Errors(diags)) != 1 || len(Warnings(diags)) != 1 {
		t.Errorf("Errors/Warnings split wrong: %v / %v", Errors(diags), Warnings(diags))
	}
	if HasErrors(Warnings(diags)) {
		t.Error("warnings only should not report errors")
	}
}

func TestColorClass(t *testing.T) {
	if c, ok := ColorClass(" Blue "); !ok || c != "blue" {
		t.Errorf("ColorClass(Blue) = %q, %v", c, ok)
	}
	if c, ok := ColorClass("gray"); !ok || c != "grey" {
		t.Errorf("ColorClass(gray) = %q, %v", c, ok)
	}
	if _, ok := ColorClass(""); ok {
		t.Error("empty color should not resolve")
	}
}
