package schema

import (
	"fmt"
	"strings"

	"github.com/petal-labs/nodeschema/control"
)

// Validate checks structural rules that need no registry:
//   - PT-001 / NT-001: missing type identifiers
//   - PT-002 / NT-002: duplicate identifiers (warning, first one wins)
//   - PT-003: unknown control kinds
//   - PT-004: unknown color names (warning, the color is dropped)
//   - NT-003: static port references to undeclared port types
//   - NT-005: port functions declaring both source and path
//
// predeclared lists port type ids that exist without being declared (the
// standard port types).
func (c *Config) Validate(predeclared ...string) []Diagnostic {
	var diags []Diagnostic

	portIDs := make(map[string]bool, len(c.PortTypes)+len(predeclared))
	for _, id := range predeclared {
		portIDs[id] = true
	}

	seenPorts := make(map[string]bool, len(c.PortTypes))
	for i, pt := range c.PortTypes {
		path := fmt.Sprintf("portTypes[%d]", i)
		if strings.TrimSpace(pt.Type) == "" {
			diags = append(diags, Diagnostic{
				Code:     CodePortTypeMissingID,
				Severity: SeverityError,
				Message:  "Port type has no type identifier",
				Path:     path + ".type",
			})
			continue
		}
		if seenPorts[pt.Type] {
			diags = append(diags, Diagnostic{
				Code:     CodePortTypeDuplicate,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Duplicate port type %q; the first declaration is kept", pt.Type),
				Path:     path + ".type",
			})
		}
		seenPorts[pt.Type] = true
		portIDs[pt.Type] = true

		diags = append(diags, validateColor(pt.Color, path+".color")...)
		diags = append(diags, validateControls(pt.Controls, path+".controls")...)
	}

	seenNodes := make(map[string]bool, len(c.NodeTypes))
	for i, nt := range c.NodeTypes {
		path := fmt.Sprintf("nodeTypes[%d]", i)
		if strings.TrimSpace(nt.Type) == "" {
			diags = append(diags, Diagnostic{
				Code:     CodeNodeTypeMissingID,
				Severity: SeverityError,
				Message:  "Node type has no type identifier",
				Path:     path + ".type",
			})
			continue
		}
		if seenNodes[nt.Type] {
			diags = append(diags, Diagnostic{
				Code:     CodeNodeTypeDuplicate,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Duplicate node type %q; the first declaration is kept", nt.Type),
				Path:     path + ".type",
			})
		}
		seenNodes[nt.Type] = true

		diags = append(diags, validatePorts(nt.Inputs, path+".inputs", portIDs)...)
		diags = append(diags, validatePorts(nt.Outputs, path+".outputs", portIDs)...)
	}

	return diags
}

func validatePorts(p *PortsDecl, path string, portIDs map[string]bool) []Diagnostic {
	if p == nil {
		return nil
	}
	var diags []Diagnostic
	if p.Source != "" && p.Path != "" {
		diags = append(diags, Diagnostic{
			Code:     CodeAmbiguousPorts,
			Severity: SeverityError,
			Message:  "Port function declares both source and path",
			Path:     path,
		})
	}
	for i, ref := range p.Static {
		refPath := fmt.Sprintf("%s[%d]", path, i)
		if !portIDs[ref.Type] {
			diags = append(diags, Diagnostic{
				Code:     CodeUnknownPortRef,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Port reference to unknown port type %q", ref.Type),
				Path:     refPath + ".type",
			})
		}
		diags = append(diags, validateColor(ref.Color, refPath+".color")...)
		diags = append(diags, validateControls(ref.Controls, refPath+".controls")...)
	}
	return diags
}

func validateColor(name, path string) []Diagnostic {
	if name == "" {
		return nil
	}
	if _, ok := ColorClass(name); ok {
		return nil
	}
	return []Diagnostic{{
		Code:     CodeUnknownColor,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Unknown color %q; the port is rendered without a color", name),
		Path:     path,
	}}
}

func validateControls(controls []ControlDecl, path string) []Diagnostic {
	var diags []Diagnostic
	for i, c := range controls {
		if _, err := control.ParseKind(c.Type); err != nil {
			diags = append(diags, Diagnostic{
				Code:     CodeUnknownControl,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Control %q has unknown kind %q", c.Name, c.Type),
				Path:     fmt.Sprintf("%s[%d].type", path, i),
			})
		}
	}
	return diags
}
