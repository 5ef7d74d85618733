package compile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/resolver"
	"github.com/petal-labs/nodeschema/schema"
)

// errSkipNode marks a node type that cannot be registered. The cause has
// already been reported.
var errSkipNode = errors.New("node type skipped")

// NodeLabel renders a node type label, prefixed with its category.
func NodeLabel(category, label string) string {
	if category == "" {
		return label
	}
	return category + ": " + label
}

func (c *compiler) addNodeType(decl schema.NodeTypeDecl, path string) {
	if strings.TrimSpace(decl.Type) == "" {
		c.report(schema.CodeNodeTypeMissingID, schema.SeverityError, path+".type", "Node type has no type identifier")
		return
	}
	if c.reg.HasNodeType(decl.Type) {
		c.duplicateNode(decl.Type, path)
		return
	}

	inputs, err := c.portSpec(decl.Type, decl.Inputs, path+".inputs")
	if err != nil {
		return
	}
	outputs, err := c.portSpec(decl.Type, decl.Outputs, path+".outputs")
	if err != nil {
		return
	}

	nt := registry.NodeType{
		Type:         decl.Type,
		Label:        NodeLabel(decl.Category, firstNonEmpty(decl.Label, decl.Type)),
		Category:     decl.Category,
		Description:  decl.Description,
		InitialWidth: decl.InitialWidth,
		Addable:      decl.Addable == nil || *decl.Addable,
		Deletable:    decl.Deletable == nil || *decl.Deletable,
		Inputs:       inputs,
		Outputs:      outputs,
		Metadata:     decl.Metadata,
	}
	if err := c.reg.RegisterNodeType(nt); err != nil {
		if errors.Is(err, registry.ErrDuplicateType) {
			c.duplicateNode(decl.Type, path)
			return
		}
		c.logger.Error("register node type", "node_type", decl.Type, "error", err)
	}
}

func (c *compiler) duplicateNode(id, path string) {
	c.logger.Debug("duplicate node type ignored", "node_type", id)
	c.report(schema.CodeNodeTypeDuplicate, schema.SeverityWarning, path+".type",
		"Duplicate node type %q; the first declaration is kept", id)
}

// portSpec compiles an inputs or outputs declaration. A failure is reported
// and returned as errSkipNode.
func (c *compiler) portSpec(nodeType string, decl *schema.PortsDecl, path string) (registry.PortSpec, error) {
	if decl.IsEmpty() {
		return registry.PortSpec{Kind: registry.SpecStatic}, nil
	}
	if decl.Source != "" && decl.Path != "" {
		c.report(schema.CodeAmbiguousPorts, schema.SeverityError, path, "Port function declares both source and path")
		return registry.PortSpec{}, errSkipNode
	}

	switch decl.Kind() {
	case schema.PortsInline:
		fn, err := resolver.CompileInline(decl.Source, c.opts.CostLimit)
		if err != nil {
			c.logger.Warn("inline port expression rejected", "node_type", nodeType, "error", err)
			c.report(schema.CodeInlineCompile, schema.SeverityError, path+".source", "Node type %q: %v", nodeType, err)
			return registry.PortSpec{}, errSkipNode
		}
		return registry.PortSpec{Kind: registry.SpecInline, Source: decl.Source, Resolve: fn}, nil

	case schema.PortsNamed:
		return registry.PortSpec{Kind: registry.SpecNamed, Name: decl.Path}, nil

	default:
		ports := make([]registry.PortInstance, 0, len(decl.Static))
		for i, ref := range decl.Static {
			refPath := fmt.Sprintf("%s[%d]", path, i)
			p, err := c.reg.Port(ref.Type, registry.Overrides{
				Name:        ref.Name,
				Label:       ref.Label,
				Color:       colorOverride(ref.Color),
				AcceptTypes: ref.AcceptTypes,
				HidePort:    ref.HidePort,
				Controls:    c.controls(ref.Controls, refPath+".controls"),
			})
			if err != nil {
				c.report(schema.CodeUnknownPortRef, schema.SeverityError, refPath+".type",
					"Node type %q references unknown port type %q", nodeType, ref.Type)
				return registry.PortSpec{}, errSkipNode
			}
			ports = append(ports, p)
		}
		return registry.PortSpec{Kind: registry.SpecStatic, Ports: ports}, nil
	}
}

func colorOverride(name string) string {
	color, _ := schema.ColorClass(name)
	return color
}
