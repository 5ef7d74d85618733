package registry

import (
	"slices"

	"github.com/petal-labs/nodeschema/control"
)

// PortType is a compiled port type: a named category of connectable value
// with its default controls.
type PortType struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Color       string            `json:"color,omitempty"`
	AcceptTypes []string          `json:"acceptTypes"`
	HidePort    bool              `json:"hidePort,omitempty"`
	Controls    []control.Control `json:"controls"`

	// Universal port types accept every registered type once the registry
	// is populated.
	Universal bool `json:"-"`
}

// Overrides are per-port adjustments applied on top of a port type's defaults.
type Overrides struct {
	Name        string            `json:"name,omitempty"`
	Label       string            `json:"label,omitempty"`
	Color       string            `json:"color,omitempty"`
	AcceptTypes []string          `json:"acceptTypes,omitempty"`
	HidePort    *bool             `json:"hidePort,omitempty"`
	Controls    []control.Control `json:"controls,omitempty"`
}

// PortInstance is a concrete port on one node, produced by a static port
// list or by a dynamic resolver.
type PortInstance struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Color       string            `json:"color,omitempty"`
	AcceptTypes []string          `json:"acceptTypes,omitempty"`
	HidePort    bool              `json:"hidePort,omitempty"`
	Controls    []control.Control `json:"controls,omitempty"`
}

// Instantiate applies o to the port type's defaults.
func (pt PortType) Instantiate(o Overrides) PortInstance {
	p := PortInstance{
		Type:        pt.Type,
		Name:        pt.Name,
		Label:       pt.Label,
		Color:       pt.Color,
		AcceptTypes: slices.Clone(pt.AcceptTypes),
		HidePort:    pt.HidePort,
		Controls:    slices.Clone(pt.Controls),
	}
	if p.Name == "" {
		p.Name = pt.Type
	}
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Label != "" {
		p.Label = o.Label
	}
	if o.Color != "" {
		p.Color = o.Color
	}
	if len(o.AcceptTypes) > 0 {
		p.AcceptTypes = slices.Clone(o.AcceptTypes)
	}
	if o.HidePort != nil {
		p.HidePort = *o.HidePort
	}
	if len(o.Controls) > 0 {
		p.Controls = slices.Clone(o.Controls)
	}
	return p
}

func (pt PortType) clone() PortType {
	pt.AcceptTypes = slices.Clone(pt.AcceptTypes)
	pt.Controls = slices.Clone(pt.Controls)
	return pt
}

// ConnectionRef points at the other end of a connection.
type ConnectionRef struct {
	NodeID   string `json:"nodeId"`
	PortName string `json:"portName"`
}

// Connections is the read-only connection view of one node, keyed by the
// node's own port names.
type Connections struct {
	Inputs  map[string][]ConnectionRef `json:"inputs"`
	Outputs map[string][]ConnectionRef `json:"outputs"`
}

// InputData holds a node's control values: port name -> control name -> value.
type InputData map[string]map[string]any

// PortBuilder instantiates registered port types. It is the "ports"
// argument handed to dynamic resolvers.
type PortBuilder interface {
	Port(typeID string, o Overrides) (PortInstance, error)
}

// ResolveFunc computes a node's ports from its current input data and
// connections. Implementations must be pure: identical arguments yield
// identical results and nothing in the registry is mutated.
type ResolveFunc func(ports PortBuilder, in InputData, conns Connections, ctx map[string]any) ([]PortInstance, error)

// PortSpecKind is the closed set of port specification variants.
type PortSpecKind string

const (
	SpecStatic PortSpecKind = "static"
	SpecInline PortSpecKind = "inline"
	SpecNamed  PortSpecKind = "named"
)

// PortSpec is a compiled inputs or outputs specification.
type PortSpec struct {
	Kind   PortSpecKind   `json:"kind"`
	Ports  []PortInstance `json:"ports,omitempty"`  // SpecStatic
	Source string         `json:"source,omitempty"` // SpecInline
	Name   string         `json:"name,omitempty"`   // SpecNamed

	// Resolve is the compiled inline resolver.
	Resolve ResolveFunc `json:"-"`
}

// Dynamic reports whether the spec is recomputed at runtime.
func (s PortSpec) Dynamic() bool {
	return s.Kind == SpecInline || s.Kind == SpecNamed
}

// NodeType is a compiled node type.
type NodeType struct {
	Type         string         `json:"type"`
	Label        string         `json:"label"`
	Category     string         `json:"category,omitempty"`
	Description  string         `json:"description,omitempty"`
	InitialWidth float64        `json:"initialWidth,omitempty"`
	Addable      bool           `json:"addable"`
	Deletable    bool           `json:"deletable"`
	Inputs       PortSpec       `json:"inputs"`
	Outputs      PortSpec       `json:"outputs"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
