// Package schema defines the declarative configuration a host application
// hands to the node editor: port types, node types and their port
// specifications. Values in this package are plain data; the compile package
// turns them into registry objects.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the host-supplied editor configuration.
type Config struct {
	Version   string         `json:"version,omitempty"`
	PortTypes []PortTypeDecl `json:"portTypes"`
	NodeTypes []NodeTypeDecl `json:"nodeTypes"`
}

// PortTypeDecl declares a port type.
type PortTypeDecl struct {
	Type        string        `json:"type"`
	Name        string        `json:"name,omitempty"`
	Label       string        `json:"label,omitempty"`
	Color       string        `json:"color,omitempty"`
	AcceptTypes []string      `json:"acceptTypes,omitempty"`
	HidePort    bool          `json:"hidePort,omitempty"`
	Controls    []ControlDecl `json:"controls,omitempty"`
}

// Option is one choice of a select or multiselect control.
type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// ControlDecl declares a control attached to a port type. Keys not listed
// here are kept in Extra and passed through to the compiled control.
type ControlDecl struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Label        string         `json:"label,omitempty"`
	PlaceHolder  string         `json:"placeHolder,omitempty"`
	DefaultValue any            `json:"defaultValue,omitempty"`
	Min          *float64       `json:"min,omitempty"`
	Max          *float64       `json:"max,omitempty"`
	Step         *float64       `json:"step,omitempty"`
	Options      []Option       `json:"options,omitempty"`
	Extra        map[string]any `json:"-"`
}

var controlDeclKeys = map[string]bool{
	"type": true, "name": true, "label": true, "placeHolder": true,
	"defaultValue": true, "min": true, "max": true, "step": true, "options": true,
}

// UnmarshalJSON decodes the known control fields and collects the rest into Extra.
func (c *ControlDecl) UnmarshalJSON(data []byte) error {
	type plain ControlDecl
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, controlDeclKeys)
	if err != nil {
		return err
	}
	p.Extra = extra
	*c = ControlDecl(p)
	return nil
}

// MarshalJSON re-emits passthrough keys next to the known fields.
func (c ControlDecl) MarshalJSON() ([]byte, error) {
	type plain ControlDecl
	return mergeExtra(plain(c), c.Extra)
}

// NodeTypeDecl declares a node type. Keys not listed here are kept in
// Metadata and passed through to the compiled node type.
type NodeTypeDecl struct {
	Type         string         `json:"type"`
	Label        string         `json:"label"`
	Category     string         `json:"category,omitempty"`
	Description  string         `json:"description,omitempty"`
	InitialWidth float64        `json:"initialWidth,omitempty"`
	Addable      *bool          `json:"addable,omitempty"`
	Deletable    *bool          `json:"deletable,omitempty"`
	Inputs       *PortsDecl     `json:"inputs,omitempty"`
	Outputs      *PortsDecl     `json:"outputs,omitempty"`
	Metadata     map[string]any `json:"-"`
}

var nodeTypeDeclKeys = map[string]bool{
	"type": true, "label": true, "category": true, "description": true,
	"initialWidth": true, "addable": true, "deletable": true,
	"inputs": true, "outputs": true,
}

// UnmarshalJSON decodes the known node fields and collects the rest into Metadata.
func (n *NodeTypeDecl) UnmarshalJSON(data []byte) error {
	type plain NodeTypeDecl
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraKeys(data, nodeTypeDeclKeys)
	if err != nil {
		return err
	}
	p.Metadata = extra
	*n = NodeTypeDecl(p)
	return nil
}

// MarshalJSON re-emits metadata keys next to the known fields.
func (n NodeTypeDecl) MarshalJSON() ([]byte, error) {
	type plain NodeTypeDecl
	return mergeExtra(plain(n), n.Metadata)
}

// PortsKind identifies which variant a PortsDecl holds.
type PortsKind string

const (
	PortsStatic PortsKind = "static"
	PortsInline PortsKind = "inline"
	PortsNamed  PortsKind = "named"
)

// PortsDecl is the inputs/outputs declaration of a node type. In JSON it is
// either an array of port references or an object with a "source"
// (inline expression) or "path" (named function) key.
type PortsDecl struct {
	Static []PortRef
	Source string
	Path   string
}

// Kind reports the declared variant. A declaration carrying both a source and
// a path reports PortsInline; schema validation flags that case.
func (p *PortsDecl) Kind() PortsKind {
	switch {
	case p.Source != "":
		return PortsInline
	case p.Path != "":
		return PortsNamed
	default:
		return PortsStatic
	}
}

// IsEmpty reports whether the declaration produces nothing.
func (p *PortsDecl) IsEmpty() bool {
	return p == nil || (len(p.Static) == 0 && p.Source == "" && p.Path == "")
}

type portFunction struct {
	Source string `json:"source,omitempty"`
	Path   string `json:"path,omitempty"`
}

// UnmarshalJSON accepts either a port reference array or a port function object.
func (p *PortsDecl) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = PortsDecl{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var refs []PortRef
		if err := json.Unmarshal(trimmed, &refs); err != nil {
			return fmt.Errorf("decoding port list: %w", err)
		}
		*p = PortsDecl{Static: refs}
		return nil
	case '{':
		var fn portFunction
		if err := json.Unmarshal(trimmed, &fn); err != nil {
			return fmt.Errorf("decoding port function: %w", err)
		}
		*p = PortsDecl{Source: fn.Source, Path: fn.Path}
		return nil
	default:
		return fmt.Errorf("ports must be a list or an object with source or path")
	}
}

// MarshalJSON writes the variant back in its declarative shape.
func (p PortsDecl) MarshalJSON() ([]byte, error) {
	if p.Source != "" || p.Path != "" {
		return json.Marshal(portFunction{Source: p.Source, Path: p.Path})
	}
	if p.Static == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Static)
}

// PortRef references a port type from a node's static port list. Every
// field other than Type overrides the referenced port type's default.
type PortRef struct {
	Type        string        `json:"type"`
	Name        string        `json:"name,omitempty"`
	Label       string        `json:"label,omitempty"`
	Color       string        `json:"color,omitempty"`
	AcceptTypes []string      `json:"acceptTypes,omitempty"`
	HidePort    *bool         `json:"hidePort,omitempty"`
	Controls    []ControlDecl `json:"controls,omitempty"`
}

// Hash returns the configuration identity: a hex SHA-256 over the canonical
// JSON encoding.
func (c *Config) Hash() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return hashBytes(data), nil
}

// Parse decodes a JSON configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
