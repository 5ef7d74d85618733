// Package registry holds the compiled port types and node types of one
// configuration. A registry is populated by the compiler, sealed, and then
// shared read-only with resolvers, the editor session and the server API.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrDuplicateType = errors.New("duplicate type")
	ErrSealed        = errors.New("registry is sealed")
	ErrUnknownType   = errors.New("unknown type")
)

// Kind distinguishes port types from node types in errors.
type Kind string

const (
	KindPortType Kind = "port type"
	KindNodeType Kind = "node type"
)

// DuplicateTypeError is returned when an id is registered twice. The first
// registration is kept.
type DuplicateTypeError struct {
	Kind Kind
	ID   string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Kind, e.ID)
}

func (e *DuplicateTypeError) Is(target error) bool {
	return target == ErrDuplicateType
}

// Registry holds the known port types and node types.
type Registry struct {
	mu        sync.RWMutex
	portTypes map[string]PortType
	portOrder []string // preserves registration order
	nodeTypes map[string]NodeType
	nodeOrder []string
	sealed    bool
	relaxed   bool
}

// New returns an empty, writable registry.
func New() *Registry {
	return &Registry{
		portTypes: make(map[string]PortType),
		nodeTypes: make(map[string]NodeType),
	}
}

// RegisterPortType adds a port type. An empty AcceptTypes defaults to the
// type's own id.
func (r *Registry) RegisterPortType(pt PortType) error {
	if pt.Type == "" {
		return fmt.Errorf("%s: empty id", KindPortType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.portTypes[pt.Type]; exists {
		return &DuplicateTypeError{Kind: KindPortType, ID: pt.Type}
	}
	pt = pt.clone()
	if len(pt.AcceptTypes) == 0 {
		pt.AcceptTypes = []string{pt.Type}
	}
	r.portTypes[pt.Type] = pt
	r.portOrder = append(r.portOrder, pt.Type)
	return nil
}

// RegisterNodeType adds a node type.
func (r *Registry) RegisterNodeType(nt NodeType) error {
	if nt.Type == "" {
		return fmt.Errorf("%s: empty id", KindNodeType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.nodeTypes[nt.Type]; exists {
		return &DuplicateTypeError{Kind: KindNodeType, ID: nt.Type}
	}
	r.nodeTypes[nt.Type] = nt
	r.nodeOrder = append(r.nodeOrder, nt.Type)
	return nil
}

// SetAcceptTypes rewrites the accepted-type set of a registered port type.
// It is used by post-registration passes and fails once the registry is sealed.
func (r *Registry) SetAcceptTypes(id string, types []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	pt, ok := r.portTypes[id]
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrUnknownType, KindPortType, id)
	}
	pt.AcceptTypes = slices.Clone(types)
	r.portTypes[id] = pt
	return nil
}

// Relax disables connection type checks: CanConnect accepts any registered
// source type, including for ports that carry their own accept list.
func (r *Registry) Relax() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	r.relaxed = true
	return nil
}

// Relaxed reports whether type checks are disabled.
func (r *Registry) Relaxed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relaxed
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// PortType returns a port type by id.
func (r *Registry) PortType(id string) (PortType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pt, ok := r.portTypes[id]
	if !ok {
		return PortType{}, false
	}
	return pt.clone(), true
}

// NodeType returns a node type by id.
func (r *Registry) NodeType(id string) (NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nt, ok := r.nodeTypes[id]
	return nt, ok
}

// HasPortType returns true if the port type id is registered.
func (r *Registry) HasPortType(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.portTypes[id]
	return ok
}

// HasNodeType returns true if the node type id is registered.
func (r *Registry) HasNodeType(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodeTypes[id]
	return ok
}

// PortTypes returns all port types in registration order.
// Used by GET /api/port-types.
func (r *Registry) PortTypes() []PortType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]PortType, 0, len(r.portOrder))
	for _, id := range r.portOrder {
		result = append(result, r.portTypes[id].clone())
	}
	return result
}

// NodeTypes returns all node types in registration order.
// Used by GET /api/node-types.
func (r *Registry) NodeTypes() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeType, 0, len(r.nodeOrder))
	for _, id := range r.nodeOrder {
		result = append(result, r.nodeTypes[id])
	}
	return result
}

// PortTypeIDs returns every registered port type id in registration order.
func (r *Registry) PortTypeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.portOrder)
}

// Len returns the number of registered port types and node types.
func (r *Registry) Len() (ports, nodes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.portTypes), len(r.nodeTypes)
}

// Port instantiates a registered port type with overrides applied. It makes
// *Registry a PortBuilder.
func (r *Registry) Port(typeID string, o Overrides) (PortInstance, error) {
	r.mu.RLock()
	pt, ok := r.portTypes[typeID]
	r.mu.RUnlock()
	if !ok {
		return PortInstance{}, fmt.Errorf("%w: %s %q", ErrUnknownType, KindPortType, typeID)
	}
	return pt.Instantiate(o), nil
}

// CanConnect reports whether an output port of type from may feed the input
// port to. An input without its own accept list uses its port type's.
func (r *Registry) CanConnect(from string, to PortInstance) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.portTypes[from]; !ok {
		return false
	}
	if r.relaxed {
		return true
	}
	accept := to.AcceptTypes
	if len(accept) == 0 {
		pt, ok := r.portTypes[to.Type]
		if !ok {
			return false
		}
		accept = pt.AcceptTypes
	}
	return slices.Contains(accept, from)
}
