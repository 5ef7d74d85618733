package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/control"
	"github.com/petal-labs/nodeschema/registry"
)

var (
	ErrUnknownNode         = errors.New("unknown node")
	ErrUnknownPort         = errors.New("unknown port")
	ErrUnknownControl      = errors.New("unknown control")
	ErrIncompatiblePorts   = errors.New("incompatible port types")
	ErrDuplicateConnection = errors.New("connection already exists")
	ErrPortConnected       = errors.New("port is connected")
	ErrNodeNotAddable      = errors.New("node type is not addable")
	ErrNodeNotDeletable    = errors.New("node is not deletable")
)

// maxSettleVisits bounds how often one node is re-resolved while a single
// mutation settles.
const maxSettleVisits = 8

// Connection links an output port to an input port.
type Connection struct {
	FromNode string `json:"fromNode"`
	FromPort string `json:"fromPort"`
	ToNode   string `json:"toNode"`
	ToPort   string `json:"toPort"`
}

// Node is one node placed in the editor.
type Node struct {
	ID        string                  `json:"id"`
	Type      string                  `json:"type"`
	InputData registry.InputData      `json:"inputData"`
	Inputs    []registry.PortInstance `json:"inputs"`
	Outputs   []registry.PortInstance `json:"outputs"`
	Status    Status                  `json:"status,omitempty"`
}

func (n *Node) clone() Node {
	c := *n
	c.InputData = make(registry.InputData, len(n.InputData))
	for port, values := range n.InputData {
		c.InputData[port] = maps.Clone(values)
	}
	c.Inputs = slices.Clone(n.Inputs)
	c.Outputs = slices.Clone(n.Outputs)
	return c
}

func findPort(ports []registry.PortInstance, name string) (registry.PortInstance, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return registry.PortInstance{}, false
}

// NodeDiff is the port change of one node.
type NodeDiff struct {
	NodeID  string   `json:"nodeId"`
	Inputs  PortDiff `json:"inputs"`
	Outputs PortDiff `json:"outputs"`
}

// Change summarizes the effect of one session mutation.
type Change struct {
	Nodes              []NodeDiff   `json:"nodes,omitempty"`
	DroppedConnections []Connection `json:"droppedConnections,omitempty"`
	RemovedNodes       []string     `json:"removedNodes,omitempty"`
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Context is handed to every dynamic resolver.
	Context map[string]any

	// NewID generates node ids (default: random UUIDs).
	NewID func() string
}

// Session is the reference editor state: the nodes placed on the canvas,
// their input values and their connections. Every mutation re-resolves the
// affected nodes' ports and drops connections whose ports disappeared. A
// session is safe for concurrent use; mutations are serialized.
type Session struct {
	mu       sync.Mutex
	engine   *Engine
	compiled *compile.Compiled
	hostCtx  map[string]any
	newID    func() string
	nodes    map[string]*Node
	order    []string
	conns    []Connection
}

// NewSession starts an empty session on the engine's current configuration.
func NewSession(engine *Engine, opts SessionOptions) (*Session, error) {
	compiled := engine.Current()
	if compiled == nil {
		return nil, ErrNotLoaded
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Context == nil {
		opts.Context = map[string]any{}
	}
	return &Session{
		engine:   engine,
		compiled: compiled,
		hostCtx:  opts.Context,
		newID:    opts.NewID,
		nodes:    make(map[string]*Node),
	}, nil
}

// Config returns the configuration the session currently resolves against.
func (s *Session) Config() *compile.Compiled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compiled
}

// Nodes returns copies of all nodes in insertion order.
func (s *Session) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.nodes[id].clone())
	}
	return result
}

// Node returns a copy of one node.
func (s *Session) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Connections returns all connections.
func (s *Session) Connections() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conns)
}

// AddNode places a node of nodeType and resolves its ports.
func (s *Session) AddNode(ctx context.Context, nodeType string) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nt, ok := s.compiled.Registry.NodeType(nodeType)
	if !ok {
		return Node{}, fmt.Errorf("%w: %s %q", registry.ErrUnknownType, registry.KindNodeType, nodeType)
	}
	if !nt.Addable {
		return Node{}, fmt.Errorf("%w: %q", ErrNodeNotAddable, nodeType)
	}

	n := &Node{ID: s.newID(), Type: nodeType, InputData: registry.InputData{}}
	s.nodes[n.ID] = n
	s.order = append(s.order, n.ID)
	s.resolveNode(ctx, n)

	s.engine.emitCtx(ctx, NewEvent(EventNodeAdded, s.compiled.ID).
		WithNode(n.ID, n.Type).
		WithPayload("inputs", len(n.Inputs)).
		WithPayload("outputs", len(n.Outputs)))
	return n.clone(), nil
}

// RemoveNode deletes a node and its connections.
func (s *Session) RemoveNode(ctx context.Context, id string) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if nt, ok := s.compiled.Registry.NodeType(n.Type); ok && !nt.Deletable {
		return Change{}, fmt.Errorf("%w: %q", ErrNodeNotDeletable, id)
	}
	var change Change
	s.deleteNode(ctx, n, &change)
	s.settle(ctx, &change, s.neighbours(change.DroppedConnections, id)...)
	return change, nil
}

func (s *Session) deleteNode(ctx context.Context, n *Node, change *Change) {
	kept := s.conns[:0]
	for _, c := range s.conns {
		if c.FromNode == n.ID || c.ToNode == n.ID {
			change.DroppedConnections = append(change.DroppedConnections, c)
			s.emitConnection(ctx, EventConnectionRemoved, c, "node removed")
			continue
		}
		kept = append(kept, c)
	}
	s.conns = kept
	delete(s.nodes, n.ID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == n.ID })
	change.RemovedNodes = append(change.RemovedNodes, n.ID)
	s.engine.emitCtx(ctx, NewEvent(EventNodeRemoved, s.compiled.ID).WithNode(n.ID, n.Type))
}

// SetValue applies a user edit to an unconnected input port's control. The
// edit is parsed by the control; an accepted edit emits one value.changed
// event and re-resolves the node.
func (s *Session) SetValue(ctx context.Context, nodeID, port, controlName string, raw any) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownNode, nodeID)
	}
	p, ok := findPort(n.Inputs, port)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s.%s", ErrUnknownPort, nodeID, port)
	}
	if s.inbound(nodeID, port) {
		return Change{}, fmt.Errorf("%w: %s.%s", ErrPortConnected, nodeID, port)
	}
	idx := slices.IndexFunc(p.Controls, func(c control.Control) bool { return c.Name == controlName })
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s.%s.%s", ErrUnknownControl, nodeID, port, controlName)
	}

	sink := func(ev control.ValueChanged) {
		if n.InputData[ev.Port] == nil {
			n.InputData[ev.Port] = map[string]any{}
		}
		n.InputData[ev.Port][ev.Control] = ev.Value
		s.engine.emitCtx(ctx, NewEvent(EventValueChanged, s.compiled.ID).
			WithNode(n.ID, n.Type).
			WithPayload("port", ev.Port).
			WithPayload("control", ev.Control).
			WithPayload("value", ev.Value))
	}
	if err := p.Controls[idx].Change(sink, port, raw); err != nil {
		return Change{}, err
	}

	var change Change
	s.settle(ctx, &change, nodeID)
	return change, nil
}

// Connect links two ports after checking that both exist and that the input
// accepts the output's type.
func (s *Session) Connect(ctx context.Context, c Connection) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.nodes[c.FromNode]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownNode, c.FromNode)
	}
	to, ok := s.nodes[c.ToNode]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownNode, c.ToNode)
	}
	out, ok := findPort(from.Outputs, c.FromPort)
	if !ok {
		return Change{}, fmt.Errorf("%w: output %s.%s", ErrUnknownPort, c.FromNode, c.FromPort)
	}
	in, ok := findPort(to.Inputs, c.ToPort)
	if !ok {
		return Change{}, fmt.Errorf("%w: input %s.%s", ErrUnknownPort, c.ToNode, c.ToPort)
	}
	if slices.Contains(s.conns, c) {
		return Change{}, ErrDuplicateConnection
	}
	if !s.compiled.Registry.CanConnect(out.Type, in) {
		return Change{}, fmt.Errorf("%w: %s -> %s", ErrIncompatiblePorts, out.Type, in.Type)
	}

	s.conns = append(s.conns, c)
	s.emitConnection(ctx, EventConnectionAdded, c, "")

	var change Change
	s.settle(ctx, &change, c.ToNode, c.FromNode)
	return change, nil
}

// Disconnect removes a connection.
func (s *Session) Disconnect(ctx context.Context, c Connection) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.Index(s.conns, c)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: no connection %s.%s -> %s.%s", ErrUnknownPort, c.FromNode, c.FromPort, c.ToNode, c.ToPort)
	}
	s.conns = slices.Delete(s.conns, idx, idx+1)
	s.emitConnection(ctx, EventConnectionRemoved, c, "disconnected")

	var change Change
	s.settle(ctx, &change, c.ToNode, c.FromNode)
	return change, nil
}

// SetStatus applies a status overlay. Unknown node ids are ignored; an
// empty status clears the node's status.
func (s *Session) SetStatus(ctx context.Context, statuses map[string]Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range slices.Sorted(maps.Keys(statuses)) {
		n, ok := s.nodes[id]
		if !ok || n.Status == statuses[id] {
			continue
		}
		n.Status = statuses[id]
		s.engine.emitCtx(ctx, NewEvent(EventNodeStatus, s.compiled.ID).
			WithNode(n.ID, n.Type).
			WithPayload("status", string(n.Status)))
	}
}

// Reload switches the session to the engine's current configuration. Nodes
// whose type no longer exists are removed; every other node is re-resolved
// against the new registry.
func (s *Session) Reload(ctx context.Context) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compiled := s.engine.Current()
	if compiled == nil {
		return Change{}, ErrNotLoaded
	}
	if compiled == s.compiled {
		return Change{}, nil
	}
	s.compiled = compiled

	var change Change
	for _, id := range slices.Clone(s.order) {
		n := s.nodes[id]
		if !compiled.Registry.HasNodeType(n.Type) {
			s.deleteNode(ctx, n, &change)
		}
	}
	s.settle(ctx, &change, s.order...)
	return change, nil
}

// settle re-resolves the queued nodes and, transitively, every node whose
// connections changed because a port disappeared.
func (s *Session) settle(ctx context.Context, change *Change, queue ...string) {
	visits := make(map[string]int)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		visits[id]++
		if visits[id] > maxSettleVisits {
			s.engine.logger.Warn("port resolution did not settle", "node_id", id, "node_type", n.Type)
			continue
		}

		if diff := s.resolveNode(ctx, n); !diff.Inputs.Empty() || !diff.Outputs.Empty() {
			change.Nodes = append(change.Nodes, diff)
		}
		dropped := s.prune(ctx, n)
		change.DroppedConnections = append(change.DroppedConnections, dropped...)
		queue = append(queue, s.neighbours(dropped, id)...)
	}
}

// resolveNode recomputes both port lists of n and fills default values for
// new input controls.
func (s *Session) resolveNode(ctx context.Context, n *Node) NodeDiff {
	req := ResolveRequest{
		NodeID:      n.ID,
		NodeType:    n.Type,
		InputData:   n.InputData,
		Connections: s.connectionsOf(n.ID),
		Context:     s.hostCtx,
	}
	req.Side = SideInputs
	inputs, _ := s.engine.Resolve(ctx, s.compiled, req)
	req.Side = SideOutputs
	outputs, _ := s.engine.Resolve(ctx, s.compiled, req)

	diff := NodeDiff{
		NodeID:  n.ID,
		Inputs:  DiffPorts(n.Inputs, inputs),
		Outputs: DiffPorts(n.Outputs, outputs),
	}
	n.Inputs, n.Outputs = inputs, outputs

	for _, p := range n.Inputs {
		values := n.InputData[p.Name]
		for _, c := range p.Controls {
			if !c.Editable() {
				continue
			}
			if values == nil {
				values = map[string]any{}
				n.InputData[p.Name] = values
			}
			if _, ok := values[c.Name]; !ok {
				values[c.Name] = c.DefaultValue
			}
		}
	}
	return diff
}

// prune drops the connections of n whose ports are gone or no longer
// type-compatible.
func (s *Session) prune(ctx context.Context, n *Node) []Connection {
	var dropped []Connection
	kept := s.conns[:0]
	for _, c := range s.conns {
		if s.valid(c) {
			kept = append(kept, c)
			continue
		}
		if c.FromNode != n.ID && c.ToNode != n.ID {
			kept = append(kept, c)
			continue
		}
		dropped = append(dropped, c)
		s.emitConnection(ctx, EventConnectionRemoved, c, "port removed")
	}
	s.conns = kept
	return dropped
}

func (s *Session) valid(c Connection) bool {
	from, ok := s.nodes[c.FromNode]
	if !ok {
		return false
	}
	to, ok := s.nodes[c.ToNode]
	if !ok {
		return false
	}
	out, ok := findPort(from.Outputs, c.FromPort)
	if !ok {
		return false
	}
	in, ok := findPort(to.Inputs, c.ToPort)
	if !ok {
		return false
	}
	return s.compiled.Registry.CanConnect(out.Type, in)
}

// neighbours returns the endpoints of conns other than self.
func (s *Session) neighbours(conns []Connection, self string) []string {
	var ids []string
	for _, c := range conns {
		for _, id := range []string{c.FromNode, c.ToNode} {
			if id != self && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (s *Session) inbound(nodeID, port string) bool {
	for _, c := range s.conns {
		if c.ToNode == nodeID && c.ToPort == port {
			return true
		}
	}
	return false
}

// connectionsOf builds the read-only connection view handed to resolvers.
func (s *Session) connectionsOf(nodeID string) registry.Connections {
	view := registry.Connections{
		Inputs:  map[string][]registry.ConnectionRef{},
		Outputs: map[string][]registry.ConnectionRef{},
	}
	for _, c := range s.conns {
		if c.ToNode == nodeID {
			view.Inputs[c.ToPort] = append(view.Inputs[c.ToPort], registry.ConnectionRef{NodeID: c.FromNode, PortName: c.FromPort})
		}
		if c.FromNode == nodeID {
			view.Outputs[c.FromPort] = append(view.Outputs[c.FromPort], registry.ConnectionRef{NodeID: c.ToNode, PortName: c.ToPort})
		}
	}
	return view
}

func (s *Session) emitConnection(ctx context.Context, kind EventKind, c Connection, reason string) {
	ev := NewEvent(kind, s.compiled.ID).
		WithNode(c.ToNode, "").
		WithPayload("from_node", c.FromNode).
		WithPayload("from_port", c.FromPort).
		WithPayload("to_node", c.ToNode).
		WithPayload("to_port", c.ToPort)
	if reason != "" {
		ev = ev.WithPayload("reason", reason)
	}
	s.engine.emitCtx(ctx, ev)
}
