package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/resolver"
	"github.com/petal-labs/nodeschema/schema"
)

// ErrNotLoaded is returned when no configuration has been published yet.
var ErrNotLoaded = errors.New("no configuration loaded")

// Side selects a node's inputs or outputs.
type Side string

const (
	SideInputs  Side = "inputs"
	SideOutputs Side = "outputs"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Compile is passed to every compilation.
	Compile compile.Options

	// Namespace is the host's named resolver namespace. The built-in
	// resolvers are consulted after it.
	Namespace resolver.Namespace

	// EventHandler receives every event.
	EventHandler EventHandler

	// EventBus distributes events to subscribers.
	EventBus EventPublisher

	// EventEmitterDecorator wraps the internal event emitter.
	EventEmitterDecorator EventEmitterDecorator

	Logger *slog.Logger

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Engine owns the published configuration and runs dynamic resolvers
// against it. Loads are serialized; the published configuration is swapped
// atomically once it is fully compiled and sealed.
type Engine struct {
	cfg       EngineConfig
	logger    *slog.Logger
	namespace resolver.Namespace
	emit      EventEmitter
	seq       atomic.Uint64 // event sequence, 1-indexed

	loadMu  sync.Mutex
	current atomic.Pointer[compile.Compiled]

	// unresolved records (config, node type, name) triples already reported
	// for the published configuration. Cleared on replacement.
	unresolved sync.Map
}

// NewEngine creates an engine with no configuration loaded.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Compile.Logger == nil {
		cfg.Compile.Logger = cfg.Logger
	}
	if cfg.Compile.Now == nil {
		cfg.Compile.Now = cfg.Now
	}

	e := &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		namespace: resolver.Chain(cfg.Namespace, resolver.Builtins()),
	}
	emit := func(ev Event) {
		if cfg.EventBus != nil {
			cfg.EventBus.Publish(ev)
		}
		if cfg.EventHandler != nil {
			cfg.EventHandler(ev)
		}
	}
	if cfg.EventEmitterDecorator != nil {
		emit = cfg.EventEmitterDecorator(emit)
	}
	e.emit = emit
	return e
}

// Emit publishes an event through the engine's handlers.
func (e *Engine) Emit(ev Event) {
	e.emit(e.stamp(ev))
}

func (e *Engine) emitCtx(ctx context.Context, ev Event) {
	ev = e.stamp(ev)
	e.emit(ev)
	EmitterFrom(ctx)(ev)
}

// stamp assigns the sequence number and, when missing, the time.
func (e *Engine) stamp(ev Event) Event {
	ev.Seq = e.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = e.cfg.Now()
	}
	return ev
}

// Current returns the published configuration, or nil before the first load.
func (e *Engine) Current() *compile.Compiled {
	return e.current.Load()
}

// Load compiles cfg and publishes it. When cfg hashes the same as the
// published configuration, the published one is returned and reused is true.
func (e *Engine) Load(ctx context.Context, cfg *schema.Config) (compiled *compile.Compiled, reused bool, err error) {
	hash, err := cfg.Hash()
	if err != nil {
		return nil, false, err
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if cur := e.current.Load(); cur != nil && cur.Hash == hash {
		e.emitCtx(ctx, NewEvent(EventConfigReused, cur.ID).WithPayload("hash", hash))
		return cur, true, nil
	}

	start := e.cfg.Now()
	compiled, err = compile.Compile(cfg, e.cfg.Compile)
	if err != nil {
		return nil, false, fmt.Errorf("compiling configuration: %w", err)
	}
	elapsed := e.cfg.Now().Sub(start)

	var previous string
	if prev := e.current.Swap(compiled); prev != nil {
		previous = prev.ID
		e.unresolved.Clear()
	}

	ports, nodes := compiled.Registry.Len()
	e.logger.Info("configuration published",
		"config_id", compiled.ID,
		"config_hash", compiled.Hash,
		"port_types", ports,
		"node_types", nodes,
		"errors", len(schema.Errors(compiled.Diagnostics)),
		"warnings", len(schema.Warnings(compiled.Diagnostics)),
	)
	e.emitCtx(ctx, NewEvent(EventConfigCompiled, compiled.ID).
		WithElapsed(elapsed).
		WithPayload("hash", compiled.Hash).
		WithPayload("previous_id", previous).
		WithPayload("port_types", ports).
		WithPayload("node_types", nodes).
		WithPayload("errors", len(schema.Errors(compiled.Diagnostics))).
		WithPayload("warnings", len(schema.Warnings(compiled.Diagnostics))).
		WithPayload("type_safety", compiled.TypeSafety))
	return compiled, false, nil
}

// ResolveRequest identifies one resolver invocation.
type ResolveRequest struct {
	NodeID      string
	NodeType    string
	Side        Side
	InputData   registry.InputData
	Connections registry.Connections
	Context     map[string]any
}

// Resolve computes a node's ports against compiled. Static specs return
// their declared ports. For dynamic specs a missing named function or a
// failing resolver yields an empty port list together with the error, so
// callers can render zero dynamic ports and carry on.
func (e *Engine) Resolve(ctx context.Context, compiled *compile.Compiled, req ResolveRequest) ([]registry.PortInstance, error) {
	if compiled == nil {
		return nil, ErrNotLoaded
	}
	nt, ok := compiled.Registry.NodeType(req.NodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", registry.ErrUnknownType, registry.KindNodeType, req.NodeType)
	}
	spec := nt.Inputs
	if req.Side == SideOutputs {
		spec = nt.Outputs
	}

	var fn registry.ResolveFunc
	switch spec.Kind {
	case registry.SpecInline:
		fn = spec.Resolve
	case registry.SpecNamed:
		named, err := resolver.Lookup(e.namespace, spec.Name)
		if err != nil {
			e.reportUnresolved(ctx, compiled, req, spec.Name, err)
			return []registry.PortInstance{}, err
		}
		fn = named
	default:
		return slices.Clone(spec.Ports), nil
	}

	start := e.cfg.Now()
	ports, err := callResolver(fn, compiled.Registry, req)
	elapsed := e.cfg.Now().Sub(start)
	if err != nil {
		e.logger.Warn("dynamic port resolver failed",
			"config_id", compiled.ID,
			"node_type", req.NodeType,
			"node_id", req.NodeID,
			"side", string(req.Side),
			"error", err,
		)
		e.emitCtx(ctx, NewEvent(EventResolverFailed, compiled.ID).
			WithNode(req.NodeID, req.NodeType).
			WithElapsed(elapsed).
			WithPayload("side", string(req.Side)).
			WithPayload("spec", string(spec.Kind)).
			WithPayload("error", err.Error()))
		return []registry.PortInstance{}, err
	}

	e.emitCtx(ctx, NewEvent(EventPortsResolved, compiled.ID).
		WithNode(req.NodeID, req.NodeType).
		WithElapsed(elapsed).
		WithPayload("side", string(req.Side)).
		WithPayload("spec", string(spec.Kind)).
		WithPayload("ports", len(ports)))
	return ports, nil
}

func (e *Engine) reportUnresolved(ctx context.Context, compiled *compile.Compiled, req ResolveRequest, name string, err error) {
	key := compiled.ID + "\x00" + req.NodeType + "\x00" + name
	if _, seen := e.unresolved.LoadOrStore(key, struct{}{}); seen {
		return
	}
	e.logger.Error("named port resolver not found",
		"config_id", compiled.ID,
		"node_type", req.NodeType,
		"function", name,
		"error", err,
	)
	e.emitCtx(ctx, NewEvent(EventResolverUnresolved, compiled.ID).
		WithNode(req.NodeID, req.NodeType).
		WithPayload("side", string(req.Side)).
		WithPayload("function", name))
}

// callResolver runs fn, turning a panic into an error.
func callResolver(fn registry.ResolveFunc, ports registry.PortBuilder, req ResolveRequest) (result []registry.PortInstance, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("resolver panicked: %v", r)
		}
	}()
	conns := req.Connections
	if conns.Inputs == nil {
		conns.Inputs = map[string][]registry.ConnectionRef{}
	}
	if conns.Outputs == nil {
		conns.Outputs = map[string][]registry.ConnectionRef{}
	}
	in := req.InputData
	if in == nil {
		in = registry.InputData{}
	}
	result, err = fn(ports, in, conns, req.Context)
	if err == nil && result == nil {
		result = []registry.PortInstance{}
	}
	return result, err
}
