// Package resolver provides dynamic port resolvers: the host-supplied named
// function namespace, the built-in template and connection-count resolvers,
// and the CEL compiler for inline port expressions.
package resolver

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/petal-labs/nodeschema/registry"
)

var (
	ErrUnresolvedFunction = errors.New("unresolved function reference")
	ErrCompilation        = errors.New("inline port expression failed to compile")
)

// Namespace looks up named resolvers. The engine only reads from it.
type Namespace interface {
	Lookup(name string) (registry.ResolveFunc, bool)
}

// MapNamespace is a Namespace backed by a map. It is safe for concurrent use.
type MapNamespace struct {
	mu    sync.RWMutex
	funcs map[string]registry.ResolveFunc
}

// NewNamespace returns a namespace holding funcs.
func NewNamespace(funcs map[string]registry.ResolveFunc) *MapNamespace {
	ns := &MapNamespace{funcs: make(map[string]registry.ResolveFunc, len(funcs))}
	maps.Copy(ns.funcs, funcs)
	return ns
}

// Register adds or replaces a named resolver.
func (n *MapNamespace) Register(name string, fn registry.ResolveFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.funcs[name] = fn
}

// Lookup returns the resolver registered under name.
func (n *MapNamespace) Lookup(name string) (registry.ResolveFunc, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.funcs[name]
	return fn, ok
}

// Names returns the registered names, sorted.
func (n *MapNamespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Sorted(maps.Keys(n.funcs))
}

type chain []Namespace

func (c chain) Lookup(name string) (registry.ResolveFunc, bool) {
	for _, ns := range c {
		if ns == nil {
			continue
		}
		if fn, ok := ns.Lookup(name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Chain returns a namespace that consults each of nss in order.
func Chain(nss ...Namespace) Namespace {
	return chain(nss)
}

// Lookup resolves name in ns, returning an error wrapping
// ErrUnresolvedFunction when it is absent.
func Lookup(ns Namespace, name string) (registry.ResolveFunc, error) {
	if ns != nil {
		if fn, ok := ns.Lookup(name); ok && fn != nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnresolvedFunction, name)
}
