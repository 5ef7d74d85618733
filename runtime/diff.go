package runtime

import (
	"reflect"

	"github.com/petal-labs/nodeschema/registry"
)

// PortDiff is the difference between two port lists, keyed by port name.
// A port whose name survives but whose definition changed is reported as
// Changed.
type PortDiff struct {
	Added   []registry.PortInstance `json:"added,omitempty"`
	Removed []registry.PortInstance `json:"removed,omitempty"`
	Changed []registry.PortInstance `json:"changed,omitempty"`
}

// Empty reports whether the lists were identical.
func (d PortDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffPorts compares prev with next. Added and Changed follow next's order,
// Removed follows prev's order.
func DiffPorts(prev, next []registry.PortInstance) PortDiff {
	before := make(map[string]registry.PortInstance, len(prev))
	for _, p := range prev {
		before[p.Name] = p
	}
	after := make(map[string]bool, len(next))

	var d PortDiff
	for _, p := range next {
		after[p.Name] = true
		old, ok := before[p.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case !reflect.DeepEqual(old, p):
			d.Changed = append(d.Changed, p)
		}
	}
	for _, p := range prev {
		if !after[p.Name] {
			d.Removed = append(d.Removed, p)
		}
	}
	return d
}
