// Package control resolves declarative control kinds into control
// descriptors: the editable widget bound to an unconnected input port. Each
// kind has a default value, a parser for user edits and a render contract.
package control

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownKind  = errors.New("unknown control kind")
	ErrInvalidValue = errors.New("invalid control value")
	ErrNotEditable  = errors.New("control is not editable")
)

// Kind is the closed set of control kinds.
type Kind string

const (
	KindText        Kind = "text"
	KindNumber      Kind = "number"
	KindInteger     Kind = "int"
	KindFloat       Kind = "float"
	KindCheckbox    Kind = "checkbox"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multiselect"
	KindColor       Kind = "color"
	KindDate        Kind = "date"
	KindTime        Kind = "time"
	KindMonth       Kind = "month"
	KindWeek        Kind = "week"
	KindRange       Kind = "range"
	KindLabel       Kind = "label"
)

var kindAliases = map[string]Kind{
	"str":     KindText,
	"string":  KindText,
	"integer": KindInteger,
	"bool":    KindCheckbox,
	"boolean": KindCheckbox,
	"slider":  KindRange,
}

// ParseKind normalizes a declared kind name, resolving aliases.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if k, ok := kindAliases[n]; ok {
		return k, nil
	}
	if _, ok := behaviors[Kind(n)]; ok {
		return Kind(n), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, name)
}

// Kinds returns every canonical kind.
func Kinds() []Kind {
	return []Kind{
		KindText, KindNumber, KindInteger, KindFloat, KindCheckbox,
		KindSelect, KindMultiSelect, KindColor, KindDate, KindTime,
		KindMonth, KindWeek, KindRange, KindLabel,
	}
}

// Choice is one entry of a select or multiselect option list.
type Choice struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Options configures Resolve. Extra keys are carried to the control untouched.
type Options struct {
	Name         string
	Label        string
	Placeholder  string
	DefaultValue any
	Min          *float64
	Max          *float64
	Step         *float64
	Choices      []Choice
	Extra        map[string]any

	// Now supplies the clock for date-like defaults (default time.Now).
	Now func() time.Time
}

// Control is a resolved control descriptor.
type Control struct {
	Kind         Kind           `json:"type"`
	Name         string         `json:"name"`
	Label        string         `json:"label"`
	Placeholder  string         `json:"placeHolder,omitempty"`
	DefaultValue any            `json:"defaultValue"`
	Min          *float64       `json:"min,omitempty"`
	Max          *float64       `json:"max,omitempty"`
	Step         *float64       `json:"step,omitempty"`
	Choices      []Choice       `json:"options,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ValueChanged is emitted once for every accepted user edit.
type ValueChanged struct {
	Port    string `json:"port"`
	Control string `json:"control"`
	Value   any    `json:"value"`
}

// Sink consumes ValueChanged events.
type Sink func(ValueChanged)

// Resolve builds the control for kind. A declared default value is parsed
// with the kind's own parser, so it must be a valid value for that kind.
func Resolve(kind string, opts Options) (Control, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Control{}, err
	}
	b := behaviors[k]

	c := Control{
		Kind:        k,
		Name:        opts.Name,
		Label:       opts.Label,
		Placeholder: opts.Placeholder,
		Min:         opts.Min,
		Max:         opts.Max,
		Step:        opts.Step,
		Choices:     opts.Choices,
		Extra:       opts.Extra,
	}
	if c.Label == "" {
		c.Label = c.Name
	}
	if c.Step == nil && b.step > 0 {
		c.Step = ptr(b.step)
	}
	if k == KindRange {
		if c.Min == nil {
			c.Min = ptr(0)
		}
		if c.Max == nil {
			c.Max = ptr(100)
		}
		if *c.Min > *c.Max {
			return Control{}, fmt.Errorf("%w: range min %v exceeds max %v", ErrInvalidValue, *c.Min, *c.Max)
		}
	}

	if opts.DefaultValue != nil && b.parse != nil {
		v, err := b.parse(&c, opts.DefaultValue)
		if err != nil {
			return Control{}, fmt.Errorf("control %q default: %w", opts.Name, err)
		}
		c.DefaultValue = v
	} else {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		c.DefaultValue = b.defaultValue(&c, now())
	}
	return c, nil
}

// Label returns the non-interactive, label-only control used when a port
// type declares no controls.
func Label(name, label string) Control {
	return Control{Kind: KindLabel, Name: name, Label: label}
}

// Editable reports whether the control accepts user edits.
func (c Control) Editable() bool {
	return behaviors[c.Kind].parse != nil
}

// Parse converts a raw edit into the control's value type.
func (c Control) Parse(raw any) (any, error) {
	b, ok := behaviors[c.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, c.Kind)
	}
	if b.parse == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotEditable, c.Kind)
	}
	return b.parse(&c, raw)
}

// Change parses a user edit and, when it is valid, delivers exactly one
// ValueChanged to sink. Invalid edits deliver nothing.
func (c Control) Change(sink Sink, port string, raw any) error {
	v, err := c.Parse(raw)
	if err != nil {
		return err
	}
	if sink != nil {
		sink(ValueChanged{Port: port, Control: c.Name, Value: v})
	}
	return nil
}

func ptr(f float64) *float64 { return &f }
