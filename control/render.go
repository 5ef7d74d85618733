package control

import (
	"fmt"
	"strconv"
)

// suppressedEvents are stopped at every control's root element so that
// interacting with a control never drags the node that hosts it.
var suppressedEvents = []string{"pointerdown", "mousedown"}

// PortMeta describes the port a control is rendered for.
type PortMeta struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// RenderInput is everything a render contract may read. Rendering is a pure
// function of it.
type RenderInput struct {
	Value     any
	Context   map[string]any
	Port      PortMeta
	InputData map[string]map[string]any
}

// Fragment is a renderer-agnostic UI description.
type Fragment struct {
	Element         string            `json:"element"`
	Attrs           map[string]string `json:"attrs,omitempty"`
	Text            string            `json:"text,omitempty"`
	Options         []Choice          `json:"options,omitempty"`
	Children        []Fragment        `json:"children,omitempty"`
	EmitOn          string            `json:"emitOn,omitempty"` // "input" emits on every change, "change" on commit
	StopPropagation []string          `json:"stopPropagation,omitempty"`
}

// Render produces the control's fragment. A nil value renders the default.
func (c Control) Render(in RenderInput) Fragment {
	b, ok := behaviors[c.Kind]
	if !ok {
		b = behaviors[KindLabel]
	}
	if in.Value == nil {
		in.Value = c.DefaultValue
	}
	f := b.render(&c, in)
	f.StopPropagation = append([]string(nil), suppressedEvents...)
	return f
}

func (c *Control) baseAttrs() map[string]string {
	attrs := map[string]string{
		"name":       c.Name,
		"aria-label": c.Label,
	}
	if c.Placeholder != "" {
		attrs["placeholder"] = c.Placeholder
	}
	return attrs
}

func inputRenderer(inputType string) func(c *Control, in RenderInput) Fragment {
	return func(c *Control, in RenderInput) Fragment {
		attrs := c.baseAttrs()
		attrs["type"] = inputType
		attrs["value"] = formatValue(in.Value)
		if c.Step != nil {
			attrs["step"] = formatValue(*c.Step)
		}
		if c.Min != nil {
			attrs["min"] = formatValue(*c.Min)
		}
		if c.Max != nil {
			attrs["max"] = formatValue(*c.Max)
		}
		return Fragment{Element: "input", Attrs: attrs, EmitOn: "change"}
	}
}

func renderCheckbox(c *Control, in RenderInput) Fragment {
	attrs := c.baseAttrs()
	attrs["type"] = "checkbox"
	if b, _ := in.Value.(bool); b {
		attrs["checked"] = "checked"
	}
	return Fragment{
		Element: "label",
		Children: []Fragment{
			{Element: "input", Attrs: attrs, EmitOn: "change"},
			{Element: "span", Text: c.Label},
		},
	}
}

func renderSelect(c *Control, in RenderInput) Fragment {
	attrs := c.baseAttrs()
	if c.Kind == KindMultiSelect {
		attrs["multiple"] = "multiple"
		if items, ok := in.Value.([]any); ok {
			attrs["data-selected"] = strconv.Itoa(len(items))
		}
	} else {
		attrs["value"] = formatValue(in.Value)
	}
	return Fragment{Element: "select", Attrs: attrs, Options: c.Choices, EmitOn: "change"}
}

func renderRange(c *Control, in RenderInput) Fragment {
	attrs := c.baseAttrs()
	attrs["type"] = "range"
	attrs["value"] = formatValue(in.Value)
	lo, hi := c.bounds()
	attrs["min"] = formatValue(lo)
	attrs["max"] = formatValue(hi)
	if c.Step != nil {
		attrs["step"] = formatValue(*c.Step)
	}
	return Fragment{
		Element: "div",
		Children: []Fragment{
			{Element: "input", Attrs: attrs, EmitOn: "input"},
			{Element: "label", Text: formatValue(in.Value), Attrs: map[string]string{"data-role": "range-value"}},
		},
	}
}

func renderLabel(c *Control, in RenderInput) Fragment {
	text := in.Port.Label
	if text == "" {
		text = c.Label
	}
	return Fragment{
		Element: "label",
		Text:    text,
		Attrs:   map[string]string{"data-flume-component": "port-label"},
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
