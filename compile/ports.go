package compile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/nodeschema/control"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/schema"
)

func (c *compiler) addPortType(decl schema.PortTypeDecl, path string) {
	if strings.TrimSpace(decl.Type) == "" {
		c.report(schema.CodePortTypeMissingID, schema.SeverityError, path+".type", "Port type has no type identifier")
		return
	}

	pt := registry.PortType{
		Type:        decl.Type,
		Name:        firstNonEmpty(decl.Name, decl.Type),
		Label:       firstNonEmpty(decl.Label, decl.Name, decl.Type),
		AcceptTypes: decl.AcceptTypes,
		HidePort:    decl.HidePort,
		Universal:   decl.Type == registry.ObjectType,
	}
	if color, ok := schema.ColorClass(decl.Color); ok {
		pt.Color = color
	}
	pt.Controls = c.controls(decl.Controls, path+".controls")
	if len(pt.Controls) == 0 {
		pt.Controls = []control.Control{control.Label(pt.Name, pt.Label)}
	}

	if err := c.reg.RegisterPortType(pt); err != nil {
		var dup *registry.DuplicateTypeError
		if errors.As(err, &dup) {
			c.logger.Debug("duplicate port type ignored", "port_type", decl.Type)
			c.report(schema.CodePortTypeDuplicate, schema.SeverityWarning, path+".type",
				"Duplicate port type %q; the first declaration is kept", decl.Type)
			return
		}
		c.logger.Error("register port type", "port_type", decl.Type, "error", err)
	}
}

// controls resolves declared controls. Unknown kinds and invalid defaults are
// reported and the control is dropped.
func (c *compiler) controls(decls []schema.ControlDecl, path string) []control.Control {
	if len(decls) == 0 {
		return nil
	}
	result := make([]control.Control, 0, len(decls))
	for i, d := range decls {
		ctl, err := control.Resolve(d.Type, controlOptions(d, c.now))
		if err != nil {
			c.logger.Warn("control skipped", "control", d.Name, "kind", d.Type, "error", err)
			c.report(schema.CodeUnknownControl, schema.SeverityError, fmt.Sprintf("%s[%d]", path, i),
				"Control %q: %v", d.Name, err)
			continue
		}
		result = append(result, ctl)
	}
	return result
}

func controlOptions(d schema.ControlDecl, now func() time.Time) control.Options {
	opts := control.Options{
		Name:         d.Name,
		Label:        d.Label,
		Placeholder:  d.PlaceHolder,
		DefaultValue: d.DefaultValue,
		Min:          d.Min,
		Max:          d.Max,
		Step:         d.Step,
		Extra:        d.Extra,
		Now:          now,
	}
	for _, o := range d.Options {
		opts.Choices = append(opts.Choices, control.Choice{Label: o.Label, Value: o.Value})
	}
	return opts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
