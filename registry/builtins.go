package registry

import (
	"errors"
	"time"

	"github.com/petal-labs/nodeschema/control"
)

// ObjectType is the id of the universal port type.
const ObjectType = "object"

type standardPort struct {
	id      string
	label   string
	color   string
	accept  []string
	control control.Kind
}

var standardPorts = []standardPort{
	{id: "int", label: "Integer", color: "green", control: control.KindInteger},
	{id: "float", label: "Float", color: "blue", accept: []string{"float", "int"}, control: control.KindFloat},
	{id: "str", label: "Text", color: "yellow", control: control.KindText},
	{id: "bool", label: "Boolean", color: "pink", control: control.KindCheckbox},
	{id: "color", label: "Color", color: "purple", control: control.KindColor},
	{id: "date", label: "Date", color: "orange", control: control.KindDate},
	{id: "time", label: "Time", color: "orange", control: control.KindTime},
	{id: "month", label: "Month", color: "orange", control: control.KindMonth},
	{id: "week", label: "Week", color: "orange", control: control.KindWeek},
	{id: ObjectType, label: "Object", color: "grey"},
}

// StandardPortTypeIDs returns the ids of the built-in port types in
// registration order.
func StandardPortTypeIDs() []string {
	ids := make([]string, 0, len(standardPorts))
	for _, sp := range standardPorts {
		ids = append(ids, sp.id)
	}
	return ids
}

// StandardPortTypes returns the built-in port types. Each carries one control
// named after the type, except object which is label-only and universal.
func StandardPortTypes(now func() time.Time) ([]PortType, error) {
	result := make([]PortType, 0, len(standardPorts))
	for _, sp := range standardPorts {
		pt := PortType{
			Type:        sp.id,
			Name:        sp.id,
			Label:       sp.label,
			Color:       sp.color,
			AcceptTypes: sp.accept,
		}
		if sp.control == "" {
			pt.Universal = true
			pt.Controls = []control.Control{control.Label(sp.id, sp.label)}
		} else {
			c, err := control.Resolve(string(sp.control), control.Options{Name: sp.id, Label: sp.label, Now: now})
			if err != nil {
				return nil, err
			}
			pt.Controls = []control.Control{c}
		}
		result = append(result, pt)
	}
	return result, nil
}

// RegisterStandard registers the built-in port types, skipping ids that are
// already present.
func RegisterStandard(r *Registry, now func() time.Time) error {
	types, err := StandardPortTypes(now)
	if err != nil {
		return err
	}
	for _, pt := range types {
		if err := r.RegisterPortType(pt); err != nil && !errors.Is(err, ErrDuplicateType) {
			return err
		}
	}
	return nil
}
