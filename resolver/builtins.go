package resolver

import (
	"fmt"
	"strings"

	"github.com/petal-labs/nodeschema/registry"
)

const (
	// TemplatePort is the input holding the template text.
	TemplatePort = "template"
	// GroupPrefix names the ports counted by the connection-count resolvers.
	GroupPrefix = "port"
)

// Builtins returns a namespace with the built-in resolvers:
//
//	template_ports          one str port per distinct {placeholder}
//	dynamic_ports           alias of template_ports
//	increasing_ports        port0..portN for N connected group ports
//	increasing_ports_upload as increasing_ports, also counting uploads
func Builtins() *MapNamespace {
	return NewNamespace(map[string]registry.ResolveFunc{
		"template_ports":          TemplatePorts,
		"dynamic_ports":           TemplatePorts,
		"increasing_ports":        IncreasingPorts,
		"increasing_ports_upload": IncreasingUploadPorts,
	})
}

// TemplatePorts returns a hidden "template" port followed by one str port
// per distinct placeholder of the template input, in first-seen order.
// Malformed placeholders are skipped.
func TemplatePorts(ports registry.PortBuilder, in registry.InputData, _ registry.Connections, _ map[string]any) ([]registry.PortInstance, error) {
	hidden := true
	tmpl, err := ports.Port("str", registry.Overrides{Name: TemplatePort, Label: "Template", HidePort: &hidden})
	if err != nil {
		return nil, err
	}
	names, _ := Placeholders(TemplateText(in))
	result := make([]registry.PortInstance, 0, len(names)+1)
	result = append(result, tmpl)
	for _, name := range names {
		p, err := ports.Port("str", registry.Overrides{Name: name, Label: name})
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// TemplateText returns the first control value of the template input. A
// control named "template" wins; otherwise the lowest control name is used.
func TemplateText(in registry.InputData) string {
	s, _ := firstValue(in[TemplatePort], TemplatePort).(string)
	return s
}

// IncreasingPorts returns N+1 str ports named port0..portN, where N is the
// number of connected group ports, so one empty slot is always offered.
func IncreasingPorts(ports registry.PortBuilder, _ registry.InputData, conns registry.Connections, _ map[string]any) ([]registry.PortInstance, error) {
	return numberedPorts(ports, "str", "String", ConnectedGroupPorts(conns))
}

// IncreasingUploadPorts sizes the list like IncreasingPorts but also counts
// unconnected group ports whose input data carries an upload.
func IncreasingUploadPorts(ports registry.PortBuilder, in registry.InputData, conns registry.Connections, _ map[string]any) ([]registry.PortInstance, error) {
	n := ConnectedGroupPorts(conns)
	for name, values := range in {
		if !strings.HasPrefix(name, GroupPrefix) || len(conns.Inputs[name]) > 0 {
			continue
		}
		if hasUpload(values) {
			n++
		}
	}
	return numberedPorts(ports, registry.ObjectType, "Upload", n)
}

// ConnectedGroupPorts counts the group input ports with at least one
// connection.
func ConnectedGroupPorts(conns registry.Connections) int {
	n := 0
	for name, refs := range conns.Inputs {
		if strings.HasPrefix(name, GroupPrefix) && len(refs) > 0 {
			n++
		}
	}
	return n
}

func hasUpload(values map[string]any) bool {
	if b, _ := values["uploaded"].(bool); b {
		return true
	}
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			if b, _ := m["uploaded"].(bool); b {
				return true
			}
		}
	}
	return false
}

func numberedPorts(ports registry.PortBuilder, typeID, label string, n int) ([]registry.PortInstance, error) {
	result := make([]registry.PortInstance, 0, n+1)
	for i := 0; i <= n; i++ {
		p, err := ports.Port(typeID, registry.Overrides{
			Name:  fmt.Sprintf("%s%d", GroupPrefix, i),
			Label: fmt.Sprintf("%s %d", label, i),
		})
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}
