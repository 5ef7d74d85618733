package resolver

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/petal-labs/nodeschema/registry"
)

const (
	// DefaultCostLimit bounds the runtime cost of one inline evaluation.
	DefaultCostLimit uint64 = 100_000
	// maxSeq bounds seq(n).
	maxSeq = 1024
)

// inlineEnv declares the capability surface of inline port expressions:
//
//	inputData                      port name -> control name -> value
//	connections                    {"inputs": {port: [{nodeId, portName}]}, "outputs": ...}
//	context                        host context map
//	port(type, name[, label])      a port description
//	hidden_port(type, name[, label])
//	placeholders(text)             distinct {name} placeholders, first-seen order
//	input_value(inputData, port)   first control value of a port, or ""
//	connected(connections, prefix) connected input ports whose name has prefix
//	seq(n)                         [0, 1, ..., n-1]
//
// An expression evaluates to a list of port descriptions.
var inlineEnv = sync.OnceValues(func() (*celgo.Env, error) {
	portType := celgo.MapType(celgo.StringType, celgo.DynType)
	return celgo.NewEnv(
		celgo.Variable("inputData", celgo.DynType),
		celgo.Variable("connections", celgo.DynType),
		celgo.Variable("context", celgo.DynType),
		celgo.Function("port",
			celgo.Overload("port_type_name",
				[]*celgo.Type{celgo.StringType, celgo.StringType}, portType,
				celgo.BinaryBinding(func(t, n ref.Val) ref.Val {
					return portValue(t, n, n, false)
				}),
			),
			celgo.Overload("port_type_name_label",
				[]*celgo.Type{celgo.StringType, celgo.StringType, celgo.StringType}, portType,
				celgo.FunctionBinding(func(args ...ref.Val) ref.Val {
					return portValue(args[0], args[1], args[2], false)
				}),
			),
		),
		celgo.Function("hidden_port",
			celgo.Overload("hidden_port_type_name",
				[]*celgo.Type{celgo.StringType, celgo.StringType}, portType,
				celgo.BinaryBinding(func(t, n ref.Val) ref.Val {
					return portValue(t, n, n, true)
				}),
			),
			celgo.Overload("hidden_port_type_name_label",
				[]*celgo.Type{celgo.StringType, celgo.StringType, celgo.StringType}, portType,
				celgo.FunctionBinding(func(args ...ref.Val) ref.Val {
					return portValue(args[0], args[1], args[2], true)
				}),
			),
		),
		celgo.Function("placeholders",
			celgo.Overload("placeholders_string",
				[]*celgo.Type{celgo.StringType}, celgo.ListType(celgo.StringType),
				celgo.UnaryBinding(func(v ref.Val) ref.Val {
					s, ok := v.(types.String)
					if !ok {
						return types.NewErr("placeholders: expected string, got %s", v.Type())
					}
					names, _ := Placeholders(string(s))
					return types.NewStringList(types.DefaultTypeAdapter, names)
				}),
			),
		),
		celgo.Function("input_value",
			celgo.Overload("input_value_dyn_string",
				[]*celgo.Type{celgo.DynType, celgo.StringType}, celgo.DynType,
				celgo.BinaryBinding(func(in, port ref.Val) ref.Val {
					values, _ := asMap(in.Value())[string(port.(types.String))].(map[string]any)
					v := firstValue(values, string(port.(types.String)))
					if v == nil {
						return types.String("")
					}
					return types.DefaultTypeAdapter.NativeToValue(v)
				}),
			),
		),
		celgo.Function("connected",
			celgo.Overload("connected_dyn_string",
				[]*celgo.Type{celgo.DynType, celgo.StringType}, celgo.IntType,
				celgo.BinaryBinding(func(conns, prefix ref.Val) ref.Val {
					inputs := asMap(asMap(conns.Value())["inputs"])
					n := 0
					for name, refs := range inputs {
						list, _ := refs.([]any)
						if strings.HasPrefix(name, string(prefix.(types.String))) && len(list) > 0 {
							n++
						}
					}
					return types.Int(n)
				}),
			),
		),
		celgo.Function("seq",
			celgo.Overload("seq_int",
				[]*celgo.Type{celgo.IntType}, celgo.ListType(celgo.IntType),
				celgo.UnaryBinding(func(v ref.Val) ref.Val {
					n, ok := v.(types.Int)
					if !ok || n < 0 || n > maxSeq {
						return types.NewErr("seq: count must be within 0..%d", maxSeq)
					}
					out := make([]int64, n)
					for i := range out {
						out[i] = int64(i)
					}
					return types.DefaultTypeAdapter.NativeToValue(out)
				}),
			),
		),
	)
})

func portValue(typ, name, label ref.Val, hidden bool) ref.Val {
	m := map[string]any{
		"type":  string(typ.(types.String)),
		"name":  string(name.(types.String)),
		"label": string(label.(types.String)),
	}
	if hidden {
		m["hidePort"] = true
	}
	return types.DefaultTypeAdapter.NativeToValue(m)
}

// CompileInline compiles an inline port expression into a resolver. Parse,
// type-check and result-type failures wrap ErrCompilation. A costLimit of 0
// uses DefaultCostLimit.
func CompileInline(source string, costLimit uint64) (registry.ResolveFunc, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrCompilation)
	}
	env, err := inlineEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrCompilation, err)
	}

	ast, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrCompilation, issues.Err())
	}
	ast, issues = env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: type-check: %v", ErrCompilation, issues.Err())
	}
	switch ast.OutputType().Kind() {
	case types.ListKind, types.DynKind:
	default:
		return nil, fmt.Errorf("%w: expression must return a list of ports, got %s", ErrCompilation, ast.OutputType())
	}

	if costLimit == 0 {
		costLimit = DefaultCostLimit
	}
	prg, err := env.Program(ast, celgo.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: program: %v", ErrCompilation, err)
	}

	return func(ports registry.PortBuilder, in registry.InputData, conns registry.Connections, ctx map[string]any) ([]registry.PortInstance, error) {
		out, _, err := prg.Eval(map[string]any{
			"inputData":   inputDataValue(in),
			"connections": connectionsValue(conns),
			"context":     contextValue(ctx),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluating inline ports: %w", err)
		}
		items, ok := normalizeCELValue(out).([]any)
		if !ok {
			return nil, fmt.Errorf("inline ports: expected a list, got %T", out.Value())
		}
		result := make([]registry.PortInstance, 0, len(items))
		for i, item := range items {
			p, err := portFromValue(ports, item)
			if err != nil {
				return nil, fmt.Errorf("inline ports[%d]: %w", i, err)
			}
			result = append(result, p)
		}
		return result, nil
	}, nil
}

func portFromValue(ports registry.PortBuilder, v any) (registry.PortInstance, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return registry.PortInstance{}, fmt.Errorf("expected a port map, got %T", v)
	}
	typeID, _ := m["type"].(string)
	if typeID == "" {
		return registry.PortInstance{}, fmt.Errorf("port has no type")
	}
	var o registry.Overrides
	o.Name, _ = m["name"].(string)
	o.Label, _ = m["label"].(string)
	o.Color, _ = m["color"].(string)
	if hide, ok := m["hidePort"].(bool); ok {
		o.HidePort = &hide
	}
	if accept, ok := m["acceptTypes"].([]any); ok {
		for _, a := range accept {
			if s, ok := a.(string); ok {
				o.AcceptTypes = append(o.AcceptTypes, s)
			}
		}
	}
	return ports.Port(typeID, o)
}

func inputDataValue(in registry.InputData) map[string]any {
	out := make(map[string]any, len(in))
	for port, values := range in {
		m := make(map[string]any, len(values))
		for k, v := range values {
			m[k] = v
		}
		out[port] = m
	}
	return out
}

func connectionsValue(conns registry.Connections) map[string]any {
	side := func(refs map[string][]registry.ConnectionRef) map[string]any {
		out := make(map[string]any, len(refs))
		for port, list := range refs {
			items := make([]any, 0, len(list))
			for _, r := range list {
				items = append(items, map[string]any{"nodeId": r.NodeID, "portName": r.PortName})
			}
			out[port] = items
		}
		return out
	}
	return map[string]any{
		"inputs":  side(conns.Inputs),
		"outputs": side(conns.Outputs),
	}
}

func contextValue(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return ctx
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// firstValue returns the control value named preferred, or the value of the
// lowest control name.
func firstValue(values map[string]any, preferred string) any {
	if len(values) == 0 {
		return nil
	}
	if v, ok := values[preferred]; ok {
		return v
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return values[keys[0]]
}

// normalizeCELValue converts CEL results into JSON-like Go values: ref.Val
// is unwrapped, map keys become strings, nested maps and lists are
// normalized.
func normalizeCELValue(v any) any {
	if rv, ok := v.(ref.Val); ok {
		return normalizeCELValue(rv.Value())
	}
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(normalizeCELValue(iter.Key().Interface()))
			out[k] = normalizeCELValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = normalizeCELValue(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}
