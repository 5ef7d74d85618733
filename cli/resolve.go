package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/runtime"
	"github.com/petal-labs/nodeschema/schema"
)

// ResolveOutput is the document written by the resolve command. A side
// that was not requested is omitted.
type ResolveOutput struct {
	NodeType string                  `json:"nodeType"`
	Inputs   []registry.PortInstance `json:"inputs,omitempty"`
	Outputs  []registry.PortInstance `json:"outputs,omitempty"`
	Errors   map[string]string       `json:"errors,omitempty"`
}

// NewResolveCmd creates the "resolve" subcommand.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <file> <node-type>",
		Short: "Resolve the ports of one node type for given input data",
		Args:  cobra.ExactArgs(2),
		RunE:  runResolve,
	}

	cmd.Flags().String("side", "both", "Ports to resolve: inputs | outputs | both")
	cmd.Flags().String("input", "", `Input data JSON: {"port": {"control": value}}`)
	cmd.Flags().String("connections", "", `Connections JSON: {"inputs": {"port": [{"nodeId": "...", "portName": "..."}]}}`)
	cmd.Flags().String("context", "", "Host context JSON handed to resolvers")
	cmd.Flags().Bool("no-type-safety", false, "Compile with type safety disabled")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	filePath, nodeType := args[0], args[1]
	side, _ := cmd.Flags().GetString("side")
	noTypeSafety, _ := cmd.Flags().GetBool("no-type-safety")

	var sides []runtime.Side
	switch side {
	case "both":
		sides = []runtime.Side{runtime.SideInputs, runtime.SideOutputs}
	case string(runtime.SideInputs), string(runtime.SideOutputs):
		sides = []runtime.Side{runtime.Side(side)}
	default:
		return exitError(exitInputParse, "invalid --side %q (want inputs, outputs or both)", side)
	}

	req := runtime.ResolveRequest{NodeID: "cli", NodeType: nodeType}
	if err := jsonFlag(cmd, "input", &req.InputData); err != nil {
		return err
	}
	if err := jsonFlag(cmd, "connections", &req.Connections); err != nil {
		return err
	}
	if err := jsonFlag(cmd, "context", &req.Context); err != nil {
		return err
	}

	data, err := readConfigFile(filePath)
	if err != nil {
		return err
	}
	cfg, diags, err := parseConfig(data, filePath)
	if err != nil {
		printDiagnosticsText(cmd.ErrOrStderr(), schema.Errors(diags))
		return exitError(exitValidation, "configuration validation failed: %s", err)
	}

	engine := runtime.NewEngine(runtime.EngineConfig{
		Compile: compile.Options{DisableTypeSafety: noTypeSafety},
	})
	compiled, _, err := engine.Load(cmd.Context(), cfg)
	if err != nil {
		return exitError(exitValidation, "%s", err)
	}

	out := ResolveOutput{NodeType: nodeType}
	for _, s := range sides {
		req.Side = s
		ports, err := engine.Resolve(cmd.Context(), compiled, req)
		if errors.Is(err, registry.ErrUnknownType) {
			return exitError(exitValidation, "%s", err)
		}
		if err != nil {
			if out.Errors == nil {
				out.Errors = map[string]string{}
			}
			out.Errors[string(s)] = err.Error()
		}
		if s == runtime.SideInputs {
			out.Inputs = ports
		} else {
			out.Outputs = ports
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}
	if len(out.Errors) > 0 {
		return exitError(exitRuntime, "port resolution failed")
	}
	return nil
}

// jsonFlag decodes a JSON-valued flag into v. An empty flag leaves v alone.
func jsonFlag(cmd *cobra.Command, name string, v any) error {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return exitError(exitInputParse, "invalid --%s: %v", name, err)
	}
	return nil
}
