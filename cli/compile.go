package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/loader"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/schema"
)

// CompileOutput is the document written by the compile command.
type CompileOutput struct {
	*compile.Compiled
	PortTypes []registry.PortType `json:"portTypes"`
	NodeTypes []registry.NodeType `json:"nodeTypes"`
}

// NewCompileCmd creates the "compile" subcommand.
func NewCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile an editor configuration and print its registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().Bool("pretty", true, "Pretty-print JSON output")
	cmd.Flags().Bool("no-type-safety", false, "Let every port accept every port type")
	cmd.Flags().Bool("skip-standard-ports", false, "Leave out the built-in port types")

	return cmd
}

// runCompile implements the compile pipeline:
//
//	read file → parse → validate → compile → serialize registry → write output
func runCompile(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	stderr := cmd.ErrOrStderr()
	stdout := cmd.OutOrStdout()

	pretty, _ := cmd.Flags().GetBool("pretty")
	outputPath, _ := cmd.Flags().GetString("output")
	noTypeSafety, _ := cmd.Flags().GetBool("no-type-safety")
	skipStandard, _ := cmd.Flags().GetBool("skip-standard-ports")

	data, err := readConfigFile(filePath)
	if err != nil {
		return err
	}

	cfg, diags, err := parseConfig(data, filePath)
	if err != nil {
		printDiagnosticsText(stderr, schema.Errors(diags))
		return exitError(exitValidation, "configuration validation failed: %s", err)
	}

	compiled, err := compile.Compile(cfg, compile.Options{
		DisableTypeSafety: noTypeSafety,
		SkipStandardPorts: skipStandard,
	})
	if err != nil {
		return exitError(exitValidation, "compilation failed: %s", err)
	}
	if errs := schema.Errors(compiled.Diagnostics); len(errs) > 0 {
		printDiagnosticsText(stderr, errs)
		return exitError(exitValidation, "compilation failed with %d error(s)", len(errs))
	}
	for _, d := range mergeDiagnostics(schema.Warnings(diags), compiled.Diagnostics) {
		fmt.Fprintf(stderr, "WARNING [%s]: %s\n", d.Code, d.Message)
	}

	doc := CompileOutput{
		Compiled:  compiled,
		PortTypes: compiled.Registry.PortTypes(),
		NodeTypes: compiled.Registry.NodeTypes(),
	}
	var jsonOut []byte
	if pretty {
		jsonOut, err = json.MarshalIndent(doc, "", "  ")
	} else {
		jsonOut, err = json.Marshal(doc)
	}
	if err != nil {
		return exitError(exitRuntime, "serializing registry: %s", err)
	}
	jsonOut = append(jsonOut, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, jsonOut, 0600); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		return nil
	}
	if _, err := stdout.Write(jsonOut); err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}
	return nil
}

// parseConfig decodes and validates data. On failure the returned
// diagnostics carry the errors.
func parseConfig(data []byte, filePath string) (*schema.Config, []schema.Diagnostic, error) {
	cfg, diags, err := loader.Parse(data, loader.DetectFormat(filePath, data))
	var de *loader.DiagnosticError
	if errors.As(err, &de) {
		diags = de.Diagnostics
	}
	return cfg, diags, err
}
