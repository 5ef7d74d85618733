package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nodeschema/compile"
	"github.com/petal-labs/nodeschema/loader"
	"github.com/petal-labs/nodeschema/schema"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an editor configuration without serving it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	cmd.Flags().Bool("no-type-safety", false, "Compile with type safety disabled")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	noTypeSafety, _ := cmd.Flags().GetBool("no-type-safety")
	out := cmd.OutOrStdout()

	data, err := readConfigFile(filePath)
	if err != nil {
		return err
	}
	if _, err := loader.DetectSchema(data, filePath); err != nil {
		return exitError(exitWrongSchema, "%s: %v", filePath, err)
	}

	diags := validateConfig(data, filePath, compile.Options{DisableTypeSafety: noTypeSafety})
	printValidateDiagnostics(out, diags, format)

	hasErrs := schema.HasErrors(diags)
	hasWarns := len(schema.Warnings(diags)) > 0
	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// readConfigFile reads path, mapping a missing file to its exit code.
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI arg
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// validateConfig runs structural validation and, when that passes, a
// compilation whose diagnostics (duplicates, inline expression failures)
// are appended as a second pass.
func validateConfig(data []byte, filePath string, opts compile.Options) []schema.Diagnostic {
	cfg, diags, err := parseConfig(data, filePath)
	if err != nil {
		return diags
	}

	compiled, err := compile.Compile(cfg, opts)
	if err != nil {
		return append(diags, schema.Diagnostic{
			Code:     schema.CodeParse,
			Severity: schema.SeverityError,
			Message:  fmt.Sprintf("Compilation failed: %v", err),
		})
	}
	return mergeDiagnostics(diags, compiled.Diagnostics)
}

// mergeDiagnostics appends the findings of more that base does not already
// report. Validation and compilation both flag the same entries, sometimes
// with different wording or at the entry rather than the field, so a finding
// counts as reported when base has its code at the same path or below it.
func mergeDiagnostics(base, more []schema.Diagnostic) []schema.Diagnostic {
	reported := func(d schema.Diagnostic) bool {
		for _, b := range base {
			if b.Code == d.Code && (b.Path == d.Path || strings.HasPrefix(b.Path, d.Path+".")) {
				return true
			}
		}
		return false
	}
	for _, d := range more {
		if !reported(d) {
			base = append(base, d)
		}
	}
	return base
}

func printValidateDiagnostics(w io.Writer, diags []schema.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary.
func printDiagnosticsText(w io.Writer, diags []schema.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := schema.Errors(diags)
	warns := schema.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []schema.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []schema.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
