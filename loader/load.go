package loader

import (
	"fmt"
	"os"

	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/schema"
	"github.com/petal-labs/nodeschema/schemafmt"
)

// LoadFile reads and validates the configuration at path. See Parse for
// which findings are fatal.
func LoadFile(path string) (*schema.Config, []schema.Diagnostic, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Parse(data, DetectFormat(path, data))
}

// Parse decodes and validates a configuration document. Port type
// references to the standard port types are accepted.
//
// Only an undecodable document or an unsupported version fails with a
// *DiagnosticError. Findings about single port or node type entries are
// returned next to the configuration; the compiler skips those entries and
// registers the rest.
func Parse(data []byte, format Format) (*schema.Config, []schema.Diagnostic, error) {
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, nil, parseError(err)
	}
	cfg, err := schema.Parse(jsonData)
	if err != nil {
		return nil, nil, parseError(err)
	}

	var diags []schema.Diagnostic
	versionErr := schemafmt.ValidateVersion(cfg.Version)
	if versionErr != nil {
		diags = append(diags, schema.Diagnostic{
			Code:     schema.CodeVersion,
			Severity: schema.SeverityError,
			Message:  versionErr.Error(),
			Path:     "version",
		})
	}
	diags = append(diags, cfg.Validate(registry.StandardPortTypeIDs()...)...)
	if versionErr != nil {
		return nil, diags, &DiagnosticError{Diagnostics: diags}
	}
	return cfg, diags, nil
}

func parseError(err error) *DiagnosticError {
	return &DiagnosticError{Diagnostics: []schema.Diagnostic{{
		Code:     schema.CodeParse,
		Severity: schema.SeverityError,
		Message:  err.Error(),
	}}}
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []schema.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := schema.Errors(e.Diagnostics)
	switch len(errs) {
	case 0:
		return "validation failed"
	case 1:
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	default:
		return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
	}
}
