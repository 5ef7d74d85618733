package schema

// Diagnostic is a validation or compilation finding tied to a location in
// the configuration.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "PT-001", "NT-004"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic codes.
const (
	CodeParse             = "CF-000"
	CodeVersion           = "CF-001"
	CodePortTypeMissingID = "PT-001"
	CodePortTypeDuplicate = "PT-002"
	CodeUnknownControl    = "PT-003"
	CodeUnknownColor      = "PT-004"
	CodeNodeTypeMissingID = "NT-001"
	CodeNodeTypeDuplicate = "NT-002"
	CodeUnknownPortRef    = "NT-003"
	CodeInlineCompile     = "NT-004"
	CodeAmbiguousPorts    = "NT-005"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}
