package resolver

import (
	"fmt"
	"strings"
)

// Anomaly is a malformed placeholder in a template. The fragment it covers
// contributes no placeholder.
type Anomaly struct {
	Offset int
	Reason string
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("template anomaly at offset %d: %s", a.Offset, a.Reason)
}

// Placeholders scans template left to right for {name} placeholders and
// returns the distinct names in first-seen order. Names are trimmed, so
// "{ name }" and "{name}" yield the same port. Unclosed braces, nested
// opening braces and empty or blank placeholders are reported as anomalies.
func Placeholders(template string) ([]string, []Anomaly) {
	var (
		names     []string
		anomalies []Anomaly
		seen      = make(map[string]bool)
	)
	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			break
		}
		open += i
		end := strings.IndexAny(template[open+1:], "{}")
		if end < 0 {
			anomalies = append(anomalies, Anomaly{Offset: open, Reason: "unclosed placeholder"})
			break
		}
		end += open + 1
		if template[end] == '{' {
			anomalies = append(anomalies, Anomaly{Offset: open, Reason: "nested opening brace"})
			i = end
			continue
		}
		name := strings.TrimSpace(template[open+1 : end])
		if name == "" {
			anomalies = append(anomalies, Anomaly{Offset: open, Reason: "empty placeholder"})
		} else if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i = end + 1
	}
	return names, anomalies
}
