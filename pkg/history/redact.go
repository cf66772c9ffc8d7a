package history

import (
	"strings"
)

// Replacement is the text substituted for every sensitive value.
const Replacement = "[redacted]"

// Redactor scrubs sensitive variable values from captured output before it
// reaches disk. Backends sometimes echo variable values back in their raw
// output, so scrubbing happens post-capture, pre-persist.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a redactor for the given sensitive values. Empty values
// are ignored.
func NewRedactor(values []string) *Redactor {
	pairs := make([]string, 0, len(values)*2)
	for _, v := range values {
		if v == "" {
			continue
		}
		pairs = append(pairs, v, Replacement)
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact scrubs one line.
func (r *Redactor) Redact(line string) string {
	if r == nil || r.replacer == nil {
		return line
	}
	return r.replacer.Replace(line)
}

// RedactAll scrubs a copy of the given lines.
func (r *Redactor) RedactAll(lines []string) []string {
	if r == nil || r.replacer == nil {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = r.replacer.Replace(line)
	}
	return out
}
