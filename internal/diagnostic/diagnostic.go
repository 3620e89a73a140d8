// Package diagnostic defines the structured value the core commits to for
// reporting configuration and analysis problems. Formatting them for a
// terminal is a separate, swappable concern (see Printer).
package diagnostic

import "fmt"

// Severity classifies a Diagnostic.
type Severity int

const (
	// Error diagnostics are always fatal to analysis.
	Error Severity = iota
	// Warning diagnostics do not stop analysis.
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// Range is a byte offset range within a source file, used to point at the
// offending text of a dependency specifier or manifest field.
type Range struct {
	Start int
	End   int
}

// Diagnostic is a single analysis or configuration problem.
type Diagnostic struct {
	File     string
	Range    Range
	Severity Severity
	Message  string
}

// Error implements the error interface so a Diagnostic can be returned
// directly, or wrapped, from analyzer code.
func (d *Diagnostic) Error() string {
	if d.File == "" {
		return d.Message
	}
	return fmt.Sprintf("%s:%d: %s", d.File, d.Range.Start, d.Message)
}

// List is an ordered collection of Diagnostics, as produced by one
// analysis pass.
type List []*Diagnostic

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no diagnostics"
	case 1:
		return l[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
	}
}

// HasErrors reports whether any diagnostic in the list is an Error.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}
