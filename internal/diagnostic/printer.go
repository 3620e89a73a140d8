package diagnostic

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTTY is true when stdout appears to be attached to a terminal.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var (
	errorPrefix = color.New(color.Bold, color.FgRed, color.ReverseVideo).Sprint(" ERROR ")
	warnPrefix  = color.New(color.Bold, color.FgYellow, color.ReverseVideo).Sprint(" WARNING ")
	dim         = color.New(color.Faint)
)

// Printer formats a List of Diagnostics for a terminal.
type Printer struct {
	Out io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{Out: w}
}

// Print writes every diagnostic in the list, one per line(s).
func (p *Printer) Print(diags List) {
	for _, d := range diags {
		p.print(d)
	}
}

func (p *Printer) print(d *Diagnostic) {
	prefix := errorPrefix
	if d.Severity == Warning {
		prefix = warnPrefix
	}
	loc := ""
	if d.File != "" {
		loc = dim.Sprintf(" (%s:%d-%d)", d.File, d.Range.Start, d.Range.End)
	}
	fmt.Fprintf(p.Out, "%s %s%s\n", prefix, d.Message, loc)
}
