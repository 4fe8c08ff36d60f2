// Package reporter renders run results.
package reporter

import (
	"io"
	"os"

	"github.com/user/sploitprobe/pkg/engine"
)

// Formats lists the accepted --output values.
var Formats = []string{"table", "json", "text"}

type Reporter interface {
	Report(res engine.RunResult) error
}

// New returns the reporter for format, writing to w (stdout when nil).
// Unknown formats fall back to the table.
func New(format string, w io.Writer) Reporter {
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case "json":
		return &JSONReporter{w: w}
	case "text":
		return &TextReporter{w: w}
	default:
		return &TableReporter{w: w}
	}
}
