package adk

import (
	"fmt"
	"io"
	"os"
)

var DebugEnabled bool

// Output receives Debugf and Infof lines.
var Output io.Writer = os.Stderr

// Debugf prints messages only if DebugEnabled is true
func Debugf(format string, args ...interface{}) {
	if DebugEnabled {
		fmt.Fprintf(Output, "[DEBUG] "+format+"\n", args...)
	}
}

// Infof prints messages always
func Infof(format string, args ...interface{}) {
	fmt.Fprintf(Output, format+"\n", args...)
}
