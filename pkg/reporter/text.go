package reporter

import (
	"io"

	"github.com/user/sploitprobe/pkg/engine"
)

// TextReporter prints the run ledger in long form.
type TextReporter struct {
	w io.Writer
}

func (r *TextReporter) Report(res engine.RunResult) error {
	l := engine.NewLedger()
	for _, o := range res.Outcomes {
		l.Record(o)
	}
	_, err := io.WriteString(r.w, l.GetReport())
	return err
}
