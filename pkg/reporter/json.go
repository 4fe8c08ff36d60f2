package reporter

import (
	"encoding/json"
	"io"

	"github.com/user/sploitprobe/pkg/engine"
)

type JSONReporter struct {
	w io.Writer
}

func (r *JSONReporter) Report(res engine.RunResult) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")

	type output struct {
		engine.RunResult
		Counts map[engine.State]int `json:"counts"`
	}

	return enc.Encode(output{
		RunResult: res,
		Counts:    res.Counts(),
	})
}
