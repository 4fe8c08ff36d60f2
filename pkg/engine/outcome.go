package engine

import (
	"time"

	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/synth"
)

// Invocation is one execution of a deployed probe against one target.
type Invocation struct {
	Target      string `json:"target,omitempty"`
	Verdict     string `json:"verdict,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Outcome is where one advisory ended up in a run.
type Outcome struct {
	AdvisoryID  string       `json:"advisory_id"`
	Title       string       `json:"title"`
	Score       float64      `json:"score"`
	State       State        `json:"state"`
	Stage       Stage        `json:"stage,omitempty"`
	ErrorKind   ErrorKind    `json:"error_kind,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	ProbeName   string       `json:"probe_name,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

// Vulnerable reports whether any invocation returned a vulnerable verdict.
func (o Outcome) Vulnerable() bool {
	for _, inv := range o.Invocations {
		if inv.Verdict == probe.Vulnerable {
			return true
		}
	}
	return false
}

// RunResult is the set of per-advisory outcomes of one run.
type RunResult struct {
	RunID           string               `json:"run_id"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
	Trending        int                  `json:"trending"`
	Dropped         []string             `json:"dropped,omitempty"`
	Skipped         []string             `json:"skipped,omitempty"`
	Technologies    []synth.Technologies `json:"technologies,omitempty"`
	TechnologiesErr string               `json:"technologies_error,omitempty"`
	Outcomes        []Outcome            `json:"outcomes"`
}

// Counts returns the number of outcomes per state.
func (r RunResult) Counts() map[State]int {
	counts := make(map[State]int)
	for _, o := range r.Outcomes {
		counts[o.State]++
	}
	return counts
}
