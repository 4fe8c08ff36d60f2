package engine

import (
	"fmt"
	"strings"
	"sync"
)

// Ledger holds the outcomes of the current run, one per advisory, in the
// order advisories were first seen.
type Ledger struct {
	outcomes []Outcome
	index    map[string]int
	probes   map[string]string // probe name -> advisory id
	mu       sync.RWMutex
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		outcomes: make([]Outcome, 0),
		index:    make(map[string]int),
		probes:   make(map[string]string),
	}
}

// Record inserts or replaces the outcome for o.AdvisoryID.
func (l *Ledger) Record(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[o.AdvisoryID]; ok {
		l.outcomes[i] = o
		return
	}
	l.index[o.AdvisoryID] = len(l.outcomes)
	l.outcomes = append(l.outcomes, o)
}

// ClaimProbe reserves a probe name for an advisory. It returns the current
// owner and false when another advisory already holds the name in this run.
func (l *Ledger) ClaimProbe(name, advisoryID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owner, ok := l.probes[name]; ok && owner != advisoryID {
		return owner, false
	}
	l.probes[name] = advisoryID
	return advisoryID, true
}

// ReleaseProbe drops advisoryID's claim on name. Claims held by other
// advisories are left alone.
func (l *Ledger) ReleaseProbe(name, advisoryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.probes[name] == advisoryID {
		delete(l.probes, name)
	}
}

func (l *Ledger) Get(advisoryID string) (Outcome, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[advisoryID]
	if !ok {
		return Outcome{}, false
	}
	return l.outcomes[i], true
}

// Outcomes returns a copy of all recorded outcomes.
func (l *Ledger) Outcomes() []Outcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Outcome(nil), l.outcomes...)
}

// GetReport returns a text summary of the ledger
func (l *Ledger) GetReport() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Probe run ledger (%d advisories):\n", len(l.outcomes)))
	sb.WriteString("--------------------------------------------------\n")

	for _, o := range l.outcomes {
		sb.WriteString(fmt.Sprintf("[%s] %s %s\n", o.State, o.AdvisoryID, o.Title))
		if o.ProbeName != "" {
			sb.WriteString(fmt.Sprintf("  Probe: %s (%s)\n", o.ProbeName, o.Mode))
		}
		for _, inv := range o.Invocations {
			target := inv.Target
			if target == "" {
				target = "-"
			}
			if inv.Error != "" {
				sb.WriteString(fmt.Sprintf("  %s: error: %s\n", target, inv.Error))
				continue
			}
			sb.WriteString(fmt.Sprintf("  %s: %s. %s\n", target, inv.Verdict, inv.Description))
		}
		switch {
		case o.ErrorKind != "":
			sb.WriteString(fmt.Sprintf("  Reason (%s at %s): %s\n", o.ErrorKind, o.Stage, o.Reason))
		case o.Reason != "":
			sb.WriteString(fmt.Sprintf("  Note: %s\n", o.Reason))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
