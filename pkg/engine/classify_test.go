package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/sanitize"
	"github.com/user/sploitprobe/pkg/synth"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		err   error
		want  ErrorKind
	}{
		{"nil", StageDeploy, nil, ""},
		{"no json", StageSanitize, sanitize.ErrNoJSONObject, KindMalformedOutput},
		{"malformed", StageSanitize, &sanitize.MalformedError{Raw: "{", Err: errors.New("eof")}, KindMalformedOutput},
		{"envelope", StageSanitize, &synth.EnvelopeError{AdvisoryID: "X1", Problem: "missing keys"}, KindMalformedOutput},
		{"invalid name wins over stage", StagePackage, fmt.Errorf("package: %w", probe.ErrInvalidName), KindInvalidName},
		{"invoke error", StageInvoke, &probe.InvokeError{Name: "p", FunctionError: "Unhandled"}, KindInvocation},
		{"deadline", StageSynthesize, fmt.Errorf("request probe: %w", context.DeadlineExceeded), KindTransport},
		{"net error at deploy", StageDeploy, &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransport},
		{"packaging", StagePackage, errors.New("disk full"), KindPackaging},
		{"deployment", StageDeploy, errors.New("AccessDenied"), KindDeployment},
		{"invocation", StageInvoke, errors.New("throttled"), KindInvocation},
		{"synthesis", StageSynthesize, errors.New("status 500"), KindTransport},
		{"panic", StageDeploy, &PanicError{Value: "boom"}, KindUnexpected},
		{"unknown stage", Stage("other"), errors.New("?"), KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stage, tt.err))
		})
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	l.Record(Outcome{AdvisoryID: "A", Title: "first", State: StateFetched})
	l.Record(Outcome{AdvisoryID: "B", Title: "second", State: StateFailed, Stage: StageSanitize, ErrorKind: KindMalformedOutput, Reason: "no JSON"})
	l.Record(Outcome{AdvisoryID: "A", Title: "first", State: StateInvoked, ProbeName: "p1", Mode: "remote",
		Invocations: []Invocation{{Target: "10.0.0.1", Verdict: "vulnerable", Description: "reflected"}}})

	outs := l.Outcomes()
	assert.Len(t, outs, 2)
	assert.Equal(t, StateInvoked, outs[0].State)

	got, ok := l.Get("B")
	assert.True(t, ok)
	assert.Equal(t, KindMalformedOutput, got.ErrorKind)
	_, ok = l.Get("C")
	assert.False(t, ok)

	owner, ok := l.ClaimProbe("p1", "A")
	assert.True(t, ok)
	assert.Equal(t, "A", owner)
	_, ok = l.ClaimProbe("p1", "A")
	assert.True(t, ok)
	owner, ok = l.ClaimProbe("p1", "B")
	assert.False(t, ok)
	assert.Equal(t, "A", owner)

	l.ReleaseProbe("p1", "B")
	_, ok = l.ClaimProbe("p1", "B")
	assert.False(t, ok, "release by a non-owner keeps the claim")
	l.ReleaseProbe("p1", "A")
	owner, ok = l.ClaimProbe("p1", "B")
	assert.True(t, ok)
	assert.Equal(t, "B", owner)

	report := l.GetReport()
	assert.Contains(t, report, "Probe run ledger (2 advisories)")
	assert.Contains(t, report, "[INVOKED] A first")
	assert.Contains(t, report, "10.0.0.1: vulnerable. reflected")
	assert.Contains(t, report, "Reason (malformed_output at sanitize): no JSON")
}
