package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/probe/probetest"
	"github.com/user/sploitprobe/pkg/store"
	"github.com/user/sploitprobe/pkg/synth"
)

type fakeSource struct {
	trending []advisory.Ref
	details  map[string]advisory.Advisory
}

func (f *fakeSource) FetchTrending(context.Context) []advisory.Ref { return f.trending }

func (f *fakeSource) FetchDetail(_ context.Context, id string) (advisory.Advisory, bool) {
	adv, ok := f.details[id]
	return adv, ok
}

type fakeSynth struct {
	probes   map[string]string
	errs     map[string]error
	panics   map[string]bool
	techs    []synth.Technologies
	techErr  error
	techRuns int
	requests []string
}

func (f *fakeSynth) RequestAffectedTechnologies(context.Context, []advisory.Advisory) ([]synth.Technologies, error) {
	f.techRuns++
	return f.techs, f.techErr
}

func (f *fakeSynth) RequestProbe(_ context.Context, adv advisory.Advisory) (string, error) {
	f.requests = append(f.requests, adv.ID)
	if f.panics[adv.ID] {
		panic("model client exploded")
	}
	if err := f.errs[adv.ID]; err != nil {
		return "", err
	}
	return f.probes[adv.ID], nil
}

type recordingSink struct {
	got []Invocation
}

func (s *recordingSink) ReportVerdict(_ context.Context, _ advisory.Advisory, _ synth.ProbeSpec, inv Invocation) error {
	s.got = append(s.got, inv)
	return nil
}

func envelope(id, name, mode string) string {
	return `{"code":"import requests\n\ndef lambda_handler(event, context):\n    return {\"verdict\": \"not vulnerable\", \"description\": \"\"}\n","type":"` +
		mode + `","description":"header injection check","name":"` + name + `","id":"` + id + `"}`
}

func adv(id string) advisory.Advisory {
	return advisory.Advisory{ID: id, Title: "Exploit " + id, Score: 7.5, Href: "https://example.com/" + id, Type: "exploit", Source: "packetstorm", Language: "python"}
}

type harness struct {
	source *fakeSource
	synth  *fakeSynth
	store  *store.Store
	lambda *probetest.FakeLambda
	sink   *recordingSink
	p      *Pipeline
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		source: &fakeSource{details: map[string]advisory.Advisory{}},
		synth:  &fakeSynth{probes: map[string]string{}, errs: map[string]error{}, panics: map[string]bool{}},
		store:  s,
		lambda: probetest.NewFakeLambda(),
		sink:   &recordingSink{},
	}
	for _, id := range ids {
		h.source.trending = append(h.source.trending, advisory.Ref{ID: id})
		h.source.details[id] = adv(id)
		h.synth.probes[id] = envelope(id, "probe_"+id, "remote")
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runs := 0
	h.p = &Pipeline{
		Source:   h.source,
		Store:    s,
		Synth:    h.synth,
		Packager: &probe.Packager{TempDir: t.TempDir()},
		Deployer: probe.NewDeployer(h.lambda, probe.DeployConfig{Role: "arn:aws:iam::000000000000:role/probe"}, log),
		Invoker:  probe.NewInvoker(h.lambda),
		Sinks:    []VerdictSink{h.sink},
		Log:      log,
		NewRunID: func() string {
			runs++
			return "run-" + string(rune('0'+runs))
		},
	}
	return h
}

func outcomeOf(t *testing.T, res RunResult, id string) Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.AdvisoryID == id {
			return o
		}
	}
	t.Fatalf("no outcome for %s", id)
	return Outcome{}
}

func TestRun_DetailFailureDropsAdvisory(t *testing.T) {
	h := newHarness(t, "X1")
	h.source.trending = append(h.source.trending, advisory.Ref{ID: "X2"})

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Trending)
	assert.Equal(t, []string{"X2"}, res.Dropped)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "X1", res.Outcomes[0].AdvisoryID)

	_, ok, err := h.store.GetAdvisory(context.Background(), "X2")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = h.store.GetAdvisory(context.Background(), "X1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_FencedRemoteEnvelope(t *testing.T) {
	h := newHarness(t, "X1")
	h.synth.probes["X1"] = "Sure, here it is:\n```json\n" + envelope("X1", "probe1", "remote") + "\n```"
	h.synth.techs = []synth.Technologies{{Title: "Exploit X1", Technologies: []string{"nginx"}}}

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateInvoked, o.State)
	assert.Equal(t, "probe1", o.ProbeName)
	assert.Equal(t, synth.ModeRemote, o.Mode)
	require.Len(t, o.Invocations, 1)
	assert.Equal(t, probe.NotVulnerable, o.Invocations[0].Verdict)
	assert.Equal(t, h.synth.techs, res.Technologies)

	fn, ok := h.lambda.Function("probe1")
	require.True(t, ok)
	assert.Equal(t, int32(30), fn.Timeout)
	assert.Equal(t, int32(128), fn.MemoryMB)

	calls := h.lambda.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"exploit_id": "X1"}, calls[0].Payload)

	runs, err := h.store.Transitions(context.Background(), res.RunID)
	require.NoError(t, err)
	var states []string
	for _, r := range runs {
		states = append(states, r.State)
	}
	assert.Equal(t, []string{"FETCHED", "DETAILED", "SYNTHESIZED", "PACKAGED", "DEPLOYED", "INVOKED"}, states)
	assert.Contains(t, runs[2].Code, "def lambda_handler")

	reports, err := h.store.Reports(context.Background(), "X1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "probe1", reports[0].ProbeName)
	assert.Len(t, h.sink.got, 1)
}

func TestRun_RefusalFailsOnlyThatAdvisory(t *testing.T) {
	h := newHarness(t, "X1")
	h.synth.probes["X1"] = "I cannot produce this."

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, StageSanitize, o.Stage)
	assert.Equal(t, KindMalformedOutput, o.ErrorKind)
	assert.Contains(t, o.Reason, "no JSON object")
	assert.Equal(t, 0, h.lambda.Count())

	state, ok, err := h.store.LatestState(context.Background(), "X1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "FAILED", state)
}

func TestRun_FailureIsolation(t *testing.T) {
	h := newHarness(t, "A", "B", "C", "D")
	h.synth.errs["B"] = errors.New("model timed out")
	h.synth.probes["C"] = `{"code": "x", "type": remote}`

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C", "D"}, h.synth.requests)
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "A").State)
	assert.Equal(t, StateFailed, outcomeOf(t, res, "B").State)
	assert.Equal(t, StageSynthesize, outcomeOf(t, res, "B").Stage)
	assert.Equal(t, KindMalformedOutput, outcomeOf(t, res, "C").ErrorKind)
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "D").State)
	assert.Equal(t, 2, h.lambda.Count())

	counts := res.Counts()
	assert.Equal(t, 2, counts[StateInvoked])
	assert.Equal(t, 2, counts[StateFailed])
}

func TestRun_PanicIsContained(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.synth.panics["A"] = true

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	a := outcomeOf(t, res, "A")
	assert.Equal(t, StateFailed, a.State)
	assert.Equal(t, KindUnexpected, a.ErrorKind)
	assert.Contains(t, a.Reason, "model client exploded")
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "B").State)
}

func TestRun_LocalProbeIsNotDeployed(t *testing.T) {
	h := newHarness(t, "X1")
	h.synth.probes["X1"] = strings.Replace(envelope("X1", "local1", "local"), "lambda_handler(event, context)", "lambda_handler()", 1)

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateSynthesized, o.State)
	assert.Equal(t, synth.ModeLocal, o.Mode)
	assert.NotEmpty(t, o.Reason)
	assert.Empty(t, o.ErrorKind)
	assert.Equal(t, 0, h.lambda.Count())
}

func TestRun_InvalidProbeName(t *testing.T) {
	h := newHarness(t, "X1")
	h.synth.probes["X1"] = envelope("X1", "../../etc/passwd", "remote")

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, KindInvalidName, o.ErrorKind)
	assert.Equal(t, 0, h.lambda.Count())
}

func TestRun_ProbeNameReusedWithinRun(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.synth.probes["A"] = envelope("A", "shared", "remote")
	h.synth.probes["B"] = envelope("B", "shared", "remote")

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateInvoked, outcomeOf(t, res, "A").State)
	b := outcomeOf(t, res, "B")
	assert.Equal(t, StateFailed, b.State)
	assert.Equal(t, KindInvalidName, b.ErrorKind)
	assert.Contains(t, b.Reason, "already deployed in this run for A")

	fn, ok := h.lambda.Function("shared")
	require.True(t, ok)
	assert.Equal(t, 0, fn.Updates)
}

// failFirstDeploy fails the first deployment and delegates the rest.
type failFirstDeploy struct {
	next   Deployer
	failed bool
}

func (d *failFirstDeploy) Deploy(ctx context.Context, b probe.Bundle, description string) (probe.Deployed, error) {
	if !d.failed {
		d.failed = true
		return probe.Deployed{}, errors.New("ThrottlingException")
	}
	return d.next.Deploy(ctx, b, description)
}

func TestRun_FailedDeployReleasesProbeName(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.synth.probes["A"] = envelope("A", "shared", "remote")
	h.synth.probes["B"] = envelope("B", "shared", "remote")
	h.p.Deployer = &failFirstDeploy{next: h.p.Deployer}

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	a := outcomeOf(t, res, "A")
	assert.Equal(t, StateFailed, a.State)
	assert.Equal(t, KindDeployment, a.ErrorKind)
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "B").State)

	_, ok := h.lambda.Function("shared")
	assert.True(t, ok)
}

func TestRun_DeploymentFailure(t *testing.T) {
	h := newHarness(t, "X1")
	h.lambda.CreateErr = errors.New("AccessDeniedException")

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, StageDeploy, o.Stage)
	assert.Equal(t, KindDeployment, o.ErrorKind)
}

func TestRun_TargetsAndInvocationFailure(t *testing.T) {
	h := newHarness(t, "X1")
	h.p.Targets = []probe.Target{{IP: "10.0.0.1"}, {Domain: "broken.example"}, {Domain: "shop.example"}}
	h.lambda.Handle = func(_ string, payload map[string]any) ([]byte, string) {
		switch payload["domain"] {
		case "broken.example":
			return []byte(`{"errorMessage":"timeout"}`), "Unhandled"
		case "shop.example":
			return []byte(`{"statusCode":200,"body":"{\"verdict\":\"vulnerable\",\"description\":\"payload reflected\"}"}`), ""
		}
		return []byte(`not json`), ""
	}

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)

	o := outcomeOf(t, res, "X1")
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, KindInvocation, o.ErrorKind)
	require.Len(t, o.Invocations, 3)
	assert.Equal(t, Invocation{Target: "10.0.0.1", Verdict: probe.Inconclusive, Description: o.Invocations[0].Description}, o.Invocations[0])
	assert.NotEmpty(t, o.Invocations[1].Error)
	assert.Equal(t, Invocation{Target: "shop.example", Verdict: probe.Vulnerable, Description: "payload reflected"}, o.Invocations[2])
	assert.True(t, o.Vulnerable())

	assert.Len(t, h.lambda.Calls(), 3)
	reports, err := h.store.Reports(context.Background(), "X1")
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Len(t, h.sink.got, 2)
}

func TestRun_TechnologiesFailureIsBestEffort(t *testing.T) {
	h := newHarness(t, "X1")
	h.synth.techErr = errors.New("quota exceeded")

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "quota exceeded", res.TechnologiesErr)
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "X1").State)
}

func TestRun_TechnologiesRequestedOncePerRun(t *testing.T) {
	h := newHarness(t, "X1", "X2", "X3")
	_, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.synth.techRuns)

	empty := newHarness(t)
	empty.source.trending = []advisory.Ref{{ID: "gone"}}
	res, err := empty.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.synth.techRuns)
	assert.Empty(t, res.Technologies)
	assert.Equal(t, []string{"gone"}, res.Dropped)
}

func TestRun_DuplicateRefsProcessedOnce(t *testing.T) {
	h := newHarness(t, "X1")
	h.source.trending = append(h.source.trending, advisory.Ref{ID: "X1"}, advisory.Ref{ID: " "})

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Outcomes, 1)
	assert.Equal(t, []string{"X1"}, h.synth.requests)
}

func TestRun_RepeatRunUpdatesInPlace(t *testing.T) {
	h := newHarness(t, "X1")

	_, err := h.p.Run(context.Background())
	require.NoError(t, err)
	second, err := h.p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateInvoked, outcomeOf(t, second, "X1").State)
	assert.Equal(t, 1, h.lambda.Count())
	fn, _ := h.lambda.Function("probe_X1")
	assert.Equal(t, 1, fn.Updates)

	n, err := h.store.CountAdvisories(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRun_SkipCompleted(t *testing.T) {
	h := newHarness(t, "X1", "X2")
	h.synth.errs["X2"] = errors.New("model unavailable")
	h.p.SkipCompleted = true

	_, err := h.p.Run(context.Background())
	require.NoError(t, err)
	delete(h.synth.errs, "X2")
	h.synth.requests = nil

	res, err := h.p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"X1"}, res.Skipped)
	assert.Equal(t, []string{"X2"}, h.synth.requests)
	assert.Equal(t, StateInvoked, outcomeOf(t, res, "X2").State)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, "X1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.synth.requests)
	assert.Equal(t, "run-1", res.RunID)
}

func TestRun_InvalidPipeline(t *testing.T) {
	_, err := (&Pipeline{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source, store, synthesizer, packager, deployer, invoker")

	h := newHarness(t)
	h.p.Targets = []probe.Target{{IP: "1.2.3.4", Domain: "both.example"}}
	_, err = h.p.Run(context.Background())
	assert.Error(t, err)
}
