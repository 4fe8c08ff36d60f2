package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/store"
	"github.com/user/sploitprobe/pkg/synth"
)

// Synthesizer is satisfied by *synth.Client.
type Synthesizer interface {
	RequestAffectedTechnologies(ctx context.Context, advs []advisory.Advisory) ([]synth.Technologies, error)
	RequestProbe(ctx context.Context, adv advisory.Advisory) (string, error)
}

// Store is satisfied by *store.Store.
type Store interface {
	UpsertIfNew(ctx context.Context, adv advisory.Advisory) (bool, error)
	LatestState(ctx context.Context, advisoryID string) (string, bool, error)
	RecordTransition(ctx context.Context, run store.ProbeRun) error
	SaveReport(ctx context.Context, r store.Report) error
}

type Packager interface {
	Package(name, source string) (probe.Bundle, error)
}

type Deployer interface {
	Deploy(ctx context.Context, b probe.Bundle, description string) (probe.Deployed, error)
}

type Invoker interface {
	Invoke(ctx context.Context, name string, payload probe.Payload) (probe.Result, error)
}

// VerdictSink receives every parsed verdict of a run.
type VerdictSink interface {
	ReportVerdict(ctx context.Context, adv advisory.Advisory, spec synth.ProbeSpec, inv Invocation) error
}

// PanicError wraps a panic recovered while processing one advisory.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Pipeline runs fetch, synthesis, packaging, deployment and invocation for
// every trending advisory, one advisory at a time. A failure affects only
// the advisory it happened to.
type Pipeline struct {
	Source   advisory.Source
	Store    Store
	Synth    Synthesizer
	Packager Packager
	Deployer Deployer
	Invoker  Invoker

	// Targets are the services each remote probe is invoked against. With
	// no targets a probe is invoked once with only the exploit id.
	Targets []probe.Target
	Sinks   []VerdictSink
	Log     *slog.Logger

	// SkipCompleted skips advisories whose latest recorded state is INVOKED.
	SkipCompleted bool

	NewRunID func() string
	Now      func() time.Time
}

func (p *Pipeline) validate() error {
	var missing []string
	if p.Source == nil {
		missing = append(missing, "source")
	}
	if p.Store == nil {
		missing = append(missing, "store")
	}
	if p.Synth == nil {
		missing = append(missing, "synthesizer")
	}
	if p.Packager == nil {
		missing = append(missing, "packager")
	}
	if p.Deployer == nil {
		missing = append(missing, "deployer")
	}
	if p.Invoker == nil {
		missing = append(missing, "invoker")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline is missing: %s", strings.Join(missing, ", "))
	}
	for _, t := range p.Targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid target: %w", err)
		}
	}
	return nil
}

// Run executes one pass. The returned error is non-nil only for an invalid
// pipeline or when ctx is cancelled; in the latter case the partial result
// is still returned.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	if err := p.validate(); err != nil {
		return RunResult{}, err
	}
	r := p.newRun()
	res := RunResult{RunID: r.id, StartedAt: r.now()}
	r.log.Info("run started", "targets", len(p.Targets))

	advs := r.collect(ctx, &res)

	// An empty batch is not sent.
	if len(advs) > 0 && ctx.Err() == nil {
		techs, err := p.Synth.RequestAffectedTechnologies(ctx, advs)
		if err != nil {
			res.TechnologiesErr = err.Error()
			r.log.Warn("technologies unavailable",
				"stage", StageTechnologies,
				"error_kind", Classify(StageTechnologies, err),
				"error", err)
		} else {
			res.Technologies = techs
			r.log.Info("technologies resolved", "stage", StageTechnologies, "count", len(techs))
		}
	}

	for _, adv := range advs {
		if ctx.Err() != nil {
			break
		}
		r.process(ctx, adv)
	}

	res.Outcomes = r.ledger.Outcomes()
	res.FinishedAt = r.now()
	counts := res.Counts()
	r.log.Info("run finished",
		"advisories", len(res.Outcomes),
		"invoked", counts[StateInvoked],
		"failed", counts[StateFailed],
		"dropped", len(res.Dropped),
		"skipped", len(res.Skipped),
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, ctx.Err()
}

type run struct {
	p      *Pipeline
	id     string
	log    *slog.Logger
	ledger *Ledger
	now    func() time.Time
}

func (p *Pipeline) newRun() *run {
	newID := p.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	log := p.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := newID()
	return &run{p: p, id: id, log: log.With("run_id", id), ledger: NewLedger(), now: now}
}

// collect resolves trending refs into stored advisories. Refs whose detail
// lookup fails are dropped without entering the state machine.
func (r *run) collect(ctx context.Context, res *RunResult) []advisory.Advisory {
	refs := r.p.Source.FetchTrending(ctx)
	res.Trending = len(refs)
	r.log.Info("trending fetched", "stage", StageFetch, "count", len(refs))

	seen := make(map[string]bool, len(refs))
	var advs []advisory.Advisory
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		id := strings.TrimSpace(ref.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if r.p.SkipCompleted && r.completed(ctx, id) {
			res.Skipped = append(res.Skipped, id)
			r.log.Info("advisory already probed, skipping", "advisory_id", id)
			continue
		}

		adv, ok := r.p.Source.FetchDetail(ctx, id)
		if !ok {
			res.Dropped = append(res.Dropped, id)
			r.log.Info("advisory dropped", "advisory_id", id, "stage", StageDetail)
			continue
		}
		if adv.ID == "" {
			adv.ID = id
		}
		if adv.ID != id && seen[adv.ID] {
			continue
		}
		seen[adv.ID] = true

		o := &Outcome{AdvisoryID: adv.ID, Title: adv.Title, Score: adv.Score}
		r.transition(ctx, o, StateFetched, StageDetail, nil)

		inserted, err := r.p.Store.UpsertIfNew(ctx, adv)
		if err != nil {
			r.log.Warn("advisory not persisted", "advisory_id", adv.ID, "stage", StageStore, "error", err)
		} else if inserted {
			r.log.Debug("advisory stored", "advisory_id", adv.ID, "stage", StageStore)
		}
		r.transition(ctx, o, StateDetailed, StageStore, nil)
		advs = append(advs, adv)
	}
	return advs
}

func (r *run) completed(ctx context.Context, id string) bool {
	state, ok, err := r.p.Store.LatestState(ctx, id)
	if err != nil {
		r.log.Warn("latest state unavailable", "advisory_id", id, "stage", StageStore, "error", err)
		return false
	}
	return ok && State(state) == StateInvoked
}

// process drives one advisory from DETAILED to a terminal state.
func (r *run) process(ctx context.Context, adv advisory.Advisory) {
	o := &Outcome{AdvisoryID: adv.ID, Title: adv.Title, Score: adv.Score, State: StateDetailed}
	var spec *synth.ProbeSpec
	stage := StageSynthesize

	defer func() {
		if v := recover(); v != nil {
			r.fail(ctx, o, spec, stage, &PanicError{Value: v})
		}
	}()

	raw, err := r.p.Synth.RequestProbe(ctx, adv)
	if err != nil {
		r.fail(ctx, o, nil, stage, err)
		return
	}

	stage = StageSanitize
	parsed, err := synth.ParseProbe(adv.ID, raw)
	if err != nil {
		r.fail(ctx, o, nil, stage, err)
		return
	}
	spec = &parsed
	o.ProbeName, o.Mode = spec.Name, spec.Mode

	stage = StageValidate
	if err := probe.ValidateName(spec.Name); err != nil {
		r.fail(ctx, o, spec, stage, err)
		return
	}
	if !spec.Remote() {
		o.Reason = "local probe synthesized, not deployed"
	}
	r.transitionSpec(ctx, o, StateSynthesized, stage, spec, nil)
	if !spec.Remote() {
		return
	}
	if owner, ok := r.ledger.ClaimProbe(spec.Name, adv.ID); !ok {
		r.fail(ctx, o, spec, stage, fmt.Errorf("%w: %s already deployed in this run for %s", probe.ErrInvalidName, spec.Name, owner))
		return
	}

	stage = StagePackage
	bundle, err := r.p.Packager.Package(spec.Name, spec.Code)
	if err != nil {
		r.ledger.ReleaseProbe(spec.Name, adv.ID)
		r.fail(ctx, o, spec, stage, err)
		return
	}
	r.transitionSpec(ctx, o, StatePackaged, stage, spec, nil)

	stage = StageDeploy
	if _, err := r.p.Deployer.Deploy(ctx, bundle, spec.Description); err != nil {
		r.ledger.ReleaseProbe(spec.Name, adv.ID)
		r.fail(ctx, o, spec, stage, err)
		return
	}
	r.transitionSpec(ctx, o, StateDeployed, stage, spec, nil)

	stage = StageInvoke
	invs, err := r.invokeAll(ctx, adv, *spec)
	o.Invocations = invs
	if err != nil {
		r.fail(ctx, o, spec, stage, err)
		return
	}
	r.transitionSpec(ctx, o, StateInvoked, stage, spec, nil)
}

// invokeAll runs the probe once per target. Every target is attempted; the
// first invocation error is returned.
func (r *run) invokeAll(ctx context.Context, adv advisory.Advisory, spec synth.ProbeSpec) ([]Invocation, error) {
	targets := make([]*probe.Target, 0, len(r.p.Targets))
	for i := range r.p.Targets {
		targets = append(targets, &r.p.Targets[i])
	}
	if len(targets) == 0 {
		targets = append(targets, nil)
	}

	var invs []Invocation
	var firstErr error
	for _, t := range targets {
		inv := Invocation{}
		if t != nil {
			inv.Target = t.String()
		}

		payload, err := probe.NewPayload(adv.ID, t)
		if err == nil {
			var res probe.Result
			res, err = r.p.Invoker.Invoke(ctx, spec.Name, payload)
			if err == nil {
				r.applyVerdict(adv.ID, &inv, res.Payload)
			}
		}
		if err != nil {
			inv.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			r.log.Warn("invocation failed",
				"advisory_id", adv.ID,
				"stage", StageInvoke,
				"target", inv.Target,
				"error_kind", Classify(StageInvoke, err),
				"error", err)
			invs = append(invs, inv)
			continue
		}

		if err := r.p.Store.SaveReport(ctx, store.Report{
			RunID:       r.id,
			AdvisoryID:  adv.ID,
			ProbeName:   spec.Name,
			Target:      inv.Target,
			Verdict:     inv.Verdict,
			Description: inv.Description,
		}); err != nil {
			r.log.Warn("report not persisted", "advisory_id", adv.ID, "stage", StageStore, "error", err)
		}
		for _, sink := range r.p.Sinks {
			if err := sink.ReportVerdict(ctx, adv, spec, inv); err != nil {
				r.log.Warn("verdict sink failed", "advisory_id", adv.ID, "stage", StageVerdict, "error", err)
			}
		}
		invs = append(invs, inv)
	}
	return invs, firstErr
}

// applyVerdict parses an invocation payload. Unparseable payloads are
// recorded as inconclusive rather than failing the advisory.
func (r *run) applyVerdict(advisoryID string, inv *Invocation, payload []byte) {
	v, err := probe.ParseVerdict(payload)
	if err != nil {
		inv.Verdict = probe.Inconclusive
		inv.Description = err.Error()
		r.log.Warn("verdict unreadable", "advisory_id", advisoryID, "stage", StageVerdict, "target", inv.Target, "error", err)
		return
	}
	inv.Verdict, inv.Description = v.Verdict, v.Description
}

func (r *run) fail(ctx context.Context, o *Outcome, spec *synth.ProbeSpec, stage Stage, err error) {
	r.transitionSpec(ctx, o, StateFailed, stage, spec, err)
}

func (r *run) transition(ctx context.Context, o *Outcome, state State, stage Stage, err error) {
	r.transitionSpec(ctx, o, state, stage, nil, err)
}

// transitionSpec moves o to state, then records it in the ledger, the store
// and the log.
func (r *run) transitionSpec(ctx context.Context, o *Outcome, state State, stage Stage, spec *synth.ProbeSpec, err error) {
	o.State, o.Stage = state, stage
	if err != nil {
		o.ErrorKind = Classify(stage, err)
		o.Reason = err.Error()
	}
	r.ledger.Record(*o)

	row := store.ProbeRun{
		RunID:      r.id,
		AdvisoryID: o.AdvisoryID,
		State:      string(state),
		Stage:      string(stage),
		ProbeName:  o.ProbeName,
		Mode:       o.Mode,
		ErrorKind:  string(o.ErrorKind),
		Reason:     o.Reason,
	}
	if spec != nil && state == StateSynthesized {
		row.Code = spec.Code
		row.Description = spec.Description
	}
	if serr := r.p.Store.RecordTransition(ctx, row); serr != nil {
		r.log.Warn("transition not persisted", "advisory_id", o.AdvisoryID, "state", state, "error", serr)
	}

	attrs := []any{"advisory_id", o.AdvisoryID, "stage", stage, "state", state}
	if o.ProbeName != "" {
		attrs = append(attrs, "probe", o.ProbeName)
	}
	if err != nil {
		attrs = append(attrs, "error_kind", o.ErrorKind, "error", err)
		r.log.Error("advisory failed", attrs...)
		return
	}
	r.log.Info("advisory "+strings.ToLower(string(state)), attrs...)
}
