package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/user/sploitprobe/pkg/adk"
	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/config"
	"github.com/user/sploitprobe/pkg/engine"
	"github.com/user/sploitprobe/pkg/issues"
	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/store"
	"github.com/user/sploitprobe/pkg/synth"
	"github.com/user/sploitprobe/pkg/wrappers"
)

// envKeys are consulted when no API key is configured for a provider.
var envKeys = map[string]string{
	"gemini":    "GOOGLE_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func apiKeyFor(cfg *config.Config, provider string) string {
	if key := cfg.GetAPIKey(provider); key != "" {
		return key
	}
	return os.Getenv(envKeys[provider])
}

// newLLM returns the configured provider and a function releasing it.
func newLLM(ctx context.Context, cfg *config.Config) (adk.LLMProvider, func(), error) {
	name := cfg.SelectedProvider
	apiKey := apiKeyFor(cfg, name)
	if apiKey == "" {
		return nil, nil, fmt.Errorf("no API key for %s; run 'sploitprobe config setup' or set %s", name, envKeys[name])
	}

	llm, err := adk.NewProvider(ctx, name, apiKey, cfg.SelectedModel, cfg.GetBaseURL(name))
	if err != nil {
		return nil, nil, fmt.Errorf("create %s provider: %w", name, err)
	}
	release := func() {}
	if c, ok := llm.(io.Closer); ok {
		release = func() { _ = c.Close() }
	}
	return llm, release, nil
}

// app holds everything one pipeline pass needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.Store
	release  func()
	pipeline *engine.Pipeline
}

func (a *app) Close() error {
	if a.release != nil {
		a.release()
	}
	return a.store.Close()
}

// newApp wires source, store, synthesizer, packager, Lambda and the optional
// issue reconciler into a pipeline.
func newApp(ctx context.Context, cfg *config.Config, skipCompleted bool) (*app, error) {
	log := newLogger(cfg.Log, os.Stderr)

	if cfg.Lambda.Role == "" {
		return nil, errors.New("lambda.role is required to deploy probes")
	}

	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	llm, release, err := newLLM(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	lambdaClient, err := probe.NewLambdaClient(ctx, cfg.Lambda.Region)
	if err != nil {
		release()
		st.Close()
		return nil, err
	}

	src := advisory.NewSploitusClient(cfg.Sploitus.BaseURL, cfg.Sploitus.Timeout, log)
	synthClient := synth.NewClient(llm, synth.Options{
		Timeout:  cfg.Synthesis.Timeout,
		MaxSteps: cfg.Synthesis.MaxSteps,
		Tools: []adk.Tool{
			&wrappers.SearchExploitsWrapper{Client: src},
			&wrappers.LookupAdvisoryWrapper{Store: st},
		},
	})

	p := &engine.Pipeline{
		Source:   src,
		Store:    st,
		Synth:    synthClient,
		Packager: &probe.Packager{},
		Deployer: probe.NewDeployer(lambdaClient, probe.DeployConfig{
			Role:     cfg.Lambda.Role,
			Runtime:  cfg.Lambda.Runtime,
			Handler:  cfg.Lambda.Handler,
			Timeout:  cfg.Lambda.TimeoutSeconds,
			MemoryMB: cfg.Lambda.MemoryMB,
		}, log),
		Invoker:       probe.NewInvoker(lambdaClient),
		Targets:       cfg.Targets,
		Log:           log,
		SkipCompleted: skipCompleted,
	}

	if cfg.GitHub.Repo != "" {
		owner, repo, err := issues.ParseRepo(cfg.GitHub.Repo)
		if err != nil {
			release()
			st.Close()
			return nil, err
		}
		p.Sinks = append(p.Sinks, issues.NewReconciler(issues.NewClient(cfg.GitHub.Token), owner, repo, cfg.GitHub.Labels))
		log.Info("issue reconciler enabled", "repo", cfg.GitHub.Repo)
	}

	return &app{cfg: cfg, log: log, store: st, release: release, pipeline: p}, nil
}
