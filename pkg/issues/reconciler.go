// Package issues files a GitHub issue for every probe that reports a
// vulnerable target.
package issues

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-github/v60/github"

	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/engine"
	"github.com/user/sploitprobe/pkg/probe"
	"github.com/user/sploitprobe/pkg/synth"
)

const (
	LabelVulnerable = "vulnerable"
	keyPrefix       = "sploitprobe:"
)

// Reconciler keeps one open issue per (advisory, probe) pair. Existing
// issues are never edited; later verdicts for the same pair are no-ops.
type Reconciler struct {
	client *github.Client
	owner  string
	repo   string
	labels []string

	mu    sync.Mutex
	known map[string]bool
}

func NewReconciler(client *github.Client, owner, repo string, labels []string) *Reconciler {
	return &Reconciler{
		client: client,
		owner:  owner,
		repo:   repo,
		labels: labels,
		known:  make(map[string]bool),
	}
}

// NewClient returns a GitHub client authenticated with token, or an
// anonymous one when token is empty.
func NewClient(token string) *github.Client {
	c := github.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return c
}

// ParseRepo splits "owner/repo".
func ParseRepo(s string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be owner/repo, got %q", s)
	}
	return parts[0], parts[1], nil
}

// ReportVerdict implements engine.VerdictSink.
func (r *Reconciler) ReportVerdict(ctx context.Context, adv advisory.Advisory, spec synth.ProbeSpec, inv engine.Invocation) error {
	if inv.Verdict != probe.Vulnerable {
		return nil
	}
	key := issueKey(adv.ID, spec.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known[key] {
		return nil
	}

	exists, err := r.tracked(ctx, key)
	if err != nil {
		return fmt.Errorf("list tracked issues: %w", err)
	}
	if !exists {
		if err := r.createIssue(ctx, key, adv, spec, inv); err != nil {
			return fmt.Errorf("create issue for %s: %w", key, err)
		}
	}
	r.known[key] = true
	return nil
}

func (r *Reconciler) tracked(ctx context.Context, key string) (bool, error) {
	opts := &github.IssueListByRepoOptions{
		Labels:      []string{key},
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 1},
	}
	page, _, err := r.client.Issues.ListByRepo(ctx, r.owner, r.repo, opts)
	if err != nil {
		return false, err
	}
	return len(page) > 0, nil
}

func (r *Reconciler) createIssue(ctx context.Context, key string, adv advisory.Advisory, spec synth.ProbeSpec, inv engine.Invocation) error {
	title := fmt.Sprintf("[VULNERABLE] %s: %s", adv.ID, adv.Title)
	body := RenderIssueBody(adv, spec, inv)
	labels := append([]string{LabelVulnerable, key}, r.labels...)

	_, _, err := r.client.Issues.Create(ctx, r.owner, r.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	return err
}

// issueKey is a deterministic label for an (advisory, probe) pair. GitHub
// caps label names at 50 characters, so the pair is hashed.
func issueKey(advisoryID, probeName string) string {
	sum := sha256.Sum256([]byte(advisoryID + "\x00" + probeName))
	return keyPrefix + hex.EncodeToString(sum[:])[:16]
}
