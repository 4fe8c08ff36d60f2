// Package synth asks a language model for probe code and for the
// technologies affected by a batch of advisories.
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/sploitprobe/pkg/adk"
	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/sanitize"
)

const DefaultTimeout = 3 * time.Minute

type Options struct {
	// Timeout bounds a single request, tool calls included.
	Timeout  time.Duration
	MaxSteps int
	// Tools are offered to the model during probe synthesis.
	Tools []adk.Tool
}

// Client is built once per run and passed to the pipeline. Each request
// starts a fresh conversation.
type Client struct {
	llm  adk.LLMProvider
	opts Options
}

func NewClient(llm adk.LLMProvider, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = adk.DefaultMaxSteps
	}
	return &Client{llm: llm, opts: opts}
}

func (c *Client) newAgent(withTools bool) *adk.Agent {
	a := adk.NewAgent(c.llm)
	a.SetSystemPrompt(adk.SystemPrompt())
	a.SetMaxSteps(c.opts.MaxSteps)
	if withTools {
		for _, t := range c.opts.Tools {
			a.RegisterTool(t)
		}
	}
	return a
}

func (c *Client) run(ctx context.Context, prompt string, withTools bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.newAgent(withTools).Run(ctx, prompt, func(msg string) { adk.Debugf("%s", msg) })
}

// Technologies lists what one advisory affects.
type Technologies struct {
	Title        string   `json:"title"`
	Technologies []string `json:"affected_technologies"`
}

// RequestAffectedTechnologies makes one batched call for all advisories of a
// run. An empty array is a valid answer.
func (c *Client) RequestAffectedTechnologies(ctx context.Context, advs []advisory.Advisory) ([]Technologies, error) {
	prompt, err := renderTechnologies(advs)
	if err != nil {
		return nil, err
	}
	raw, err := c.run(ctx, prompt, false)
	if err != nil {
		return nil, fmt.Errorf("request technologies: %w", err)
	}
	return ParseTechnologies(raw)
}

// RequestProbe asks for a probe envelope for one advisory and returns the
// model's raw answer.
func (c *Client) RequestProbe(ctx context.Context, adv advisory.Advisory) (string, error) {
	prompt, err := renderProbe(adv)
	if err != nil {
		return "", err
	}
	raw, err := c.run(ctx, prompt, true)
	if err != nil {
		return "", fmt.Errorf("request probe for %s: %w", adv.ID, err)
	}
	return raw, nil
}

// ParseTechnologies accepts a JSON array of {title, affected_technologies}
// objects. Elements using "technologies" as the list key are accepted too;
// elements without a title are skipped.
func ParseTechnologies(raw string) ([]Technologies, error) {
	items, err := sanitize.Array(raw)
	if err != nil {
		return nil, fmt.Errorf("parse technologies: %w", err)
	}
	out := make([]Technologies, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := obj["title"].(string)
		if strings.TrimSpace(title) == "" {
			continue
		}
		list := obj["affected_technologies"]
		if list == nil {
			list = obj["technologies"]
		}
		out = append(out, Technologies{Title: title, Technologies: stringList(list)})
	}
	return out, nil
}

func stringList(v any) []string {
	out := []string{}
	switch l := v.(type) {
	case []any:
		for _, e := range l {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(l, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

