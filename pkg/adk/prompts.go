package adk

import (
	_ "embed"
	"strings"
)

//go:embed prompts/system_prompt.md
var systemPrompt string

// SystemPrompt returns the planner instruction, followed by any extra
// sections separated by blank lines.
func SystemPrompt(extra ...string) string {
	parts := []string{strings.TrimSpace(systemPrompt)}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "\n\n")
}
