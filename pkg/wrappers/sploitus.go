package wrappers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/user/sploitprobe/pkg/advisory"
)

// maxSearchResults caps how many hits are handed back to the model.
const maxSearchResults = 10

// Searcher is satisfied by *advisory.SploitusClient.
type Searcher interface {
	Search(ctx context.Context, q advisory.SearchQuery) (advisory.SearchResult, error)
}

// SearchExploitsWrapper implements the Tool interface for the exploit search API
type SearchExploitsWrapper struct {
	Client Searcher
}

func (s *SearchExploitsWrapper) Name() string {
	return "SearchExploits"
}

func (s *SearchExploitsWrapper) Description() string {
	return "Searches the public exploit index for exploits or tools matching a query and returns the total count and the top hits."
}

func (s *SearchExploitsWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search text, e.g. a CVE id, product name or exploit id",
			},
			"sortBy": map[string]interface{}{
				"type":        "string",
				"description": "Sort order of the results",
				"enum":        []string{"default", "date", "score"},
			},
			"type": map[string]interface{}{
				"type":        "string",
				"description": "Whether to search exploits or tools",
				"enum":        []string{"exploits", "tools"},
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Offset for pagination (default 0)",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchExploitsWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if s.Client == nil {
		return "Error: search client not initialized.", nil
	}

	q := advisory.SearchQuery{Type: "exploits", Sort: "default"}
	q.Query, _ = args["query"].(string)
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return "Error: query argument is required.", nil
	}
	if v, ok := args["sortBy"].(string); ok && v != "" {
		switch v {
		case "default", "date", "score":
			q.Sort = v
		default:
			return fmt.Sprintf("Error: sortBy must be one of default, date, score (got %q).", v), nil
		}
	}
	if v, ok := args["type"].(string); ok && v != "" {
		switch v {
		case "exploits", "tools":
			q.Type = v
		default:
			return fmt.Sprintf("Error: type must be exploits or tools (got %q).", v), nil
		}
	}
	q.Offset = intArg(args["offset"])

	if progress != nil {
		progress(fmt.Sprintf("Searching %s for %q...", q.Type, q.Query))
	}
	res, err := s.Client.Search(ctx, q)
	if err != nil {
		return fmt.Sprintf("Error searching exploits: %v", err), nil
	}
	if len(res.Exploits) > maxSearchResults {
		res.Exploits = res.Exploits[:maxSearchResults]
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode search result: %w", err)
	}
	return string(out), nil
}

// AdvisoryReader is satisfied by *store.Store.
type AdvisoryReader interface {
	GetAdvisory(ctx context.Context, id string) (advisory.Advisory, bool, error)
}

// LookupAdvisoryWrapper implements the Tool interface for reading a stored advisory
type LookupAdvisoryWrapper struct {
	Store AdvisoryReader
}

func (l *LookupAdvisoryWrapper) Name() string {
	return "LookupAdvisory"
}

func (l *LookupAdvisoryWrapper) Description() string {
	return "Returns the stored advisory record (title, score, source URL, type, language) for an exploit identifier."
}

func (l *LookupAdvisoryWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Exploit identifier",
			},
		},
		"required": []string{"id"},
	}
}

func (l *LookupAdvisoryWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if l.Store == nil {
		return "Error: advisory store not initialized.", nil
	}
	id, _ := args["id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "Error: id argument is required.", nil
	}

	adv, ok, err := l.Store.GetAdvisory(ctx, id)
	if err != nil {
		return fmt.Sprintf("Error reading advisory %s: %v", id, err), nil
	}
	if !ok {
		return fmt.Sprintf("No stored advisory with id %s.", id), nil
	}
	out, err := json.Marshal(adv)
	if err != nil {
		return "", fmt.Errorf("encode advisory: %w", err)
	}
	return string(out), nil
}

// intArg accepts the numeric shapes providers send for integer arguments.
func intArg(v interface{}) int {
	switch n := v.(type) {
	case float64:
		if n < 0 || math.IsNaN(n) {
			return 0
		}
		return int(n)
	case int:
		if n < 0 {
			return 0
		}
		return n
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0
		}
		return int(i)
	}
	return 0
}
