package advisory

import "context"

// Ref is a lightweight pointer to a trending advisory.
type Ref struct {
	ID string `json:"id"`
}

// Advisory is one normalized exploit/tool entry from the search service.
type Advisory struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Score     float64 `json:"score"`
	Href      string  `json:"href"`
	Type      string  `json:"type"` // exploit / tool
	Published string  `json:"published"`
	Source    string  `json:"source"`
	Language  string  `json:"language"`
}

// SearchQuery mirrors the search endpoint's request body.
type SearchQuery struct {
	Query  string `json:"query"`
	Type   string `json:"type"` // exploits / tools
	Sort   string `json:"sort"` // default / date / score
	Title  bool   `json:"title"`
	Offset int    `json:"offset"`
}

// SearchResult is the decoded response of a search call.
type SearchResult struct {
	ExploitsTotal int        `json:"exploits_total"`
	Exploits      []Advisory `json:"exploits"`
}

type Source interface {
	// FetchTrending returns the current trending refs, in upstream order.
	// It fails soft: a non-success response yields an empty slice.
	FetchTrending(ctx context.Context) []Ref

	// FetchDetail resolves a single ref. ok is false when no detail is available.
	FetchDetail(ctx context.Context, id string) (adv Advisory, ok bool)
}
