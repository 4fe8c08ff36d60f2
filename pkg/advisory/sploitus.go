package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const DefaultSploitusURL = "https://sploitus.com"

// SploitusClient talks to the sploitus.com trending and search endpoints.
// Every request carries a freshly randomized User-Agent; there are no retries.
type SploitusClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  func() string
	log        *slog.Logger
}

func NewSploitusClient(baseURL string, timeout time.Duration, log *slog.Logger) *SploitusClient {
	if baseURL == "" {
		baseURL = DefaultSploitusURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SploitusClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  RandomUserAgent,
		log:        log,
	}
}

func (c *SploitusClient) FetchTrending(ctx context.Context) []Ref {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/top", nil)
	if err != nil {
		c.log.Warn("build trending request", "error", err)
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("fetch trending", "error_kind", "transport", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("fetch trending", "error_kind", "transport", "status", resp.StatusCode)
		return nil
	}

	var body struct {
		Top []Ref `json:"top"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.Warn("decode trending response", "error", err)
		return nil
	}
	if body.Top == nil {
		c.log.Info("no exploits found in trending response")
	}
	return body.Top
}

func (c *SploitusClient) FetchDetail(ctx context.Context, id string) (Advisory, bool) {
	res, err := c.Search(ctx, SearchQuery{
		Query:  id,
		Type:   "exploits",
		Sort:   "default",
		Title:  false,
		Offset: 0,
	})
	if err != nil {
		c.log.Warn("fetch detail", "advisory_id", id, "error_kind", "transport", "error", err)
		return Advisory{}, false
	}
	if len(res.Exploits) == 0 {
		c.log.Info("no detail available", "advisory_id", id)
		return Advisory{}, false
	}
	return res.Exploits[0], true
}

// Search runs a single query against the search endpoint.
func (c *SploitusClient) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return SearchResult{}, fmt.Errorf("marshal search query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return SearchResult{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SearchResult{}, fmt.Errorf("search returned %d: %s", resp.StatusCode, string(respBody))
	}

	var raw struct {
		ExploitsTotal int             `json:"exploits_total"`
		Exploits      []sploitusEntry `json:"exploits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}

	res := SearchResult{ExploitsTotal: raw.ExploitsTotal}
	for _, e := range raw.Exploits {
		res.Exploits = append(res.Exploits, e.normalize())
	}
	return res, nil
}

// sploitusEntry is the wire shape of one search hit. Only the fixed field set
// survives normalization; everything else upstream sends is discarded.
type sploitusEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Score     flexFloat `json:"score"`
	Href      string    `json:"href"`
	Type      string    `json:"type"`
	Published string    `json:"published"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
}

func (e sploitusEntry) normalize() Advisory {
	return Advisory{
		ID:        e.ID,
		Title:     e.Title,
		Score:     float64(e.Score),
		Href:      e.Href,
		Type:      e.Type,
		Published: e.Published,
		Source:    e.Source,
		Language:  e.Language,
	}
}

// flexFloat accepts a JSON number, a numeric string, or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse score %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
