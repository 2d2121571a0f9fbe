// Package search queries the external media-indexer APIs and aggregates
// their results for the portal search endpoint.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/medialobby/gateway/internal/observability"
)

// MediaType filters which indexers are queried.
type MediaType string

const (
	// TypeMovie queries only the movie indexer.
	TypeMovie MediaType = "movie"

	// TypeSeries queries only the series indexer.
	TypeSeries MediaType = "series"

	// TypeAll queries both indexers.
	TypeAll MediaType = ""
)

// Result is one media lookup hit, normalized across indexers.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Year     string `json:"year,omitempty"`
	Type     string `json:"type"`
	Overview string `json:"overview,omitempty"`
	Poster   string `json:"poster,omitempty"`
}

// Indexer looks up titles in one third-party media index.
type Indexer interface {
	// Name identifies the indexer in logs and error messages.
	Name() string

	// Search returns hits for the query.
	Search(ctx context.Context, query string) ([]Result, error)
}

// Breaker defaults for indexer calls.
const (
	defaultIndexerTimeout  = 10 * time.Second
	breakerFailureTrip     = 5
	breakerCooldownTimeout = 30 * time.Second
)

// HTTPIndexer is an Indexer over a JSON lookup API. Calls go through a
// circuit breaker that opens after repeated consecutive failures.
type HTTPIndexer struct {
	name      string
	baseURL   string
	apiKey    string
	mediaType string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    observability.Logger
}

// IndexerOption is a functional option for configuring the indexer.
type IndexerOption func(*HTTPIndexer)

// WithIndexerLogger sets the logger for the indexer.
func WithIndexerLogger(logger observability.Logger) IndexerOption {
	return func(i *HTTPIndexer) {
		i.logger = logger
	}
}

// WithIndexerClient sets the HTTP client used for lookups.
func WithIndexerClient(client *http.Client) IndexerOption {
	return func(i *HTTPIndexer) {
		i.client = client
	}
}

// NewHTTPIndexer creates an indexer named name over baseURL, tagging every
// hit with mediaType. The API key is sent as an X-Api-Key header.
func NewHTTPIndexer(name, baseURL, apiKey, mediaType string, opts ...IndexerOption) *HTTPIndexer {
	i := &HTTPIndexer{
		name:      name,
		baseURL:   baseURL,
		apiKey:    apiKey,
		mediaType: mediaType,
		client:    &http.Client{Timeout: defaultIndexerTimeout},
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(i)
	}

	i.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerCooldownTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			i.logger.Warn("indexer breaker state changed",
				observability.String("indexer", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return i
}

// Name implements Indexer.
func (i *HTTPIndexer) Name() string {
	return i.name
}

// Search implements Indexer.
func (i *HTTPIndexer) Search(ctx context.Context, query string) ([]Result, error) {
	hits, err := i.breaker.Execute(func() (interface{}, error) {
		return i.doSearch(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return hits.([]Result), nil
}

// indexerResponse is the wire shape of the lookup APIs.
type indexerResponse struct {
	Results []Result `json:"results"`
}

func (i *HTTPIndexer) doSearch(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf("%s/search?%s", i.baseURL, url.Values{"query": {query}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", i.name, err)
	}
	if i.apiKey != "" {
		req.Header.Set("X-Api-Key", i.apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s unreachable: %w", i.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", i.name, resp.StatusCode)
	}

	var decoded indexerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", i.name, err)
	}

	for idx := range decoded.Results {
		decoded.Results[idx].Type = i.mediaType
	}
	return decoded.Results, nil
}
