package search

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/medialobby/gateway/internal/observability"
)

// ErrNoIndexers is returned when every indexer the query needed is
// unconfigured or failed.
var ErrNoIndexers = errors.New("no media indexers available")

// Response is the aggregated search outcome. Message is non-empty when at
// least one queried indexer could not contribute results.
type Response struct {
	Results []Result `json:"results"`
	Message string   `json:"message,omitempty"`
}

// Aggregator fans a search out to the movie and series indexers and merges
// the results. Either indexer may be nil if unconfigured.
type Aggregator struct {
	movies Indexer
	series Indexer
	logger observability.Logger
}

// AggregatorOption is a functional option for configuring the aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger for the aggregator.
func WithAggregatorLogger(logger observability.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an aggregator over the given indexers. Pass nil for
// an indexer that is not configured.
func NewAggregator(movies, series Indexer, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		movies: movies,
		series: series,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// legOutcome carries one indexer's contribution back from its goroutine.
type legOutcome struct {
	name    string
	results []Result
	err     error
}

// Search queries the indexers selected by mediaType concurrently. Partial
// failure still yields the surviving results with a message describing the
// failed leg. The error is non-nil only when every queried leg failed.
func (a *Aggregator) Search(ctx context.Context, query string, mediaType MediaType) (*Response, error) {
	legs := a.selectLegs(mediaType)
	if len(legs) == 0 {
		return nil, ErrNoIndexers
	}

	outcomes := make([]legOutcome, len(legs))

	var wg sync.WaitGroup
	for idx, leg := range legs {
		wg.Add(1)
		go func(idx int, leg Indexer) {
			defer wg.Done()
			results, err := leg.Search(ctx, query)
			outcomes[idx] = legOutcome{name: leg.Name(), results: results, err: err}
		}(idx, leg)
	}
	wg.Wait()

	resp := &Response{Results: make([]Result, 0)}
	var failures []string
	for _, out := range outcomes {
		if out.err != nil {
			a.logger.Warn("indexer lookup failed",
				observability.String("indexer", out.name),
				observability.Error(out.err),
			)
			failures = append(failures, out.err.Error())
			continue
		}
		resp.Results = append(resp.Results, out.results...)
	}

	if len(failures) == len(legs) {
		return nil, errors.New(strings.Join(failures, "; "))
	}
	if len(failures) > 0 {
		resp.Message = strings.Join(failures, "; ")
	}
	return resp, nil
}

// selectLegs maps the type filter to the configured indexers.
func (a *Aggregator) selectLegs(mediaType MediaType) []Indexer {
	var legs []Indexer
	if (mediaType == TypeAll || mediaType == TypeMovie) && a.movies != nil {
		legs = append(legs, a.movies)
	}
	if (mediaType == TypeAll || mediaType == TypeSeries) && a.series != nil {
		legs = append(legs, a.series)
	}
	return legs
}
