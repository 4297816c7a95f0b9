// Package model defines the provider-agnostic capability surface over the
// external language model: structured analysis with optional vision input and
// streaming web search with per-query progress. Provider adapters live under
// features/model; the orchestration core depends only on this package.
package model

import (
	"context"
	"encoding/json"
)

type (
	// Part is a marker interface implemented by all request parts. Concrete
	// implementations capture user text and image references in a strongly
	// typed form.
	Part interface {
		isPart()
	}

	// TextPart is a plain text block in a request.
	TextPart struct {
		// Text is the content for this part.
		Text string
	}

	// ImagePart references an image attached to the request, typically a
	// capture screenshot. Adapters read and encode the file; Hash is the
	// caller-computed content hash used for vision caching.
	ImagePart struct {
		// Path locates the image on disk.
		Path string
		// Hash is the content hash of the image used as a cache key component.
		Hash string
	}

	// Request describes one analysis call. When Schema is set the adapter
	// must return a JSON result validated against it; otherwise the adapter
	// returns plain text.
	Request struct {
		// System is the system prompt.
		System string
		// Parts are the user content blocks, in order.
		Parts []Part
		// Schema is the JSON schema document the result must conform to.
		// Nil requests a plain text result.
		Schema json.RawMessage
		// SchemaName names the schema for provider tool registration.
		SchemaName string
		// MaxTokens caps the completion length. Zero uses the adapter default.
		MaxTokens int
	}

	// Result is the outcome of an analysis call. Exactly one of JSON and Text
	// is populated: JSON when the request carried a schema and validation
	// succeeded, Text otherwise.
	Result struct {
		// JSON is the schema-validated structured result.
		JSON json.RawMessage
		// Text is the plain text result.
		Text string
	}

	// SearchStatus is the lifecycle state of a single web search query.
	SearchStatus string

	// SearchProgress is one progress event in a web search stream.
	SearchProgress struct {
		// Query is the search query under execution.
		Query string
		// Status is searching, completed, or failed.
		Status SearchStatus
		// ResultsCount is the number of results for a completed query.
		ResultsCount int
	}

	// SearchResult is one deduplicated web search hit.
	SearchResult struct {
		// Title is the page title.
		Title string
		// URL is the result location.
		URL string
		// Snippet is an optional excerpt.
		Snippet string
	}

	// SearchSink receives progress events for a web search stream. Sinks may
	// block; producers must not drop events on backpressure.
	SearchSink func(SearchProgress)

	// Client is the narrow capability surface over the external model.
	// Implementations classify failures as ProviderError so callers can make
	// retry decisions without provider knowledge.
	Client interface {
		// Analyze issues a single analysis request and returns either a
		// validated JSON object conforming to the requested schema or a plain
		// text result.
		Analyze(ctx context.Context, req *Request) (*Result, error)

		// WebSearchStream executes one web search query, emitting progress
		// events on sink as the search advances. The event sequence is finite
		// and not restartable. The returned results are deduplicated by the
		// provider; callers dedup across queries themselves.
		WebSearchStream(ctx context.Context, query string, sink SearchSink) ([]SearchResult, error)
	}

	// Middleware wraps a Client with cross-cutting behavior (rate limiting,
	// retries, inflight gating). Middlewares compose right to left.
	Middleware func(Client) Client
)

const (
	// SearchSearching reports a query that has been dispatched.
	SearchSearching SearchStatus = "searching"
	// SearchCompleted reports a query that finished with results.
	SearchCompleted SearchStatus = "completed"
	// SearchFailed reports a query that failed.
	SearchFailed SearchStatus = "failed"
)

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

// Chain applies middlewares to a client, outermost first.
func Chain(c Client, mw ...Middleware) Client {
	for i := len(mw) - 1; i >= 0; i-- {
		c = mw[i](c)
	}
	return c
}
