// Package modeltest provides a scripted model.Client for tests: structured
// responses are queued per schema name, web searches return canned results,
// and failures can be injected ahead of any call. The client records every
// call so tests can assert on prompts and ordering.
package modeltest

import (
	"context"
	"sync"

	"github.com/flowclip/flowclip/runtime/model"
)

type (
	// Call records one Analyze invocation.
	Call struct {
		// SchemaName is the requested schema, "" for plain text.
		SchemaName string
		// Request is the full request.
		Request *model.Request
	}

	// Client is a scripted model.Client. The zero value routes every
	// structured request to its deterministic fallback by returning
	// schema-kind errors; tests queue responses per schema name to drive the
	// model path.
	Client struct {
		mu sync.Mutex

		// Responses queues JSON payloads per schema name. Each payload is
		// consumed once; the final payload is sticky and reused.
		Responses map[string][]string
		// Text is returned for requests without a schema.
		Text string
		// Errs is a global error queue consumed, one per Analyze call,
		// before any scripted response.
		Errs []error
		// SearchResults maps queries to canned results. Queries without an
		// entry return a single synthetic result.
		SearchResults map[string][]model.SearchResult
		// SearchErrs maps queries to injected search failures.
		SearchErrs map[string]error

		// Calls records every Analyze invocation in order.
		Calls []Call
		// Searches records every web search query in order.
		Searches []string
	}
)

var _ model.Client = (*Client)(nil)

// Respond queues a JSON payload for the schema name.
func (c *Client) Respond(schemaName, payload string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Responses == nil {
		c.Responses = make(map[string][]string)
	}
	c.Responses[schemaName] = append(c.Responses[schemaName], payload)
	return c
}

// Fail queues an error consumed by the next Analyze call.
func (c *Client) Fail(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errs = append(c.Errs, err)
	return c
}

// Analyze implements model.Client.
func (c *Client) Analyze(_ context.Context, req *model.Request) (*model.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, Call{SchemaName: req.SchemaName, Request: req})
	if len(c.Errs) > 0 {
		err := c.Errs[0]
		c.Errs = c.Errs[1:]
		return nil, err
	}
	if len(req.Schema) == 0 {
		return &model.Result{Text: c.Text}, nil
	}
	queue := c.Responses[req.SchemaName]
	if len(queue) == 0 {
		return nil, model.NewProviderError("modeltest", req.SchemaName, 0, model.KindSchema,
			"no scripted response", false, nil)
	}
	payload := queue[0]
	if len(queue) > 1 {
		c.Responses[req.SchemaName] = queue[1:]
	}
	return &model.Result{JSON: []byte(payload)}, nil
}

// WebSearchStream implements model.Client: a searching event, then either
// the canned results with a completed event or the injected failure.
func (c *Client) WebSearchStream(_ context.Context, query string, sink model.SearchSink) ([]model.SearchResult, error) {
	c.mu.Lock()
	c.Searches = append(c.Searches, query)
	results, ok := c.SearchResults[query]
	err := c.SearchErrs[query]
	c.mu.Unlock()

	if sink != nil {
		sink(model.SearchProgress{Query: query, Status: model.SearchSearching})
	}
	if err != nil {
		if sink != nil {
			sink(model.SearchProgress{Query: query, Status: model.SearchFailed})
		}
		return nil, err
	}
	if !ok {
		results = []model.SearchResult{{
			Title: "Result for " + query,
			URL:   "https://example.com/" + sanitize(query),
		}}
	}
	if sink != nil {
		sink(model.SearchProgress{Query: query, Status: model.SearchCompleted, ResultsCount: len(results)})
	}
	return results, nil
}

// CallCount returns the number of Analyze calls for the schema name.
func (c *Client) CallCount(schemaName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.Calls {
		if call.SchemaName == schemaName {
			n++
		}
	}
	return n
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
