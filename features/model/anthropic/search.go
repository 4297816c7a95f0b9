package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/flowclip/flowclip/runtime/model"
)

// WebSearchStream executes one query through the server web-search tool. A
// searching event is emitted before the call; a completed event with the
// result count (or a failed event) follows. The event sequence is finite and
// not restartable. Results are deduplicated by URL before they are returned.
func (c *Client) WebSearchStream(ctx context.Context, query string, sink model.SearchSink) ([]model.SearchResult, error) {
	if query == "" {
		return nil, model.NewProviderError(providerName, "web_search", 0, model.KindInvalidRequest, "query is required", false, nil)
	}
	emit := func(p model.SearchProgress) {
		if sink != nil {
			sink(p)
		}
	}
	emit(model.SearchProgress{Query: query, Status: model.SearchSearching})

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTok),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf("Search the web for: %s", query))),
		},
		Tools: []sdk.ToolUnionParam{{
			OfWebSearchTool20250305: &sdk.WebSearchTool20250305Param{
				MaxUses: sdk.Int(int64(c.searchMax)),
			},
		}},
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		emit(model.SearchProgress{Query: query, Status: model.SearchFailed})
		return nil, classify("web_search", err)
	}

	results := collectSearchResults(msg)
	emit(model.SearchProgress{Query: query, Status: model.SearchCompleted, ResultsCount: len(results)})
	return results, nil
}

// collectSearchResults extracts web search result blocks from the response
// content. Blocks are decoded from their raw JSON so unknown sibling fields
// from newer tool versions are tolerated.
func collectSearchResults(msg *sdk.Message) []model.SearchResult {
	if msg == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []model.SearchResult
	for _, block := range msg.Content {
		if block.Type != "web_search_tool_result" {
			continue
		}
		var doc struct {
			Content []struct {
				Type  string `json:"type"`
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"content"`
		}
		if err := json.Unmarshal([]byte(block.RawJSON()), &doc); err != nil {
			continue
		}
		for _, r := range doc.Content {
			if r.Type != "web_search_result" || r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			out = append(out, model.SearchResult{Title: r.Title, URL: r.URL})
		}
	}
	return out
}
