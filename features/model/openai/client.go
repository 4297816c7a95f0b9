// Package openai provides an alternate model.Client implementation backed by
// the OpenAI Chat Completions API using github.com/openai/openai-go.
// Structured output is requested through a JSON-schema response format and
// validated at the boundary. The adapter does not support web search;
// deployments keyed to OpenAI run with research workflows disabled.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/flowclip/flowclip/runtime/model"
)

const providerName = "openai"

type (
	// ChatClient captures the subset of the OpenAI SDK used by the adapter.
	// It is satisfied by client.Chat.Completions.
	ChatClient interface {
		New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the chat model identifier. Required.
		Model string
		// MaxTokens caps completions when the request does not specify one.
		// Defaults to 4096.
		MaxTokens int
	}

	// Client implements model.Client via OpenAI Chat Completions.
	Client struct {
		chat   ChatClient
		model  string
		maxTok int
	}
)

// New builds an OpenAI-backed model client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{chat: chat, model: opts.Model, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Model: modelID})
}

// Analyze issues a chat completion. When the request carries a schema the
// completion is constrained to the JSON-schema response format and the
// output is validated before it is returned.
func (c *Client) Analyze(ctx context.Context, req *model.Request) (*model.Result, error) {
	if req == nil {
		return nil, errors.New("openai: request is required")
	}
	var user strings.Builder
	for _, part := range req.Parts {
		switch v := part.(type) {
		case model.TextPart:
			if v.Text != "" {
				user.WriteString(v.Text)
				user.WriteString("\n")
			}
		case model.ImagePart:
			return nil, model.NewProviderError(providerName, "analyze", 0, model.KindInvalidRequest,
				"image parts are not supported by this adapter", false, nil)
		}
	}
	if user.Len() == 0 {
		return nil, errors.New("openai: at least one request part is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		MaxCompletionTokens: sdk.Int(int64(maxTokens)),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.System),
			sdk.UserMessage(user.String()),
		},
	}
	if len(req.Schema) > 0 {
		var schemaDoc map[string]any
		if err := model.DecodeValidated(providerName, nil, req.Schema, &schemaDoc); err != nil {
			return nil, err
		}
		name := req.SchemaName
		if name == "" {
			name = "result"
		}
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schemaDoc,
				},
			},
		}
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, classify("chat.completions.new", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, model.NewProviderError(providerName, "chat.completions.new", 0, model.KindUnknown, "empty completion", false, nil)
	}
	content := resp.Choices[0].Message.Content
	if len(req.Schema) > 0 {
		payload := []byte(content)
		if err := model.ValidateAgainstSchema(req.Schema, payload); err != nil {
			return nil, model.NewProviderError(providerName, "translate", 0, model.KindSchema, "result failed schema validation", false, err)
		}
		return &model.Result{JSON: payload}, nil
	}
	return &model.Result{Text: content}, nil
}

// WebSearchStream is not supported by the OpenAI adapter.
func (c *Client) WebSearchStream(context.Context, string, model.SearchSink) ([]model.SearchResult, error) {
	return nil, model.NewProviderError(providerName, "web_search", 0, model.KindInvalidRequest,
		"web search is not supported by this adapter", false, nil)
}

// classify maps SDK errors onto the provider error classification.
func classify(operation string, err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		kind := model.KindUnknown
		retryable := false
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			kind = model.KindAuth
		case apierr.StatusCode == http.StatusTooManyRequests:
			kind = model.KindRateLimited
			retryable = true
		case apierr.StatusCode == http.StatusBadRequest || apierr.StatusCode == http.StatusNotFound:
			kind = model.KindInvalidRequest
		case apierr.StatusCode >= 500:
			kind = model.KindUnavailable
			retryable = true
		}
		return model.NewProviderError(providerName, operation, apierr.StatusCode, kind, apierr.Error(), retryable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return model.NewProviderError(providerName, operation, 0, model.KindUnavailable, err.Error(), true, err)
}
