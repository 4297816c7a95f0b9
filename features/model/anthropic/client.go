// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates analysis requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go,
// forces structured output through a schema-typed tool, runs web searches
// through the server web-search tool, and maps SDK failures onto the
// provider error classification.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowclip/flowclip/runtime/model"
)

const providerName = "anthropic"

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures optional adapter behavior.
	Options struct {
		// Model is the Claude model identifier. Required. Use the typed model
		// constants from github.com/anthropics/anthropic-sdk-go or the
		// identifiers listed in the Anthropic model reference.
		Model string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. Defaults to 4096.
		MaxTokens int

		// MaxSearchUses bounds server web-search invocations per query.
		// Defaults to 3.
		MaxSearchUses int
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg       MessagesClient
		model     string
		maxTok    int
		searchMax int
		vision    *model.VisionCache
	}
)

// New builds an Anthropic-backed model client from the provided Messages
// client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	searchMax := opts.MaxSearchUses
	if searchMax <= 0 {
		searchMax = 3
	}
	return &Client{
		msg:       msg,
		model:     opts.Model,
		maxTok:    maxTok,
		searchMax: searchMax,
		vision:    model.NewVisionCache(),
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: modelID})
}

// Analyze issues a Messages.New request. When the request carries a schema
// the adapter registers a single result tool typed by that schema and forces
// the model to call it; the validated tool input becomes the JSON result.
// Vision requests are served from the vision cache when a duplicate call
// arrives within the cache TTL.
func (c *Client) Analyze(ctx context.Context, req *model.Request) (*model.Result, error) {
	if req == nil {
		return nil, errors.New("anthropic: request is required")
	}
	imageHash, fingerprint := visionKey(req)
	if imageHash != "" {
		if cached := c.vision.Get(imageHash, fingerprint); cached != nil {
			return cached, nil
		}
	}

	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, classify("messages.new", err)
	}
	res, err := c.translate(req, msg)
	if err != nil {
		return nil, err
	}
	if imageHash != "" {
		c.vision.Put(imageHash, fingerprint, res)
	}
	return res, nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	blocks, err := encodeParts(req.Parts)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, errors.New("anthropic: at least one request part is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Schema) > 0 {
		name := toolName(req.SchemaName)
		schema, err := toolInputSchema(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: result tool schema: %w", err)
		}
		tool := sdk.ToolUnionParamOfTool(schema, name)
		if tool.OfTool != nil {
			tool.OfTool.Description = sdk.String("Record the analysis result.")
		}
		params.Tools = []sdk.ToolUnionParam{tool}
		params.ToolChoice = sdk.ToolChoiceParamOfTool(name)
	}
	return params, nil
}

// translate maps the response onto the result contract: the result tool's
// validated input when a schema was requested, concatenated text otherwise.
func (c *Client) translate(req *model.Request, msg *sdk.Message) (*model.Result, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	wantJSON := len(req.Schema) > 0
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text.WriteString(block.Text)
			}
		case "tool_use":
			if !wantJSON {
				continue
			}
			payload, err := json.Marshal(block.Input)
			if err != nil {
				return nil, model.NewProviderError(providerName, "translate", 0, model.KindSchema, "encode tool input", false, err)
			}
			if err := model.ValidateAgainstSchema(req.Schema, payload); err != nil {
				return nil, model.NewProviderError(providerName, "translate", 0, model.KindSchema, "result failed schema validation", false, err)
			}
			return &model.Result{JSON: payload}, nil
		}
	}
	if wantJSON {
		return nil, model.NewProviderError(providerName, "translate", 0, model.KindSchema, "model did not call the result tool", false, nil)
	}
	return &model.Result{Text: text.String()}, nil
}

func encodeParts(parts []model.Part) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case model.TextPart:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case model.ImagePart:
			data, mediaType, err := loadImage(v.Path)
			if err != nil {
				return nil, model.NewProviderError(providerName, "encode_image", 0, model.KindInvalidRequest, "read image part", false, err)
			}
			blocks = append(blocks, sdk.NewImageBlockBase64(mediaType, data))
		default:
			return nil, fmt.Errorf("anthropic: unsupported part type %T", part)
		}
	}
	return blocks, nil
}

// loadImage reads and base64-encodes the referenced screenshot.
func loadImage(path string) (string, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	mediaType := "image/png"
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".jpg"),
		strings.HasSuffix(strings.ToLower(path), ".jpeg"):
		mediaType = "image/jpeg"
	case strings.HasSuffix(strings.ToLower(path), ".webp"):
		mediaType = "image/webp"
	}
	return base64.StdEncoding.EncodeToString(raw), mediaType, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// toolName maps a schema name onto the characters allowed by tool naming
// constraints, defaulting when empty.
func toolName(name string) string {
	if name == "" {
		return "record_result"
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

// visionKey derives the vision cache key for requests carrying an image
// part: the image content hash plus a fingerprint of the prompt and schema.
func visionKey(req *model.Request) (string, string) {
	for _, part := range req.Parts {
		if img, ok := part.(model.ImagePart); ok && img.Hash != "" {
			fp := fmt.Sprintf("%s|%s", req.System, req.Schema)
			return img.Hash, fp
		}
	}
	return "", ""
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
		case apierr.StatusCode == http.StatusBadRequest || apierr.StatusCode == http.StatusNotFound ||
			apierr.StatusCode == http.StatusRequestEntityTooLarge:
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
	// Transport-level failures without an API status are treated as
	// transient.
	return model.NewProviderError(providerName, operation, 0, model.KindUnavailable, err.Error(), true, err)
}
