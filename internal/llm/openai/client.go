// Package openai implements llm.Provider on the OpenAI chat completions API
// with strict JSON schema response formatting.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/linnemanlabs/dogtor/internal/llm"
)

const (
	defaultModel      = "gpt-4o"
	defaultMaxTokens  = 1000
	defaultSchemaName = "result"
)

var (
	// ErrNoChoices is returned when the API answers without any choice.
	ErrNoChoices = errors.New("openai: no choices in response")

	// ErrRefused is returned when the model refuses to answer.
	ErrRefused = errors.New("openai: model refused")
)

// Client implements the llm.Provider interface using the OpenAI SDK.
type Client struct {
	sdk   openai.Client
	model string
}

// New creates a new OpenAI provider. baseURL may be empty for the public API.
func New(apiKey, model, baseURL string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = defaultModel
	}
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &Client{
		sdk:   openai.NewClient(all...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends req and returns the first choice's message content.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	return fromSDKResponse(resp)
}

func toSDKParams(model string, req *llm.Request) openai.ChatCompletionNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, userMessage(req))

	params := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}

	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = defaultSchemaName
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        name,
					Description: openai.String("Structured response schema"),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	return params
}

func userMessage(req *llm.Request) openai.ChatCompletionMessageParamUnion {
	if len(req.Images) == 0 {
		return openai.UserMessage(req.Prompt)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		}))
	}
	parts = append(parts, openai.TextContentPart(req.Prompt))
	return openai.UserMessage(parts)
}

func fromSDKResponse(resp *openai.ChatCompletion) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, msg.Refusal)
	}
	return &llm.Response{
		Content: msg.Content,
		Model:   resp.Model,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
