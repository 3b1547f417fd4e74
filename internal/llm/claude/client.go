// Package claude implements llm.Provider on the Anthropic Messages API.
// Structured output is obtained by forcing a single tool whose input schema is
// the requested JSON schema.
package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/dogtor/internal/llm"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
	defaultToolName  = "record_result"
)

// ErrNoToolUse is returned when the model answered without calling the forced tool.
var ErrNoToolUse = errors.New("claude: response has no tool_use block")

// Client implements the llm.Provider interface using the Anthropic SDK.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a new Claude provider. opts are passed through to the SDK,
// which tests use to point the client at a fake server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = defaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(all...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends req and returns the forced tool's input as Content.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	msg, err := c.sdk.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg)
}

func toSDKParams(model string, req *llm.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	content := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		content = append(content, anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	content = append(content, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(content...)},
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = defaultToolName
		}
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String("Record the structured result."),
				InputSchema: toInputSchema(req.Schema),
			},
		}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: name},
		}
	}

	return params
}

func toInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	in := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
	}
	switch req := schema["required"].(type) {
	case []string:
		in.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				in.Required = append(in.Required, s)
			}
		}
	}
	return in
}

func fromSDKResponse(msg *anthropic.Message) (*llm.Response, error) {
	out := &llm.Response{
		Model: string(msg.Model),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" {
			out.Content = string(block.Input)
			return out, nil
		}
	}

	// no tool call: use the concatenated text
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.Content += block.Text
		}
	}
	if out.Content == "" {
		return out, fmt.Errorf("%w (stop_reason=%s)", ErrNoToolUse, msg.StopReason)
	}
	return out, nil
}
