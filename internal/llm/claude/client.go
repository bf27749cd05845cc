// Package claude is the Anthropic Messages API provider for the authoring
// collaborator.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/tools"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Client implements authoring.Provider on the Anthropic SDK.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude provider. Extra request options (base URL, retries)
// are passed to the SDK client.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (c *Client) Name() string { return "anthropic" }

// Send converts the request to SDK types, calls the Messages API and maps
// the answer back.
func (c *Client) Send(ctx context.Context, req *authoring.LLMRequest) (*authoring.LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	resp := fromSDKResponse(msg)
	resp.Provider = c.Name()
	return resp, nil
}

func toSDKMessages(msgs []authoring.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case authoring.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case authoring.BlockToolUse:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case authoring.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == authoring.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toSDKTools(defs []tools.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		// an unparsable schema still yields an object tool without properties
		_ = json.Unmarshal(d.InputSchema, &schema)

		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}})
	}
	return out
}

func fromSDKResponse(msg *anthropic.Message) *authoring.LLMResponse {
	resp := &authoring.LLMResponse{
		Model: string(msg.Model),
		Usage: authoring.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	switch msg.StopReason {
	case anthropic.StopReasonEndTurn:
		resp.StopReason = authoring.StopEnd
	case anthropic.StopReasonToolUse:
		resp.StopReason = authoring.StopToolUse
	default:
		resp.StopReason = authoring.StopReason(msg.StopReason)
	}

	for _, b := range msg.Content {
		switch b.Type {
		case authoring.BlockText:
			resp.Content = append(resp.Content, authoring.ContentBlock{Type: authoring.BlockText, Text: b.Text})
		case authoring.BlockToolUse:
			resp.Content = append(resp.Content, authoring.ContentBlock{
				Type:  authoring.BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	return resp
}
