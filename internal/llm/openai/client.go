// Package openai is the OpenAI chat completions provider for the authoring
// collaborator.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/tools"
)

const temperature = 0.3

// Client implements authoring.Provider on go-openai.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI provider. baseURL may point at a compatible server.
func New(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Send(ctx context.Context, req *authoring.LLMRequest) (*authoring.LLMResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	out := fromChoice(resp.Choices[0])
	out.Usage = authoring.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	out.Provider = c.Name()
	out.Model = resp.Model
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}

// toChatMessages maps the conversation onto chat messages. Tool results
// become role "tool" messages placed before any text of the same turn.
func toChatMessages(system string, msgs []authoring.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		var texts []string
		var calls []openai.ToolCall
		for _, b := range m.Content {
			switch b.Type {
			case authoring.BlockText:
				texts = append(texts, b.Text)
			case authoring.BlockToolUse:
				calls = append(calls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case authoring.BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if m.Role == authoring.RoleAssistant {
			if len(texts) > 0 || len(calls) > 0 {
				out = append(out, openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					Content:   strings.Join(texts, "\n"),
					ToolCalls: calls,
				})
			}
			continue
		}
		if len(texts) > 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: strings.Join(texts, "\n\n"),
			})
		}
	}
	return out
}

func toChatTools(defs []tools.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

func fromChoice(ch openai.ChatCompletionChoice) *authoring.LLMResponse {
	out := &authoring.LLMResponse{StopReason: authoring.StopEnd}
	if s := strings.TrimSpace(ch.Message.Content); s != "" {
		out.Content = append(out.Content, authoring.ContentBlock{Type: authoring.BlockText, Text: s})
	}
	for _, tc := range ch.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.Content = append(out.Content, authoring.ContentBlock{
			Type:  authoring.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		})
	}

	switch ch.FinishReason {
	case openai.FinishReasonToolCalls:
		out.StopReason = authoring.StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = authoring.StopMaxTokens
	}
	return out
}
