// Package gemini is the Google Gemini provider for the authoring
// collaborator. Tools are not offered to Gemini; tool traffic already in the
// conversation is passed as text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

const temperature = 0.3

// Client implements authoring.Provider on the Gemini SDK.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini provider. Close releases the underlying client.
func New(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Name() string { return "gemini" }

// Close closes the Gemini client.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Send(ctx context.Context, req *authoring.LLMRequest) (*authoring.LLMResponse, error) {
	history, last, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	model := c.client.GenerativeModel(c.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](temperature),
	}
	if req.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	out, err := fromResponse(resp)
	if err != nil {
		return nil, err
	}
	out.Provider = c.Name()
	out.Model = c.model
	return out, nil
}

// toContents flattens the conversation into Gemini contents. The final user
// turn is returned separately since it is what the chat session sends.
func toContents(msgs []authoring.Message) ([]*genai.Content, genai.Part, error) {
	var contents []*genai.Content
	for _, m := range msgs {
		text := m.FlatText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := "user"
		if m.Role == authoring.RoleAssistant {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}

	n := len(contents)
	if n == 0 || contents[n-1].Role != "user" {
		return nil, nil, errors.New("gemini: conversation must end with a user turn")
	}
	last := contents[n-1]
	if len(last.Parts) == 1 {
		return contents[:n-1], last.Parts[0], nil
	}
	parts := make([]string, 0, len(last.Parts))
	for _, p := range last.Parts {
		parts = append(parts, string(p.(genai.Text)))
	}
	return contents[:n-1], genai.Text(strings.Join(parts, "\n\n")), nil
}

func fromResponse(resp *genai.GenerateContentResponse) (*authoring.LLMResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("empty response from gemini")
	}
	cand := resp.Candidates[0]

	var texts []string
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			texts = append(texts, string(t))
		}
	}
	if len(texts) == 0 {
		return nil, errors.New("gemini returned no text")
	}

	out := &authoring.LLMResponse{
		Content:    []authoring.ContentBlock{{Type: authoring.BlockText, Text: strings.Join(texts, "")}},
		StopReason: authoring.StopEnd,
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = authoring.StopMaxTokens
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = authoring.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}
