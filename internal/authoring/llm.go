package authoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/tools"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the input to a provider: system prompt, the conversation so
// far and the tools on offer.
type LLMRequest struct {
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []tools.ToolDef
}

// LLMResponse is what a provider answered and who answered it.
type LLMResponse struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Provider   string
	Model      string
}

// Text joins the text blocks of the response.
func (r *LLMResponse) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// StopReason indicates why the LLM stopped generating.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Roles of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in the conversation sent to a provider.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FlatText renders a message as plain text for providers without tool
// support. Tool calls and results become bracketed lines.
func (m Message) FlatText() string {
	var b strings.Builder
	for _, c := range m.Content {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		switch c.Type {
		case BlockText:
			b.WriteString(c.Text)
		case BlockToolUse:
			fmt.Fprintf(&b, "[herramienta %s: %s]", c.Name, c.Input)
		case BlockToolResult:
			fmt.Fprintf(&b, "[resultado %s: %s]", c.ToolUseID, c.Content)
		}
	}
	return b.String()
}
