package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/authoring"
	vc "github.com/szlapakariel-ux/auditoria-sofse/internal/cfg"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/llm/claude"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/llm/gemini"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/llm/openai"
)

// buildProviders returns the configured providers in fallback order:
// Anthropic, Gemini, OpenAI. Providers without a key are skipped. The
// returned func releases provider resources.
func buildProviders(ctx context.Context, c *vc.Config, L log.Logger) ([]authoring.Provider, func(), error) {
	var (
		providers []authoring.Provider
		closers   []func() error
	)
	closeAll := func() {
		for _, fn := range closers {
			_ = fn()
		}
	}

	if c.ClaudeAPIKey != "" {
		providers = append(providers, claude.New(c.ClaudeAPIKey, c.ClaudeModel))
		L.Info(ctx, "initialized LLM provider", "provider", "anthropic", "model", c.ClaudeModel)
	}

	if c.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, c.GeminiAPIKey, c.GeminiModel)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("gemini provider: %w", err)
		}
		providers = append(providers, g)
		closers = append(closers, g.Close)
		L.Info(ctx, "initialized LLM provider", "provider", "gemini", "model", c.GeminiModel)
	}

	if c.OpenAIAPIKey != "" {
		o, err := openai.New(c.OpenAIAPIKey, c.OpenAIModel, c.OpenAIBaseURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("openai provider: %w", err)
		}
		providers = append(providers, o)
		L.Info(ctx, "initialized LLM provider", "provider", "openai", "model", c.OpenAIModel, "base_url", c.OpenAIBaseURL)
	}

	return providers, closeAll, nil
}
