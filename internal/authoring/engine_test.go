package authoring

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/tools"
)

const testModel = "claude-sonnet-4-20250514"

// mockProvider returns preconfigured responses in sequence and records requests.
type mockProvider struct {
	mu        sync.Mutex
	name      string
	responses []*LLMResponse
	errs      []error
	requests  []*LLMRequest
	callIdx   int
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Send(_ context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	cp.Messages = slices.Clone(req.Messages)
	m.requests = append(m.requests, &cp)

	idx := m.callIdx
	m.callIdx++

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		resp := *m.responses[idx]
		return &resp, nil
	}
	// fallback: end turn
	return &LLMResponse{
		Content:    []ContentBlock{{Type: BlockText, Text: "fallback"}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

// mockTool returns preconfigured Execute results.
type mockTool struct {
	name   string
	output json.RawMessage
	err    error
}

func (m *mockTool) Name() string                { return m.name }
func (m *mockTool) Description() string         { return "mock tool" }
func (m *mockTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return m.output, m.err
}

func testContext() MessageContext {
	return MessageContext{
		MessageID:        123,
		Content:          "TREN 3254 DEMORADO POR PROBLEMAS TECNICOS. 3.1.A",
		Line:             "Roca",
		Type:             classify.TypeTrain,
		EscalatedBy:      "ana",
		ValidatorComment: "la hora no hace falta en problemas técnicos",
		Level:            classify.LevelImportant,
		Classification:   classify.Classification{Important: []string{"Falta hora de ocurrencia"}},
		Findings: []classify.Finding{
			{Code: "falta_hora", Axis: classify.AxisComponents, Bucket: classify.BucketImportant, Text: "Falta hora de ocurrencia"},
		},
	}
}

func textResponse(text string) *LLMResponse {
	return &LLMResponse{
		Content:    []ContentBlock{{Type: BlockText, Text: text}},
		StopReason: StopEnd,
		Usage:      Usage{InputTokens: 100, OutputTokens: 50},
		Model:      testModel,
	}
}

func toolUse(id, name, input string) *LLMResponse {
	return &LLMResponse{
		Content: []ContentBlock{
			{Type: BlockText, Text: "busco reglas"},
			{Type: BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)},
		},
		StopReason: StopToolUse,
		Usage:      Usage{InputTokens: 200, OutputTokens: 80},
		Model:      testModel,
	}
}

const readyReply = "No existe regla para este caso. Te sugiero esta:\n```json\n" + `{
  "lista_para_crear": true,
  "patron_detectado": "Problemas técnicos sin hora declarada",
  "accion_sugerida": "suprimir",
  "hallazgo": "falta_hora",
  "contingencia": "03",
  "tipo": "FALSO_POSITIVO",
  "ampliar_regla_id": null
}` + "\n```"

func TestTurn_FirstReply(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{textResponse("¿La contingencia es siempre 03?")}}
	engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{})

	turn, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn.Reply != "¿La contingencia es siempre 03?" || turn.Proposal != nil {
		t.Errorf("reply = %q, proposal = %v", turn.Reply, turn.Proposal)
	}
	if len(turn.ConversationID) != 26 {
		t.Errorf("conversation id = %q, want a ulid", turn.ConversationID)
	}
	if turn.Provider != "mock" || turn.Model != testModel || turn.TokensUsed != 150 {
		t.Errorf("provider = %q model = %q tokens = %d", turn.Provider, turn.Model, turn.TokensUsed)
	}
	if len(turn.Transcript) != 1 || turn.Transcript[0].Role != RoleAssistant {
		t.Errorf("transcript = %+v", turn.Transcript)
	}

	req := provider.requests[0]
	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
		t.Fatalf("messages = %+v", req.Messages)
	}
	first := req.Messages[0].Content[0].Text
	for _, want := range []string{"ana", "la hora no hace falta", "falta_hora", "3254"} {
		if !strings.Contains(first, want) {
			t.Errorf("initial prompt missing %q", want)
		}
	}
	if !strings.Contains(req.System, "lista_para_crear") || req.MaxTokens != ResponseTokens {
		t.Errorf("system prompt or max tokens not set: %d", req.MaxTokens)
	}
}

func TestTurn_ContinuesTranscript(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{responses: []*LLMResponse{textResponse("Entendido.")}}
	engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{})

	prior := []Entry{
		{Role: RoleAssistant, Text: "¿Es falso positivo?"},
		{Role: RoleUser, Text: "sí"},
		{Role: RoleAssistant, Text: "¿Aplica a todas las líneas?"},
	}
	turn, err := engine.Turn(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Transcript:     prior,
		Utterance:      "  solo Roca  ",
		Context:        testContext(),
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn.ConversationID != "conv-1" {
		t.Errorf("conversation id = %q", turn.ConversationID)
	}
	if len(turn.Transcript) != 5 {
		t.Fatalf("transcript len = %d, want 5", len(turn.Transcript))
	}
	if got := turn.Transcript[3]; got.Role != RoleUser || got.Text != "solo Roca" {
		t.Errorf("utterance entry = %+v", got)
	}
	if len(prior) != 3 {
		t.Error("caller transcript was modified")
	}

	msgs := provider.requests[0].Messages
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			t.Errorf("roles do not alternate at %d", i)
		}
	}
}

func TestTurn_RequiresUtteranceToContinue(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{})

	tests := []TurnRequest{
		{Transcript: []Entry{{Role: RoleAssistant, Text: "hola"}}},
		{Transcript: []Entry{{Role: "system", Text: "x"}}, Utterance: "y"},
	}
	for _, req := range tests {
		_, err := engine.Turn(context.Background(), req)
		var ite *InvalidTurnError
		if !errors.As(err, &ite) {
			t.Errorf("err = %v, want InvalidTurnError", err)
		}
	}
	if provider.calls() != 0 {
		t.Error("provider called for an invalid turn")
	}
}

func TestBuildMessages_MergesSameRole(t *testing.T) {
	t.Parallel()

	msgs := buildMessages(TurnRequest{
		Transcript: []Entry{
			{Role: RoleUser, Text: "primero"},
			{Role: RoleAssistant, Text: "respuesta"},
			{Role: RoleAssistant, Text: ""},
		},
		Utterance: "segundo",
		Context:   testContext(),
	})
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if len(msgs[0].Content) != 2 || msgs[0].Content[1].Text != "primero" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[2].Role != RoleUser || msgs[2].Content[0].Text != "segundo" {
		t.Errorf("last message = %+v", msgs[2])
	}
}

func TestTurn_ToolRoundThenProposal(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(&mockTool{name: "buscar_reglas", output: json.RawMessage(`{"reglas":[]}`)})
	provider := &mockProvider{responses: []*LLMResponse{
		toolUse("call-1", "buscar_reglas", `{"patron":"problemas tecnicos hora"}`),
		textResponse(readyReply),
	}}
	engine := NewEngine(provider, registry, log.Nop(), Options{})

	turn, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn.ToolCalls != 1 || turn.TokensUsed != 430 {
		t.Errorf("tool calls = %d tokens = %d", turn.ToolCalls, turn.TokensUsed)
	}
	if turn.Reply != "No existe regla para este caso. Te sugiero esta:" {
		t.Errorf("reply = %q", turn.Reply)
	}
	p := turn.Proposal
	if p == nil {
		t.Fatal("expected a proposal")
	}
	if p.Action != rules.ActionSuppress || p.Finding != "falta_hora" || p.Contingency != "03" || !p.Ready {
		t.Errorf("proposal = %+v", p)
	}
	// the transcript keeps the json block for the next turn
	if last := turn.Transcript[len(turn.Transcript)-1]; !strings.Contains(last.Text, "lista_para_crear") {
		t.Errorf("transcript entry = %q", last.Text)
	}

	second := provider.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second call messages = %d, want 3", len(second))
	}
	res := second[2].Content[0]
	if res.Type != BlockToolResult || res.ToolUseID != "call-1" || res.IsError || res.Content != `{"reglas":[]}` {
		t.Errorf("tool result = %+v", res)
	}
	if len(provider.requests[0].Tools) != 1 {
		t.Errorf("tools offered = %d, want 1", len(provider.requests[0].Tools))
	}
}

func TestTurn_ToolErrors(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(&mockTool{name: "probar_patron", err: errors.New("boom")})
	provider := &mockProvider{responses: []*LLMResponse{
		{
			Content: []ContentBlock{
				{Type: BlockToolUse, ID: "a", Name: "probar_patron", Input: json.RawMessage(`{}`)},
				{Type: BlockToolUse, ID: "b", Name: "no_existe", Input: json.RawMessage(`{}`)},
			},
			StopReason: StopToolUse,
		},
		textResponse("no pude probar el patrón"),
	}}
	engine := NewEngine(provider, registry, log.Nop(), Options{})

	turn, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn.ToolCalls != 2 {
		t.Errorf("tool calls = %d, want 2", turn.ToolCalls)
	}

	results := provider.requests[1].Messages[2].Content
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].IsError || results[0].Content != "tool error: boom" {
		t.Errorf("tool error result = %+v", results[0])
	}
	if !results[1].IsError || results[1].Content != "unknown tool: no_existe" {
		t.Errorf("unknown tool result = %+v", results[1])
	}
}

func TestTurn_ToolBudgetExhausted(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(&mockTool{name: "buscar_reglas", output: json.RawMessage(`{}`)})
	loop := toolUse("c", "buscar_reglas", `{"patron":"x"}`)
	provider := &mockProvider{responses: []*LLMResponse{loop, loop, loop, loop}}
	engine := NewEngine(provider, registry, log.Nop(), Options{MaxToolRounds: 2})

	_, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
	ce, ok := IsCollaborator(err)
	if !ok {
		t.Fatalf("err = %v, want CollaboratorError", err)
	}
	if ce.ConnectionFailed || ce.Reason != "tool call budget exhausted" {
		t.Errorf("err = %+v", ce)
	}
	if provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls())
	}
}

func TestTurn_InvalidProposal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
	}{
		{"missing action", "```json\n{\"lista_para_crear\": true, \"patron_detectado\": \"x\", \"hallazgo\": \"falta_hora\"}\n```"},
		{"unknown action", "```json\n{\"lista_para_crear\": true, \"patron_detectado\": \"x\", \"accion_sugerida\": \"borrar\", \"hallazgo\": \"falta_hora\"}\n```"},
		{"bad regex", "```json\n{\"lista_para_crear\": true, \"patron_detectado\": \"x\", \"accion_sugerida\": \"rechazar\", \"regex_sugerido\": \"(\"}\n```"},
		{"nothing to match", "```json\n{\"lista_para_crear\": true, \"patron_detectado\": \"x\", \"accion_sugerida\": \"rechazar\"}\n```"},
		{"broken json", "```json\n{\"lista_para_crear\": tru\n```"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := &mockProvider{responses: []*LLMResponse{textResponse(tt.reply)}}
			engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{})

			turn, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
			if turn != nil {
				t.Errorf("turn = %+v, want nil", turn)
			}
			ce, ok := IsCollaborator(err)
			if !ok || ce.ConnectionFailed {
				t.Fatalf("err = %v, want a recoverable CollaboratorError", err)
			}
		})
	}
}

func TestTurn_ProviderFailure(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{errs: []error{errors.New("dial tcp: connection refused")}}
	engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{})

	_, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()})
	ce, ok := IsCollaborator(err)
	if !ok || !ce.ConnectionFailed {
		t.Fatalf("err = %v, want connection failed", err)
	}
	if !strings.Contains(err.Error(), "connection failed") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestTurn_RateLimited(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	engine := NewEngine(provider, tools.NewRegistry(), log.Nop(), Options{Rate: rate.Every(time.Hour), Burst: 1})

	if _, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()}); err != nil {
		t.Fatalf("first Turn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := engine.Turn(ctx, TurnRequest{Context: testContext()})
	ce, ok := IsCollaborator(err)
	if !ok || !ce.ConnectionFailed {
		t.Fatalf("err = %v, want connection failed from the limiter", err)
	}
	if provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls())
	}
}

func TestTurn_Hooks(t *testing.T) {
	t.Parallel()

	registry := tools.NewRegistry(&mockTool{name: "hook_tool", output: json.RawMessage(`{"ok":true}`)})
	provider := &mockProvider{responses: []*LLMResponse{
		toolUse("h-1", "hook_tool", `{}`),
		textResponse(readyReply),
	}}

	var (
		mu           sync.Mutex
		llmCalls     int
		tokensIn     int
		lastProvider string
		toolCalls    int
		lastToolErr  bool
		completed    []*TurnEvent
	)
	hooks := EngineHooks{
		OnLLMCall: func(provider string, in, _ int, _ float64) {
			mu.Lock()
			defer mu.Unlock()
			llmCalls++
			tokensIn += in
			lastProvider = provider
		},
		OnToolCall: func(_ string, _ float64, _, _ int, isErr bool) {
			mu.Lock()
			defer mu.Unlock()
			toolCalls++
			lastToolErr = isErr
		},
		OnComplete: func(e *TurnEvent) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, e)
		},
	}

	engine := NewEngine(provider, registry, log.Nop(), Options{Hooks: hooks})
	if _, err := engine.Turn(context.Background(), TurnRequest{Context: testContext()}); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if llmCalls != 2 || tokensIn != 300 || lastProvider != "mock" {
		t.Errorf("llm hook: calls = %d tokens in = %d provider = %q", llmCalls, tokensIn, lastProvider)
	}
	if toolCalls != 1 || lastToolErr {
		t.Errorf("tool hook: calls = %d err = %v", toolCalls, lastToolErr)
	}
	if len(completed) != 1 || completed[0].Outcome != OutcomeProposal || completed[0].ToolCalls != 1 {
		t.Errorf("complete hook = %+v", completed)
	}
}

func TestTurn_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	registry := tools.NewRegistry(&mockTool{name: "span_tool", output: json.RawMessage(`{"ok":true}`)})
	provider := &mockProvider{responses: []*LLMResponse{
		toolUse("s-1", "span_tool", `{"q":"x"}`),
		textResponse("listo"),
	}}
	engine := NewEngine(provider, registry, log.Nop(), Options{})

	if _, err := engine.Turn(context.Background(), TurnRequest{ConversationID: "conv-span", Context: testContext()}); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	counts := map[string]int{}
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++

		attrs := map[string]any{}
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		switch s.Name {
		case "llm.call":
			if attrs["gen_ai.response.model"] != testModel {
				t.Errorf("llm.call model = %v", attrs["gen_ai.response.model"])
			}
			if attrs["auditoria.conversation.id"] != "conv-span" {
				t.Errorf("llm.call conversation = %v", attrs["auditoria.conversation.id"])
			}
			if attrs["auditoria.message.id"] != int64(123) {
				t.Errorf("llm.call message id = %v", attrs["auditoria.message.id"])
			}
		case "tool.execute":
			if attrs["gen_ai.tool.name"] != "span_tool" || attrs["auditoria.tool.is_error"] != false {
				t.Errorf("tool span attrs = %v", attrs)
			}
			if attrs["auditoria.tool.input"] != `{"q":"x"}` {
				t.Errorf("tool input = %v", attrs["auditoria.tool.input"])
			}
		case "authoring.turn":
			if attrs["auditoria.turn.outcome"] != string(OutcomeReply) {
				t.Errorf("turn outcome = %v", attrs["auditoria.turn.outcome"])
			}
		}
	}
	if counts["llm.call"] != 2 || counts["tool.execute"] != 1 || counts["authoring.turn"] != 1 {
		t.Errorf("span counts = %v", counts)
	}
}

func TestNewEngine_RequiresProvider(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil provider")
		}
	}()
	NewEngine(nil, nil, nil, Options{})
}
