package authoring

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/tools"
)

const (
	MaxToolRounds  = 6
	MaxTokens      = 60000
	ResponseTokens = 2000

	// maxSpanPayload truncates tool input recorded on spans.
	maxSpanPayload = 1024
)

var tracer = otel.Tracer("github.com/szlapakariel-ux/auditoria-sofse/internal/authoring")

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeReply    Outcome = "reply"
	OutcomeProposal Outcome = "proposal"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// TurnEvent summarizes a finished turn for hooks.
type TurnEvent struct {
	Outcome   Outcome
	Provider  string
	Duration  float64
	TokensIn  int
	TokensOut int
	ToolCalls int
}

// EngineHooks are optional callbacks for instrumentation. Nil fields are skipped.
type EngineHooks struct {
	OnLLMCall  func(provider string, inputTokens, outputTokens int, duration float64)
	OnToolCall func(name string, duration float64, inputBytes, outputBytes int, isError bool)
	OnComplete func(e *TurnEvent)
}

// Options tunes an Engine. Zero values pick the defaults.
type Options struct {
	// Rate and Burst limit calls to the provider across all turns. A zero
	// Rate disables limiting.
	Rate  rate.Limit
	Burst int

	MaxToolRounds int
	Hooks         EngineHooks
}

// TurnRequest is one authoring turn as sent by the client.
type TurnRequest struct {
	ConversationID string         `json:"conversacion_id,omitempty"`
	Transcript     []Entry        `json:"historial"`
	Utterance      string         `json:"mensaje_actual,omitempty"`
	Context        MessageContext `json:"-"`
}

// Turn is the result of a successful turn.
type Turn struct {
	ConversationID string          `json:"conversacion_id"`
	Reply          string          `json:"respuesta"`
	Proposal       *rules.Proposal `json:"regla_lista,omitempty"`
	Transcript     []Entry         `json:"historial"`
	Provider       string          `json:"proveedor,omitempty"`
	Model          string          `json:"modelo,omitempty"`
	ToolCalls      int             `json:"llamadas_herramientas"`
	TokensUsed     int             `json:"tokens"`
}

// Engine runs authoring turns against a provider and a tool registry.
type Engine struct {
	provider  Provider
	registry  *tools.Registry
	logger    log.Logger
	limiter   *rate.Limiter
	maxRounds int
	hooks     EngineHooks
}

// NewEngine creates an authoring engine.
func NewEngine(provider Provider, registry *tools.Registry, logger log.Logger, opts Options) *Engine {
	if provider == nil {
		panic(xerrors.New("authoring: provider is required"))
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if logger == nil {
		logger = log.Nop()
	}
	limit, burst := opts.Rate, opts.Burst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	rounds := opts.MaxToolRounds
	if rounds <= 0 {
		rounds = MaxToolRounds
	}
	return &Engine{
		provider:  provider,
		registry:  registry,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, burst),
		maxRounds: rounds,
		hooks:     opts.Hooks,
	}
}

// Turn runs one authoring turn. On any error the caller's transcript is to
// be kept as it was; a *CollaboratorError is recoverable.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := checkTranscript(req); err != nil {
		return nil, err
	}

	start := time.Now()
	id := req.ConversationID
	if id == "" {
		id = ulid.Make().String()
	}

	L := e.logger.With(
		"conversation_id", id,
		"message_id", req.Context.MessageID,
		"linea", req.Context.Line,
	)

	ctx, span := tracer.Start(ctx, "authoring.turn", trace.WithAttributes(
		attribute.String("auditoria.conversation.id", id),
		attribute.Int64("auditoria.message.id", req.Context.MessageID),
		attribute.Int("auditoria.transcript.len", len(req.Transcript)),
	))
	defer span.End()

	ev := &TurnEvent{Outcome: OutcomeFailed}
	defer func() {
		ev.Duration = time.Since(start).Seconds()
		span.SetAttributes(attribute.String("auditoria.turn.outcome", string(ev.Outcome)))
		if e.hooks.OnComplete != nil {
			e.hooks.OnComplete(ev)
		}
	}()

	system := buildSystemPrompt(req.Context)
	messages := buildMessages(req)
	defs := e.registry.ToToolDefs()

	var (
		last      *LLMResponse
		seq       int
		toolCalls int
	)
	for {
		if toolCalls >= e.maxRounds {
			L.Warn(ctx, "authoring turn hit tool call limit", "limit", e.maxRounds)
			ev.Outcome = OutcomeRejected
			return nil, &CollaboratorError{Reason: "tool call budget exhausted"}
		}
		if ev.TokensIn+ev.TokensOut >= MaxTokens {
			L.Warn(ctx, "authoring turn hit token limit", "limit", MaxTokens)
			ev.Outcome = OutcomeRejected
			return nil, &CollaboratorError{Reason: "token budget exhausted"}
		}

		seq++
		resp, err := e.call(ctx, id, req.Context.MessageID, seq, &LLMRequest{
			MaxTokens: ResponseTokens,
			System:    system,
			Messages:  messages,
			Tools:     defs,
		})
		if err != nil {
			L.Error(ctx, err, "collaborator call failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "collaborator call failed")
			return nil, &CollaboratorError{ConnectionFailed: true, Reason: "connection failed", Err: err}
		}
		last = resp
		ev.Provider = resp.Provider
		ev.TokensIn += resp.Usage.InputTokens
		ev.TokensOut += resp.Usage.OutputTokens

		L.Info(ctx, "collaborator response",
			"provider", resp.Provider,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})

		if resp.StopReason != StopToolUse {
			break
		}

		var results []ContentBlock
		for _, block := range resp.Content {
			if block.Type != BlockToolUse {
				continue
			}
			toolCalls++
			ev.ToolCalls = toolCalls
			results = append(results, e.runTool(ctx, L, id, block))
		}
		if len(results) == 0 {
			break
		}
		messages = append(messages, Message{Role: RoleUser, Content: results})
	}

	text := last.Text()
	reply, proposal, err := parseReply(text)
	if err != nil {
		L.Warn(ctx, "collaborator proposal rejected", "err", err)
		ev.Outcome = OutcomeRejected
		return nil, &CollaboratorError{Reason: "invalid proposal", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		ev.Outcome = OutcomeRejected
		return nil, &CollaboratorError{Reason: "empty reply"}
	}

	transcript := slices.Clone(req.Transcript)
	if u := strings.TrimSpace(req.Utterance); u != "" {
		transcript = append(transcript, Entry{Role: RoleUser, Text: u})
	}
	transcript = append(transcript, Entry{Role: RoleAssistant, Text: strings.TrimSpace(text)})

	ev.Outcome = OutcomeReply
	if proposal != nil {
		ev.Outcome = OutcomeProposal
	}
	L.Info(ctx, "authoring turn complete",
		"outcome", ev.Outcome,
		"tool_calls", toolCalls,
		"tokens", ev.TokensIn+ev.TokensOut,
		"duration", time.Since(start).Seconds(),
	)

	return &Turn{
		ConversationID: id,
		Reply:          reply,
		Proposal:       proposal,
		Transcript:     transcript,
		Provider:       last.Provider,
		Model:          last.Model,
		ToolCalls:      toolCalls,
		TokensUsed:     ev.TokensIn + ev.TokensOut,
	}, nil
}

// call waits for the rate limiter and sends one request inside an llm.call span.
func (e *Engine) call(ctx context.Context, convID string, msgID int64, seq int, req *LLMRequest) (*LLMResponse, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("auditoria.conversation.id", convID),
		attribute.Int64("auditoria.message.id", msgID),
		attribute.Int("auditoria.chat.seq", seq),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.tools", len(req.Tools)),
	))

	start := time.Now()
	resp, err := e.provider.Send(ctx, req)
	dur := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider error")
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = e.provider.Name()
	}

	span.SetAttributes(
		attribute.String("gen_ai.system", resp.Provider),
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
		attribute.Int("llm.response.blocks", len(resp.Content)),
	))

	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(resp.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens, dur)
	}
	return resp, nil
}

// runTool executes one tool_use block and returns its tool_result block.
// Unknown tools and tool errors are reported back to the collaborator.
func (e *Engine) runTool(ctx context.Context, L log.Logger, convID string, block ContentBlock) ContentBlock {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", block.Name),
		attribute.String("auditoria.conversation.id", convID),
		attribute.String("auditoria.tool.input", truncate(string(block.Input), maxSpanPayload)),
	))
	defer span.End()
	span.AddEvent("tool.request")

	L.Info(ctx, "executing tool", "tool", block.Name)

	result := ContentBlock{Type: BlockToolResult, ToolUseID: block.ID}
	start := time.Now()

	tool, ok := e.registry.Get(block.Name)
	if !ok {
		result.Content = fmt.Sprintf("unknown tool: %s", block.Name)
		result.IsError = true
	} else if out, err := tool.Execute(ctx, block.Input); err != nil {
		L.Error(ctx, err, "tool execution failed", "tool", block.Name)
		result.Content = fmt.Sprintf("tool error: %v", err)
		result.IsError = true
	} else {
		result.Content = string(out)
	}

	dur := time.Since(start).Seconds()
	span.SetAttributes(attribute.Bool("auditoria.tool.is_error", result.IsError))
	span.AddEvent("tool.result", trace.WithAttributes(attribute.Int("tool.result.bytes", len(result.Content))))
	if result.IsError {
		span.SetStatus(codes.Error, result.Content)
	}
	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(block.Name, dur, len(block.Input), len(result.Content), result.IsError)
	}
	return result
}

// checkTranscript rejects turns that would not alternate roles properly.
func checkTranscript(req TurnRequest) error {
	for i, en := range req.Transcript {
		if en.Role != RoleUser && en.Role != RoleAssistant {
			return &InvalidTurnError{Reason: fmt.Sprintf("entry %d has unknown role %q", i, en.Role)}
		}
	}
	if len(req.Transcript) > 0 && strings.TrimSpace(req.Utterance) == "" {
		return &InvalidTurnError{Reason: "mensaje_actual is required to continue a conversation"}
	}
	return nil
}

// buildMessages lays out the conversation: the message context first, then
// the transcript, then the new utterance. Consecutive entries of the same
// role are merged so roles alternate.
func buildMessages(req TurnRequest) []Message {
	var msgs []Message
	add := func(role, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, ContentBlock{Type: BlockText, Text: text})
			return
		}
		msgs = append(msgs, Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}})
	}

	add(RoleUser, buildInitialPrompt(req.Context))
	for _, en := range req.Transcript {
		add(en.Role, en.Text)
	}
	add(RoleUser, req.Utterance)
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
