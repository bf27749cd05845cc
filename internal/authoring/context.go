package authoring

import (
	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// Entry is one line of the explicit transcript kept by the caller.
type Entry struct {
	Role string `json:"rol"`
	Text string `json:"contenido"`
}

// RuleSummary is the compact view of an active rule given to the collaborator.
type RuleSummary struct {
	ID       string `json:"id"`
	Pattern  string `json:"patron"`
	Regex    string `json:"regex,omitempty"`
	Action   string `json:"accion"`
	Polarity string `json:"tipo"`
	Kind     string `json:"tipo_regla"`
	Scope    string `json:"linea"`
}

// MessageContext is what the collaborator knows about the escalated message.
type MessageContext struct {
	MessageID        int64                   `json:"id"`
	Content          string                  `json:"contenido"`
	Line             string                  `json:"linea"`
	Type             classify.MessageType    `json:"tipo_mensaje"`
	EscalatedBy      string                  `json:"derivado_por"`
	ValidatorComment string                  `json:"comentario_validador"`
	Level            classify.Level          `json:"nivel_general"`
	Classification   classify.Classification `json:"clasificacion"`
	Findings         []classify.Finding      `json:"hallazgos"`
	Rules            []RuleSummary           `json:"reglas"`
}

// ContextFor builds the turn context from a message and the active rules.
// Rules that cannot apply to the message's line are left out.
func ContextFor(m *audit.Message, active []rules.Rule) MessageContext {
	mc := MessageContext{
		MessageID:        m.ID,
		Content:          m.Content,
		Line:             m.Line,
		Type:             m.Type,
		EscalatedBy:      m.EscalatedBy,
		ValidatorComment: m.ValidatorComment,
		Level:            m.Level,
		Classification:   m.Classification,
		Findings:         m.Findings,
	}
	for i := range active {
		r := &active[i]
		if !r.Active || !r.AppliesToLine(m.Line) {
			continue
		}
		polarity := r.Polarity
		if polarity == "" {
			polarity = rules.FalsePositive
		}
		mc.Rules = append(mc.Rules, RuleSummary{
			ID:       r.ID,
			Pattern:  r.Description,
			Regex:    r.Pattern.Regex,
			Action:   r.SuggestedAction,
			Polarity: polarity,
			Kind:     string(r.Kind),
			Scope:    r.Scope,
		})
	}
	return mc
}
