package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// maxRuleResults caps what buscar_reglas returns to the collaborator.
const maxRuleResults = 8

// RuleSearcher looks up active rules.
type RuleSearcher interface {
	SearchRules(q rules.Query) []rules.Match
}

// SearchRules lets the collaborator check whether a rule already covers a case.
type SearchRules struct {
	rules RuleSearcher
}

func NewSearchRules(s RuleSearcher) *SearchRules {
	return &SearchRules{rules: s}
}

func (s *SearchRules) Name() string { return "buscar_reglas" }

func (s *SearchRules) Description() string {
	return `Busca reglas personalizadas activas por palabras clave y, opcionalmente, por el inicio de un regex.
Usala antes de proponer una regla nueva para ver si ya existe una que cubra el caso o que convenga ampliar.`
}

func (s *SearchRules) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "patron": {
                "type": "string",
                "description": "Descripcion del patron en palabras (por ejemplo: problemas tecnicos sin hora)"
            },
            "regex": {
                "type": "string",
                "description": "Regex candidato; se comparan sus primeros caracteres con los de las reglas"
            },
            "linea": {
                "type": "string",
                "description": "Limitar a las reglas que aplican a esta linea"
            }
        },
        "required": ["patron"]
    }`)
}

type ruleSummary struct {
	ID      string `json:"id"`
	Pattern string `json:"patron_detectado"`
	Regex   string `json:"regex,omitempty"`
	Action  string `json:"accion_sugerida"`
	Kind    string `json:"tipo_regla"`
	Scope   string `json:"alcance"`
	Score   int    `json:"puntaje"`
}

func (s *SearchRules) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var q rules.Query
	if err := json.Unmarshal(params, &q); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if q.Text == "" && q.Regex == "" {
		return nil, fmt.Errorf("patron is required")
	}

	matches := s.rules.SearchRules(q)
	truncated := len(matches) > maxRuleResults
	if truncated {
		matches = matches[:maxRuleResults]
	}

	out := make([]ruleSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, ruleSummary{
			ID:      m.Rule.ID,
			Pattern: m.Rule.Description,
			Regex:   m.Rule.Pattern.Regex,
			Action:  m.Rule.SuggestedAction,
			Kind:    string(m.Rule.Kind),
			Scope:   m.Rule.Scope,
			Score:   m.Score,
		})
	}

	return json.Marshal(map[string]any{
		"reglas":    out,
		"truncado":  truncated,
		"resultado": len(out),
	})
}
