package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// TestPattern compiles a regex the way rules do and runs it against a text,
// both raw and normalized.
type TestPattern struct{}

func NewTestPattern() *TestPattern { return &TestPattern{} }

func (p *TestPattern) Name() string { return "probar_patron" }

func (p *TestPattern) Description() string {
	return `Prueba un regex contra un texto con la misma semantica que usan las reglas (sin distinguir mayusculas,
sobre el texto original y sobre el texto normalizado sin acentos). Devuelve si coincide y el fragmento encontrado.`
}

func (p *TestPattern) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "regex": {
                "type": "string",
                "description": "Expresion regular (sintaxis RE2)"
            },
            "texto": {
                "type": "string",
                "description": "Texto del mensaje contra el que se prueba"
            }
        },
        "required": ["regex", "texto"]
    }`)
}

type patternResult struct {
	Valid      bool   `json:"valido"`
	Error      string `json:"error,omitempty"`
	Matches    bool   `json:"coincide"`
	Fragment   string `json:"fragmento,omitempty"`
	Normalized bool   `json:"coincide_normalizado"`
}

func (p *TestPattern) Execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Regex string `json:"regex"`
		Text  string `json:"texto"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Regex == "" {
		return nil, fmt.Errorf("regex is required")
	}

	// a bad regex is an answer, not a tool failure
	re, err := rules.CompilePattern(input.Regex)
	if err != nil {
		return json.Marshal(patternResult{Error: err.Error()})
	}

	res := patternResult{Valid: true}
	if loc := re.FindStringIndex(input.Text); loc != nil {
		res.Matches = true
		res.Fragment = input.Text[loc[0]:loc[1]]
	}
	res.Normalized = re.MatchString(classify.Normalize(input.Text))
	return json.Marshal(res)
}
