package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

type fakeSearcher struct {
	got     rules.Query
	matches []rules.Match
}

func (f *fakeSearcher) SearchRules(q rules.Query) []rules.Match {
	f.got = q
	return f.matches
}

func TestSearchRules_Execute(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{matches: []rules.Match{{
		Rule: rules.Rule{
			ID:              "r-1",
			Description:     "Problemas técnicos sin hora declarada",
			Pattern:         rules.Pattern{Regex: "PROBLEMAS TECNICOS"},
			SuggestedAction: rules.ActionSuppress,
			Kind:            rules.KindFieldWaiver,
			Scope:           "Roca",
		},
		Score: 3,
	}}}
	tool := NewSearchRules(fs)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"patron":"problemas tecnicos hora","linea":"Roca"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.got.Text != "problemas tecnicos hora" || fs.got.Line != "Roca" {
		t.Errorf("query = %+v", fs.got)
	}

	var parsed struct {
		Rules     []ruleSummary `json:"reglas"`
		Truncated bool          `json:"truncado"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(parsed.Rules) != 1 || parsed.Truncated {
		t.Fatalf("output = %s", out)
	}
	r := parsed.Rules[0]
	if r.ID != "r-1" || r.Kind != "dispensa_campo" || r.Scope != "Roca" || r.Score != 3 {
		t.Errorf("summary = %+v", r)
	}
}

func TestSearchRules_Truncates(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{}
	for i := range maxRuleResults + 3 {
		fs.matches = append(fs.matches, rules.Match{Rule: rules.Rule{ID: fmt.Sprintf("r-%d", i)}, Score: 1})
	}

	out, err := NewSearchRules(fs).Execute(context.Background(), json.RawMessage(`{"patron":"demora"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if parsed["truncado"] != true {
		t.Errorf("truncado = %v, want true", parsed["truncado"])
	}
	if n := len(parsed["reglas"].([]any)); n != maxRuleResults {
		t.Errorf("len = %d, want %d", n, maxRuleResults)
	}
}

func TestSearchRules_BadParams(t *testing.T) {
	t.Parallel()

	tool := NewSearchRules(&fakeSearcher{})
	for _, params := range []string{`not json`, `{}`} {
		if _, err := tool.Execute(context.Background(), json.RawMessage(params)); err == nil {
			t.Errorf("Execute(%s): expected error", params)
		}
	}
}
