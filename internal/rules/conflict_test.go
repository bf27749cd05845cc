package rules

import (
	"strings"
	"testing"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	escalation := func(id, scope string) Rule {
		return Rule{
			ID: id, Description: "Exigir hora en problemas técnicos", Kind: KindEscalation,
			Pattern: Pattern{Contingency: "03"},
			Action:  Action{Effect: EffectEscalate, Target: "falta_hora", Bucket: classify.BucketImportant, Text: "Falta hora"},
			Scope:   scope, Active: true, CreatedAt: t0,
		}
	}

	tests := []struct {
		name      string
		candidate Rule
		active    []Rule
		want      []ConflictType
	}{
		{
			name:      "no active rules",
			candidate: timeWaiver("new", "ROCA"),
			want:      nil,
		},
		{
			name:      "waiver against escalation in the same line",
			candidate: timeWaiver("new", "ROCA"),
			active:    []Rule{escalation("old", "ROCA")},
			want:      []ConflictType{ConflictContradiction},
		},
		{
			name:      "line waiver against global escalation",
			candidate: timeWaiver("new", "ROCA"),
			active:    []Rule{escalation("old", ScopeGlobal)},
			want:      []ConflictType{ConflictShadow},
		},
		{
			name:      "disjoint lines",
			candidate: timeWaiver("new", "ROCA"),
			active:    []Rule{escalation("old", "MITRE")},
			want:      nil,
		},
		{
			name:      "duplicate",
			candidate: timeWaiver("new", "ROCA"),
			active:    []Rule{timeWaiver("old", "ROCA")},
			want:      []ConflictType{ConflictDuplicate},
		},
		{
			name:      "extended rule is skipped",
			candidate: func() Rule { r := timeWaiver("new", "ROCA"); r.Extends = "old"; return r }(),
			active:    []Rule{escalation("old", "ROCA")},
			want:      nil,
		},
		{
			name:      "different contingency never overlaps",
			candidate: timeWaiver("new", "ROCA"),
			active: []Rule{func() Rule {
				r := escalation("old", "ROCA")
				r.Pattern.Contingency = "08"
				return r
			}()},
			want: nil,
		},
		{
			name:      "different target findings",
			candidate: timeWaiver("new", "ROCA"),
			active: []Rule{func() Rule {
				r := escalation("old", "ROCA")
				r.Action.Target = "falta_recorrido"
				return r
			}()},
			want: nil,
		},
		{
			name:      "suppress against downgrade of the same finding",
			candidate: timeWaiver("new", "ROCA"),
			active: []Rule{func() Rule {
				r := timeWaiver("old", "ROCA")
				r.Action = Action{Effect: EffectDowngrade, Target: "falta_hora", Bucket: classify.BucketObservations}
				return r
			}()},
			want: []ConflictType{ConflictContradiction},
		},
		{
			name: "different regexes without a shared example",
			candidate: func() Rule {
				r := timeWaiver("new", "ROCA")
				r.Pattern.Regex = "PIQUETE"
				r.Example = "PIQUETE EN VIAS"
				return r
			}(),
			active: []Rule{func() Rule {
				r := escalation("old", "ROCA")
				r.Pattern.Regex = "ARROLLAMIENTO"
				r.Example = "ARROLLAMIENTO EN KM 12"
				return r
			}()},
			want: nil,
		},
		{
			name: "regex matches the other rule's example",
			candidate: func() Rule {
				r := timeWaiver("new", "ROCA")
				r.Pattern.Regex = `TREN \d+`
				return r
			}(),
			active: []Rule{func() Rule {
				r := escalation("old", "ROCA")
				r.Pattern.Regex = "CONSTITUCION"
				r.Example = missingTime
				return r
			}()},
			want: []ConflictType{ConflictContradiction},
		},
		{
			name:      "inactive rules are ignored",
			candidate: timeWaiver("new", "ROCA"),
			active:    []Rule{func() Rule { r := escalation("old", "ROCA"); r.Active = false; return r }()},
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Detect(&tt.candidate, tt.active)
			if len(got) != len(tt.want) {
				t.Fatalf("Detect = %+v, want types %v", got, tt.want)
			}
			for i, c := range got {
				if c.Type != tt.want[i] {
					t.Errorf("conflict %d type = %q, want %q", i, c.Type, tt.want[i])
				}
				if c.ExistingRuleID != "old" {
					t.Errorf("conflict %d rule = %q, want old", i, c.ExistingRuleID)
				}
				if !strings.Contains(c.Explanation, "old") {
					t.Errorf("explanation %q does not name the rule", c.Explanation)
				}
			}
		})
	}
}

func TestProposal_Rule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		proposal Proposal
		kind     Kind
		action   Action
		polarity string
		wantErr  string
	}{
		{
			name:     "suppress time waiver",
			proposal: Proposal{PatternDetected: "Sin hora en técnicos", Action: ActionSuppress, Finding: "falta_hora", Contingency: "03"},
			kind:     KindFieldWaiver,
			action:   Action{Effect: EffectSuppress, Target: "falta_hora"},
			polarity: FalsePositive,
		},
		{
			name:     "downgrade timing",
			proposal: Proposal{PatternDetected: "Tardanza aceptada", Action: ActionDowngrade, Finding: "notificacion_tardia", Regex: "PIQUETE"},
			kind:     KindTimingException,
			action:   Action{Effect: EffectDowngrade, Target: "notificacion_tardia", Bucket: classify.BucketSuggestions},
			polarity: FalsePositive,
		},
		{
			name:     "approve with notes",
			proposal: Proposal{PatternDetected: "Formato viejo válido", Action: ActionApproveWithNotes, Regex: "RAMAL"},
			kind:     KindApproval,
			action:   Action{Effect: EffectDowngrade, Target: TargetAll, Bucket: classify.BucketObservations},
			polarity: FalsePositive,
		},
		{
			name:     "reject",
			proposal: Proposal{PatternDetected: "Falta andén", Action: ActionReject, Regex: "ANDEN"},
			kind:     KindEscalation,
			action:   Action{Effect: EffectEscalate, Target: rejectFinding, Bucket: classify.BucketImportant, Text: "Falta andén"},
			polarity: FalseNegative,
		},
		{
			name:     "add",
			proposal: Proposal{PatternDetected: "Mencionar andén", Action: ActionAdd, Finding: "falta_anden", Regex: "ANDEN", Text: "Indicar andén"},
			kind:     KindEscalation,
			action:   Action{Effect: EffectAdd, Target: "falta_anden", Bucket: classify.BucketObservations, Text: "Indicar andén"},
			polarity: FalseNegative,
		},
		{
			name:     "empty pattern",
			proposal: Proposal{Action: ActionSuppress, Finding: "falta_hora"},
			wantErr:  "patron_detectado",
		},
		{
			name:     "empty action",
			proposal: Proposal{PatternDetected: "x", Regex: "X"},
			wantErr:  "accion_sugerida is empty",
		},
		{
			name:     "unknown action",
			proposal: Proposal{PatternDetected: "x", Action: "borrar", Regex: "X"},
			wantErr:  "unknown accion_sugerida",
		},
		{
			name:     "nothing to match",
			proposal: Proposal{PatternDetected: "x", Action: ActionApprove},
			wantErr:  "nothing to match",
		},
		{
			name:     "suppress without finding",
			proposal: Proposal{PatternDetected: "x", Action: ActionSuppress, Regex: "X"},
			wantErr:  "needs a known hallazgo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := tt.proposal.Rule()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Rule() err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Rule(): %v", err)
			}
			if r.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", r.Kind, tt.kind)
			}
			if r.Action != tt.action {
				t.Errorf("Action = %+v, want %+v", r.Action, tt.action)
			}
			if r.Polarity != tt.polarity {
				t.Errorf("Polarity = %q, want %q", r.Polarity, tt.polarity)
			}
			r.Scope = "ROCA"
			if err := r.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	piquete := Rule{ID: "a", Description: "Manifestación piquete sin código", Pattern: Pattern{Regex: "PIQUETE|MANIFESTACION"}, Scope: ScopeGlobal, Active: true}
	hora := timeWaiver("b", "ROCA")
	off := Rule{ID: "c", Description: "Manifestación piquete vieja", Scope: ScopeGlobal}

	rules := []Rule{hora, piquete, off}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"two keywords", Query{Text: "piquete de manifestación en vías"}, []string{"a"}},
		{"single keyword", Query{Text: "técnicos"}, []string{"b"}},
		{"short words ignored", Query{Text: "de la en"}, nil},
		{"regex prefix", Query{Text: "otra cosa", Regex: "PIQUETE|MANIFESTACION|CORTE"}, []string{"a"}},
		{"line filter", Query{Text: "técnicos", Line: "MITRE"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			for _, m := range Search(rules, tt.q) {
				got = append(got, m.Rule.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Search = %v, want %v", got, tt.want)
			}
		})
	}
}
