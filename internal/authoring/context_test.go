package authoring

import (
	"strings"
	"testing"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

func TestContextFor(t *testing.T) {
	t.Parallel()

	m := &audit.Message{
		ID:               7,
		Content:          "SERVICIO LIMITADO",
		Line:             "Sarmiento",
		State:            audit.StateEscalated,
		EscalatedBy:      "beto",
		ValidatorComment: "esto está bien",
	}
	m.Level = classify.LevelImportant
	m.Classification = classify.Classification{Important: []string{"Falta motivo de la contingencia"}}

	active := []rules.Rule{
		{ID: "g", Description: "global", Scope: rules.ScopeGlobal, Active: true, SuggestedAction: rules.ActionApprove},
		{ID: "s", Description: "sarmiento", Scope: "sarmiento", Active: true, Polarity: rules.FalseNegative},
		{ID: "r", Description: "roca", Scope: "Roca", Active: true},
		{ID: "off", Description: "inactiva", Scope: rules.ScopeGlobal},
	}

	mc := ContextFor(m, active)
	if mc.MessageID != 7 || mc.EscalatedBy != "beto" || mc.Level != classify.LevelImportant {
		t.Errorf("context = %+v", mc)
	}
	if len(mc.Rules) != 2 || mc.Rules[0].ID != "g" || mc.Rules[1].ID != "s" {
		t.Fatalf("rules = %+v", mc.Rules)
	}
	if mc.Rules[0].Polarity != rules.FalsePositive || mc.Rules[1].Polarity != rules.FalseNegative {
		t.Errorf("polarity = %q, %q", mc.Rules[0].Polarity, mc.Rules[1].Polarity)
	}

	system := buildSystemPrompt(mc)
	for _, want := range []string{`"id": "g"`, "Sarmiento (2)", "falta_hora", "buscar_reglas"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}
