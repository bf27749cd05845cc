package rules

import (
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// ConflictType classifies why two rules cannot both be active.
type ConflictType string

const (
	ConflictContradiction ConflictType = "CONTRADICCION"
	ConflictShadow        ConflictType = "SOMBRA_ALCANCE"
	ConflictDuplicate     ConflictType = "DUPLICACION"
)

// Conflict is one detected contradiction between a candidate and an active
// rule. Conflicts are computed on demand and never stored.
type Conflict struct {
	ExistingRuleID string       `json:"regla_existente_id"`
	Type           ConflictType `json:"tipo"`
	Explanation    string       `json:"explicacion"`
}

// Detect returns every conflict between candidate and the active rules. The
// candidate's scope must already be resolved. The rule it extends is skipped.
// An empty result means the candidate is safe to persist.
func Detect(candidate *Rule, active []Rule) []Conflict {
	var out []Conflict
	for i := range active {
		ex := &active[i]
		if !ex.Active || ex.ID == candidate.ID || (candidate.Extends != "" && ex.ID == candidate.Extends) {
			continue
		}
		if !scopesIntersect(candidate, ex) || !patternsOverlap(candidate, ex) {
			continue
		}
		sameScope := strings.EqualFold(strings.TrimSpace(candidate.Scope), strings.TrimSpace(ex.Scope))

		if sameScope && samePattern(candidate.Pattern, ex.Pattern) && candidate.Action == ex.Action {
			out = append(out, Conflict{
				ExistingRuleID: ex.ID,
				Type:           ConflictDuplicate,
				Explanation: fmt.Sprintf("La regla %s (%q) ya aplica la misma acción al mismo patrón en el alcance %s.",
					ex.ID, ex.Description, ex.Scope),
			})
			continue
		}

		why, ok := disagreement(candidate, ex)
		if !ok {
			continue
		}
		c := Conflict{ExistingRuleID: ex.ID, Type: ConflictContradiction}
		if sameScope {
			c.Explanation = fmt.Sprintf("La regla %s (%q) puede aplicar a los mismos mensajes en el alcance %s y %s.",
				ex.ID, ex.Description, ex.Scope, why)
		} else {
			c.Type = ConflictShadow
			c.Explanation = fmt.Sprintf("La regla %s (%q, alcance %s) se superpone con el alcance %s de la nueva regla y %s.",
				ex.ID, ex.Description, ex.Scope, candidate.Scope, why)
		}
		out = append(out, c)
	}
	return out
}

func scopesIntersect(a, b *Rule) bool {
	if a.IsGlobal() || b.IsGlobal() {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(a.Scope), strings.TrimSpace(b.Scope))
}

// patternsOverlap reports whether a single message could satisfy both
// patterns. Without a common example the regexes must be equal or one of
// them absent.
func patternsOverlap(a, b *Rule) bool {
	pa, pb := a.Pattern, b.Pattern
	if pa.MessageType != "" && pb.MessageType != "" && pa.MessageType != pb.MessageType {
		return false
	}
	if pa.Status != "" && pb.Status != "" && classify.Normalize(pa.Status) != classify.Normalize(pb.Status) {
		return false
	}
	if pa.Contingency != "" && pb.Contingency != "" && pa.Contingency != pb.Contingency {
		return false
	}
	if pa.Regex == "" || pb.Regex == "" || pa.Regex == pb.Regex {
		return true
	}
	return regexMatches(pa.Regex, b.Example) || regexMatches(pb.Regex, a.Example)
}

func regexMatches(expr, text string) bool {
	if text == "" {
		return false
	}
	re, err := CompilePattern(expr)
	if err != nil || re == nil {
		return false
	}
	return re.MatchString(text) || re.MatchString(classify.Normalize(text))
}

func samePattern(a, b Pattern) bool {
	return a.Regex == b.Regex &&
		a.MessageType == b.MessageType &&
		classify.Normalize(a.Status) == classify.Normalize(b.Status) &&
		a.Contingency == b.Contingency &&
		a.Finding == b.Finding
}

// target is the set of findings an action touches: one axis (or all when
// empty) and one code (or all when TargetAll).
type target struct {
	axis classify.Axis
	code string
}

func actionTarget(r *Rule) target {
	if r.Action.Effect.requires() {
		return target{axis: targetAxis(r), code: r.Action.Target}
	}
	t := target{code: r.Action.Target}
	if h, ok := handlers[r.Kind]; ok {
		t.axis = h.axis()
	}
	if t.axis == "" && t.code != TargetAll {
		if d, ok := classify.LookupFinding(t.code); ok {
			t.axis = d.Axis
		}
	}
	return t
}

func (t target) intersects(o target) bool {
	if t.axis != "" && o.axis != "" && t.axis != o.axis {
		return false
	}
	return t.code == TargetAll || o.code == TargetAll || t.code == o.code
}

// disagreement explains why the actions of a and b are incompatible.
func disagreement(a, b *Rule) (string, bool) {
	ta, tb := actionTarget(a), actionTarget(b)
	if !ta.intersects(tb) {
		return "", false
	}
	ea, eb := a.Action.Effect, b.Action.Effect
	switch {
	case ea.relaxes() && eb.requires():
		return fmt.Sprintf("la nueva regla %s %s que la existente exige (%s)", verb(ea), describe(ta), eb), true
	case ea.requires() && eb.relaxes():
		return fmt.Sprintf("la nueva regla exige %s que la existente %s", describe(ta), verb(eb)), true
	case ea.relaxes() && eb.relaxes():
		if ea != eb {
			return fmt.Sprintf("una regla suprime y la otra degrada %s", describe(ta)), true
		}
		if ea == EffectDowngrade && a.Action.Bucket != b.Action.Bucket {
			return fmt.Sprintf("degradan %s a niveles distintos (%s y %s)", describe(ta), a.Action.Bucket, b.Action.Bucket), true
		}
	case ea.requires() && eb.requires():
		if ta.code == tb.code && a.Action.Bucket != b.Action.Bucket {
			return fmt.Sprintf("asignan niveles distintos a %s (%s y %s)", describe(ta), a.Action.Bucket, b.Action.Bucket), true
		}
	}
	return "", false
}

func verb(e Effect) string {
	if e == EffectSuppress {
		return "suprime"
	}
	return "degrada"
}

func describe(t target) string {
	switch {
	case t.code == TargetAll && t.axis == "":
		return "todos los hallazgos"
	case t.code == TargetAll:
		return fmt.Sprintf("los hallazgos de %s", t.axis)
	default:
		return fmt.Sprintf("el hallazgo %s", t.code)
	}
}
