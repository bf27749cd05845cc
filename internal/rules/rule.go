// Package rules holds acceptance rules: their data model, the handler for
// each rule kind, the versioned snapshot used for classification and the
// conflict detector that gates new rules.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// ScopeGlobal applies a rule to every line.
const ScopeGlobal = "global"

// TargetAll matches every finding the rule kind is allowed to touch.
const TargetAll = "*"

// Kind is the closed set of rule kinds. Each kind has exactly one handler.
type Kind string

const (
	KindFieldWaiver     Kind = "dispensa_campo"
	KindTimingException Kind = "excepcion_timing"
	KindAcceptedWording Kind = "redaccion_aceptada"
	KindApproval        Kind = "aprobacion"
	KindEscalation      Kind = "escalamiento"
)

// Effect is what a rule does to the findings of a matching message.
type Effect string

const (
	EffectSuppress  Effect = "suprimir"
	EffectDowngrade Effect = "degradar"
	EffectAdd       Effect = "agregar"
	EffectEscalate  Effect = "escalar"
)

func (e Effect) relaxes() bool  { return e == EffectSuppress || e == EffectDowngrade }
func (e Effect) requires() bool { return e == EffectAdd || e == EffectEscalate }

// Polarity records which way the original classification was wrong.
const (
	FalsePositive = "FALSO_POSITIVO"
	FalseNegative = "FALSO_NEGATIVO"
)

// Pattern is the predicate a message must satisfy for a rule to apply. Every
// non-empty field must hold.
type Pattern struct {
	Regex       string               `json:"regex,omitempty"`
	MessageType classify.MessageType `json:"tipo_mensaje,omitempty"`
	Status      string               `json:"estado,omitempty"`
	Contingency string               `json:"contingencia,omitempty"`
	Finding     string               `json:"hallazgo,omitempty"`
}

// Empty reports whether no predicate is set.
func (p Pattern) Empty() bool {
	return p.Regex == "" && p.MessageType == "" && p.Status == "" && p.Contingency == "" && p.Finding == ""
}

// Action is the effect applied when the pattern matches.
type Action struct {
	Effect Effect          `json:"efecto"`
	Target string          `json:"objetivo"`
	Bucket classify.Bucket `json:"nivel,omitempty"`
	Axis   classify.Axis   `json:"eje,omitempty"`
	Text   string          `json:"texto,omitempty"`
}

// Rule is a persisted acceptance rule.
type Rule struct {
	ID              string    `json:"id"`
	Description     string    `json:"patron_detectado"`
	Pattern         Pattern   `json:"patron"`
	Kind            Kind      `json:"tipo_regla"`
	Action          Action    `json:"accion"`
	SuggestedAction string    `json:"accion_sugerida"`
	Polarity        string    `json:"tipo,omitempty"`
	Scope           string    `json:"alcance"`
	SourceMessage   int64     `json:"mensaje_origen,omitempty"`
	Example         string    `json:"ejemplo,omitempty"`
	CreatedBy       string    `json:"creada_por"`
	Extends         string    `json:"ampliar_regla_id,omitempty"`
	Active          bool      `json:"activa"`
	Forced          bool      `json:"forzada"`
	CreatedAt       time.Time `json:"creada_en"`
}

// IsGlobal reports whether the rule applies to every line.
func (r *Rule) IsGlobal() bool { return strings.EqualFold(r.Scope, ScopeGlobal) }

// AppliesToLine reports whether the rule's scope covers line.
func (r *Rule) AppliesToLine(line string) bool {
	return r.IsGlobal() || strings.EqualFold(strings.TrimSpace(r.Scope), strings.TrimSpace(line))
}

// ResolveScope returns the scope of a new rule: global when it extends a
// global rule, otherwise the originating message's line.
func ResolveScope(extended *Rule, line string) string {
	if extended != nil && extended.IsGlobal() {
		return ScopeGlobal
	}
	return line
}

// MergeExtension folds the extended rule's regex into r as an alternation.
func (r *Rule) MergeExtension(extended *Rule) {
	if extended == nil {
		return
	}
	old, cur := extended.Pattern.Regex, r.Pattern.Regex
	switch {
	case old == "" || old == cur:
	case cur == "":
		r.Pattern.Regex = old
	default:
		r.Pattern.Regex = "(?:" + old + ")|(?:" + cur + ")"
	}
	if r.Example == "" {
		r.Example = extended.Example
	}
}

// CompilePattern compiles a rule regex, case-insensitive.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + expr)
}

// Validate checks the rule against its kind's handler.
func (r *Rule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Description) == "" {
		errs = append(errs, errors.New("patron_detectado is required"))
	}
	if strings.TrimSpace(r.Scope) == "" {
		errs = append(errs, errors.New("alcance is required"))
	}
	if r.Pattern.Empty() {
		errs = append(errs, errors.New("the pattern needs at least one predicate"))
	}
	if _, err := CompilePattern(r.Pattern.Regex); err != nil {
		errs = append(errs, fmt.Errorf("invalid regex: %w", err))
	}
	if r.Pattern.Finding != "" {
		if _, ok := classify.LookupFinding(r.Pattern.Finding); !ok {
			errs = append(errs, fmt.Errorf("unknown finding %q", r.Pattern.Finding))
		}
	}
	h, ok := handlers[r.Kind]
	if !ok {
		errs = append(errs, fmt.Errorf("unknown rule kind %q", r.Kind))
	} else if err := h.validate(r); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
