package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// Proposal verbs accepted in accion_sugerida.
const (
	ActionApprove          = "aprobar_sin_obs"
	ActionApproveWithNotes = "aprobar_con_obs"
	ActionReject           = "rechazar"
	ActionSuppress         = "suprimir"
	ActionDowngrade        = "degradar"
	ActionAdd              = "agregar"
	ActionEscalate         = "escalar"
)

var knownActions = map[string]bool{
	ActionApprove:          true,
	ActionApproveWithNotes: true,
	ActionReject:           true,
	ActionSuppress:         true,
	ActionDowngrade:        true,
	ActionAdd:              true,
	ActionEscalate:         true,
}

// rejectFinding is the code used when a rejection names no finding.
const rejectFinding = "rechazo_regla"

// Proposal is a finished rule proposal produced by an authoring turn.
type Proposal struct {
	PatternDetected string               `json:"patron_detectado"`
	Regex           string               `json:"regex_sugerido,omitempty"`
	Action          string               `json:"accion_sugerida"`
	Polarity        string               `json:"tipo,omitempty"`
	Extends         string               `json:"ampliar_regla_id,omitempty"`
	Kind            Kind                 `json:"tipo_regla,omitempty"`
	Finding         string               `json:"hallazgo,omitempty"`
	Bucket          classify.Bucket      `json:"nivel,omitempty"`
	Text            string               `json:"texto,omitempty"`
	MessageType     classify.MessageType `json:"tipo_mensaje,omitempty"`
	Contingency     string               `json:"contingencia,omitempty"`
	Status          string               `json:"estado,omitempty"`
	Ready           bool                 `json:"lista_para_crear"`
}

// Validate checks that the proposal can become a rule.
func (p Proposal) Validate() error {
	var errs []error
	if strings.TrimSpace(p.PatternDetected) == "" {
		errs = append(errs, errors.New("patron_detectado is empty"))
	}
	switch {
	case strings.TrimSpace(p.Action) == "":
		errs = append(errs, errors.New("accion_sugerida is empty"))
	case !knownActions[p.Action]:
		errs = append(errs, fmt.Errorf("unknown accion_sugerida %q", p.Action))
	}
	if _, err := CompilePattern(p.Regex); err != nil {
		errs = append(errs, fmt.Errorf("regex_sugerido does not compile: %w", err))
	}
	if p.Regex == "" && p.MessageType == "" && p.Contingency == "" && p.Status == "" && p.Finding == "" {
		errs = append(errs, errors.New("the proposal has nothing to match on"))
	}
	return errors.Join(errs...)
}

// Rule maps the proposal onto a rule. Scope, provenance, id and timestamps
// are left for the caller.
func (p Proposal) Rule() (Rule, error) {
	if err := p.Validate(); err != nil {
		return Rule{}, err
	}
	r := Rule{
		Description:     strings.TrimSpace(p.PatternDetected),
		SuggestedAction: p.Action,
		Polarity:        p.Polarity,
		Extends:         p.Extends,
		Active:          true,
		Pattern: Pattern{
			Regex:       p.Regex,
			MessageType: p.MessageType,
			Status:      p.Status,
			Contingency: p.Contingency,
		},
	}

	switch p.Action {
	case ActionApprove:
		r.Kind = KindApproval
		r.Action = Action{Effect: EffectSuppress, Target: TargetAll}
		r.Pattern.Finding = p.Finding
	case ActionApproveWithNotes:
		r.Kind = KindApproval
		r.Action = Action{Effect: EffectDowngrade, Target: TargetAll, Bucket: classify.BucketObservations}
		r.Pattern.Finding = p.Finding
	case ActionSuppress, ActionDowngrade:
		kind, err := p.relaxKind()
		if err != nil {
			return Rule{}, err
		}
		r.Kind = kind
		r.Action = Action{Effect: EffectSuppress, Target: p.Finding}
		if p.Action == ActionDowngrade {
			r.Action.Effect = EffectDowngrade
			r.Action.Bucket = p.Bucket
			if r.Action.Bucket == "" {
				r.Action.Bucket = classify.BucketSuggestions
			}
		}
		if p.Finding != TargetAll {
			r.Pattern.Finding = p.Finding
		}
	case ActionReject, ActionEscalate, ActionAdd:
		r.Kind = KindEscalation
		r.Action = Action{
			Effect: EffectEscalate,
			Target: p.Finding,
			Bucket: p.Bucket,
			Text:   strings.TrimSpace(p.Text),
		}
		if p.Action == ActionAdd {
			r.Action.Effect = EffectAdd
		}
		if r.Action.Target == "" {
			r.Action.Target = rejectFinding
		}
		if r.Action.Bucket == "" {
			r.Action.Bucket = classify.BucketImportant
			if p.Action == ActionAdd {
				r.Action.Bucket = classify.BucketObservations
			}
		}
		if r.Action.Text == "" {
			r.Action.Text = r.Description
		}
	}

	if r.Polarity == "" {
		r.Polarity = FalsePositive
		if r.Action.Effect.requires() {
			r.Polarity = FalseNegative
		}
	}
	return r, nil
}

// relaxKind picks the rule kind for a suppress or downgrade proposal, from
// tipo_regla or else from the axis of the targeted finding.
func (p Proposal) relaxKind() (Kind, error) {
	if p.Kind != "" {
		if _, ok := handlers[p.Kind]; !ok {
			return "", fmt.Errorf("unknown tipo_regla %q", p.Kind)
		}
		return p.Kind, nil
	}
	d, ok := classify.LookupFinding(p.Finding)
	if !ok {
		return "", fmt.Errorf("%s needs a known hallazgo or a tipo_regla", p.Action)
	}
	switch d.Axis {
	case classify.AxisTiming:
		return KindTimingException, nil
	case classify.AxisStructure:
		return KindAcceptedWording, nil
	default:
		return KindFieldWaiver, nil
	}
}
