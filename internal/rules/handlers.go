package rules

import (
	"fmt"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// handler owns one rule kind: which actions it accepts and how they change a
// classification.
type handler interface {
	validate(r *Rule) error
	apply(r *Rule, res *classify.Result)
	// axis is the axis the kind may touch, "" for every axis.
	axis() classify.Axis
}

var handlers = map[Kind]handler{
	KindFieldWaiver:     relaxHandler{ax: classify.AxisComponents},
	KindTimingException: relaxHandler{ax: classify.AxisTiming},
	KindAcceptedWording: relaxHandler{ax: classify.AxisStructure},
	KindApproval:        approvalHandler{},
	KindEscalation:      escalationHandler{},
}

// relaxHandler suppresses or downgrades findings of a single axis.
type relaxHandler struct {
	ax classify.Axis
}

func (h relaxHandler) axis() classify.Axis { return h.ax }

func (h relaxHandler) validate(r *Rule) error {
	if !r.Action.Effect.relaxes() {
		return fmt.Errorf("%s only accepts %s or %s, got %q", r.Kind, EffectSuppress, EffectDowngrade, r.Action.Effect)
	}
	if r.Action.Target == "" {
		return fmt.Errorf("%s needs a target finding", r.Kind)
	}
	if r.Action.Target != TargetAll {
		d, ok := classify.LookupFinding(r.Action.Target)
		if !ok {
			return fmt.Errorf("unknown target finding %q", r.Action.Target)
		}
		if d.Axis != h.ax {
			return fmt.Errorf("%s cannot touch %s findings (%s)", r.Kind, d.Axis, r.Action.Target)
		}
	}
	if r.Action.Effect == EffectDowngrade && !r.Action.Bucket.Valid() {
		return fmt.Errorf("%s needs a target level", EffectDowngrade)
	}
	return nil
}

func (h relaxHandler) apply(r *Rule, res *classify.Result) {
	relax(r, res, h.ax)
}

// approvalHandler accepts the whole message, with or without observations.
type approvalHandler struct{}

func (approvalHandler) axis() classify.Axis { return "" }

func (approvalHandler) validate(r *Rule) error {
	if !r.Action.Effect.relaxes() {
		return fmt.Errorf("%s only accepts %s or %s, got %q", r.Kind, EffectSuppress, EffectDowngrade, r.Action.Effect)
	}
	if r.Action.Target != TargetAll {
		return fmt.Errorf("%s always targets %q", r.Kind, TargetAll)
	}
	if r.Action.Effect == EffectDowngrade && !r.Action.Bucket.Valid() {
		return fmt.Errorf("%s needs a target level", EffectDowngrade)
	}
	return nil
}

func (approvalHandler) apply(r *Rule, res *classify.Result) {
	relax(r, res, "")
}

// escalationHandler adds a finding the built-in checks missed.
type escalationHandler struct{}

func (escalationHandler) axis() classify.Axis { return "" }

func (escalationHandler) validate(r *Rule) error {
	if !r.Action.Effect.requires() {
		return fmt.Errorf("%s only accepts %s or %s, got %q", r.Kind, EffectAdd, EffectEscalate, r.Action.Effect)
	}
	if r.Action.Target == "" || r.Action.Target == TargetAll {
		return fmt.Errorf("%s needs a concrete finding code", r.Kind)
	}
	if !r.Action.Bucket.Valid() {
		return fmt.Errorf("%s needs a level", r.Kind)
	}
	if r.Action.Text == "" {
		return fmt.Errorf("%s needs the finding text", r.Kind)
	}
	return nil
}

func (escalationHandler) apply(r *Rule, res *classify.Result) {
	bucket := r.Action.Bucket
	if r.Action.Effect == EffectAdd {
		// adding never raises the message above its current worst bucket
		limit := classify.WorstBucket(res.Findings)
		if limit == "" {
			limit = classify.BucketSuggestions
		}
		if bucket.Rank() > limit.Rank() {
			bucket = limit
		}
	}
	res.Findings = append(res.Findings, classify.Finding{
		Code:   r.Action.Target,
		Axis:   targetAxis(r),
		Bucket: bucket,
		Text:   r.Action.Text,
		RuleID: r.ID,
	})
}

// targetAxis picks the axis for a rule-added finding.
func targetAxis(r *Rule) classify.Axis {
	if r.Action.Axis != "" {
		return r.Action.Axis
	}
	if d, ok := classify.LookupFinding(r.Action.Target); ok {
		return d.Axis
	}
	return classify.AxisComponents
}

// targets reports whether the action of r covers finding f, given the axis
// the rule kind may touch.
func targets(r *Rule, ax classify.Axis, f classify.Finding) bool {
	if ax != "" && f.Axis != ax {
		return false
	}
	return r.Action.Target == TargetAll || r.Action.Target == f.Code
}

func relax(r *Rule, res *classify.Result, ax classify.Axis) {
	out := res.Findings[:0]
	for _, f := range res.Findings {
		if !targets(r, ax, f) {
			out = append(out, f)
			continue
		}
		switch r.Action.Effect {
		case EffectSuppress:
			continue
		case EffectDowngrade:
			if r.Action.Bucket.Rank() < f.Bucket.Rank() {
				f.Bucket = r.Action.Bucket
				f.RuleID = r.ID
			}
		}
		out = append(out, f)
	}
	res.Findings = out
}
