package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// Snapshot is an immutable, versioned set of active rules. Classification
// always runs against exactly one snapshot.
type Snapshot struct {
	version  int64
	rules    []*Rule
	patterns map[string]*regexp.Regexp
}

// NewSnapshot builds a snapshot from rules, keeping the active ones. Rules are
// copied, so later changes by the caller are not visible.
func NewSnapshot(version int64, rules []*Rule) (*Snapshot, error) {
	s := &Snapshot{
		version:  version,
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		re, err := CompilePattern(r.Pattern.Regex)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		cp := *r
		s.rules = append(s.rules, &cp)
		if re != nil {
			s.patterns[cp.ID] = re
		}
	}
	slices.SortStableFunc(s.rules, compareRules)
	return s, nil
}

// compareRules orders line-scoped rules before global ones, then by creation
// time and id.
func compareRules(a, b *Rule) int {
	if ag, bg := a.IsGlobal(), b.IsGlobal(); ag != bg {
		if bg {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Version returns the snapshot version.
func (s *Snapshot) Version() int64 { return s.version }

// Len returns the number of active rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Rules returns copies of the active rules in application order.
func (s *Snapshot) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = *r
	}
	return out
}

// Get returns a copy of the active rule with the given id.
func (s *Snapshot) Get(id string) (Rule, bool) {
	for _, r := range s.rules {
		if r.ID == id {
			return *r, true
		}
	}
	return Rule{}, false
}

// Next returns the snapshot that results from adding rule and, when
// deactivate is non-empty, dropping that rule.
func (s *Snapshot) Next(rule *Rule, deactivate string) (*Snapshot, error) {
	rules := make([]*Rule, 0, len(s.rules)+1)
	for _, r := range s.rules {
		if r.ID == deactivate {
			continue
		}
		rules = append(rules, r)
	}
	if rule != nil {
		rules = append(rules, rule)
	}
	return NewSnapshot(s.version+1, rules)
}

// Classify runs the built-in checks and then every matching rule.
func (s *Snapshot) Classify(c *classify.Classifier, in classify.Input) *classify.Result {
	base := c.Baseline(in)
	res := base.Clone()
	if len(s.rules) > 0 {
		norm := classify.Normalize(in.Content)
		for _, r := range s.rules {
			h, ok := handlers[r.Kind]
			if !ok || !r.AppliesToLine(in.Line) || !s.matches(r, in.Content, norm, base) {
				continue
			}
			h.apply(r, res)
			res.AppliedRules = append(res.AppliedRules, r.ID)
		}
		classify.Finalize(res)
	}
	res.RulesetVersion = s.version
	return res
}

// matches reports whether rule r's pattern holds for the message, given its
// baseline classification.
func (s *Snapshot) matches(r *Rule, raw, norm string, base *classify.Result) bool {
	if re := s.patterns[r.ID]; re != nil && !re.MatchString(raw) && !re.MatchString(norm) {
		return false
	}
	return structuredMatch(r.Pattern, base)
}

func structuredMatch(p Pattern, base *classify.Result) bool {
	if p.MessageType != "" && p.MessageType != base.Type {
		return false
	}
	if p.Status != "" {
		st := base.Extraction.Status
		if st == nil || classify.Normalize(st.Name) != classify.Normalize(p.Status) {
			return false
		}
	}
	if p.Contingency != "" {
		ct := base.Extraction.Contingency
		if ct == nil || ct.Code != p.Contingency {
			return false
		}
	}
	if p.Finding != "" && !base.HasFinding(p.Finding) {
		return false
	}
	return true
}

// Registry holds the current snapshot. Readers never block and always see a
// complete snapshot.
type Registry struct {
	cur atomic.Pointer[Snapshot]
}

// NewRegistry returns a registry publishing initial.
func NewRegistry(initial *Snapshot) *Registry {
	if initial == nil {
		initial = &Snapshot{patterns: map[string]*regexp.Regexp{}}
	}
	r := &Registry{}
	r.cur.Store(initial)
	return r
}

// Current returns the snapshot in effect.
func (r *Registry) Current() *Snapshot { return r.cur.Load() }

// Publish replaces the current snapshot. Versions only move forward.
func (r *Registry) Publish(s *Snapshot) error {
	for {
		old := r.cur.Load()
		if s.version <= old.version {
			return fmt.Errorf("snapshot version %d is not newer than %d", s.version, old.version)
		}
		if r.cur.CompareAndSwap(old, s) {
			return nil
		}
	}
}
