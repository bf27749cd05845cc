package rules

import (
	"slices"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// minKeywordLen drops short words (articles, prepositions) from a query.
const minKeywordLen = 4

// regexPrefixLen is how much of a candidate regex is compared when looking
// for a similar rule.
const regexPrefixLen = 10

// Query describes a rule search.
type Query struct {
	Text  string `json:"patron"`
	Regex string `json:"regex,omitempty"`
	Line  string `json:"linea,omitempty"`
}

// Match is a rule found by Search with its relevance.
type Match struct {
	Rule  Rule `json:"regla"`
	Score int  `json:"puntaje"`
}

// Keywords returns the significant normalized words of text.
func Keywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(classify.Normalize(text)) {
		w = strings.Trim(w, ".,;:()\"'")
		if len([]rune(w)) >= minKeywordLen && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

// Search returns the active rules related to q, best first. A rule matches
// when at least two keywords (one for single-word queries) appear in its
// description or example, or when its regex contains the start of q.Regex.
// Global rules rank ahead of line rules on equal score.
func Search(rules []Rule, q Query) []Match {
	kws := Keywords(q.Text)
	need := 2
	if len(kws) < 2 {
		need = 1
	}
	prefix := strings.ToLower(q.Regex)
	if len(prefix) > regexPrefixLen {
		prefix = prefix[:regexPrefixLen]
	}

	var out []Match
	for _, r := range rules {
		if !r.Active || (q.Line != "" && !r.AppliesToLine(q.Line)) {
			continue
		}
		hay := classify.Normalize(r.Description + " " + r.Example + " " + r.Action.Text)
		score := 0
		for _, k := range kws {
			if strings.Contains(hay, k) {
				score++
			}
		}
		similar := prefix != "" && strings.Contains(strings.ToLower(r.Pattern.Regex), prefix)
		if score < need && !similar {
			continue
		}
		if similar {
			score += len(kws) + 1
		}
		out = append(out, Match{Rule: r, Score: score})
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if ag, bg := a.Rule.IsGlobal(), b.Rule.IsGlobal(); ag != bg {
			if ag {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Rule.ID, b.Rule.ID)
	})
	return out
}
