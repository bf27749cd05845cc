package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// StatusDef maps a status code to the phrasings that declare it formally.
type StatusDef struct {
	Code     string   `yaml:"codigo"`
	Name     string   `yaml:"nombre"`
	Patterns []string `yaml:"patrones"`

	res []*regexp.Regexp
}

// InformalStatus is a bare status mention outside the formal phrasing.
type InformalStatus struct {
	Code    string `yaml:"codigo"`
	Name    string `yaml:"nombre"`
	Pattern string `yaml:"patron"`

	re *regexp.Regexp
}

// ContingencyDef is one row of the contingency table.
type ContingencyDef struct {
	Code          string   `yaml:"codigo"`
	Form          string   `yaml:"forma"`
	Synonyms      []string `yaml:"sinonimos"`
	RequiresPlace bool     `yaml:"requiere_lugar"`

	formRe     *regexp.Regexp
	synonymRes []*regexp.Regexp
}

// Typo is a frequent misspelling and its correction.
type Typo struct {
	Word       string `yaml:"palabra"`
	Correction string `yaml:"correccion"`

	re *regexp.Regexp
}

// Catalog is the data side of the notification standard.
type Catalog struct {
	Statuses         []StatusDef      `yaml:"estados"`
	InformalStatuses []InformalStatus `yaml:"estados_informales"`
	Contingencies    []ContingencyDef `yaml:"contingencias"`
	Typos            []Typo           `yaml:"errores_frecuentes"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file. An empty path yields the
// default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and compiles a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Contingency looks up a contingency by code.
func (c *Catalog) Contingency(code string) (ContingencyDef, bool) {
	for _, d := range c.Contingencies {
		if d.Code == code {
			return d, true
		}
	}
	return ContingencyDef{}, false
}

// StatusName returns the status name for a structure-code Y value.
func (c *Catalog) StatusName(code string) string {
	for _, s := range c.Statuses {
		if s.Code == code {
			return s.Name
		}
	}
	return ""
}

func (c *Catalog) compile() error {
	var errs []error
	if len(c.Statuses) == 0 {
		errs = append(errs, errors.New("catalog: no statuses"))
	}
	if len(c.Contingencies) == 0 {
		errs = append(errs, errors.New("catalog: no contingencies"))
	}

	for i := range c.Statuses {
		s := &c.Statuses[i]
		s.res = s.res[:0]
		for _, p := range s.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("catalog: status %s pattern %q: %w", s.Code, p, err))
				continue
			}
			s.res = append(s.res, re)
		}
	}

	for i := range c.InformalStatuses {
		s := &c.InformalStatuses[i]
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("catalog: informal status %s: %w", s.Code, err))
			continue
		}
		s.re = re
	}

	for i := range c.Contingencies {
		d := &c.Contingencies[i]
		if d.Code == "" || d.Form == "" {
			errs = append(errs, fmt.Errorf("catalog: contingency %d needs codigo and forma", i))
			continue
		}
		d.formRe = regexp.MustCompile(phrasePattern(d.Form))
		d.synonymRes = d.synonymRes[:0]
		for _, syn := range d.Synonyms {
			d.synonymRes = append(d.synonymRes, regexp.MustCompile(`\b`+phrasePattern(syn)+`\b`))
		}
	}

	for i := range c.Typos {
		t := &c.Typos[i]
		t.re = regexp.MustCompile(`\b` + regexp.QuoteMeta(Normalize(t.Word)) + `\b`)
	}

	return errors.Join(errs...)
}

// phrasePattern turns a literal phrase into a pattern tolerant to repeated
// whitespace.
func phrasePattern(phrase string) string {
	words := strings.Fields(Normalize(phrase))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// findContingency matches official forms first, then synonyms.
func (c *Catalog) findContingency(norm string) *Contingency {
	for _, d := range c.Contingencies {
		if d.formRe != nil && d.formRe.MatchString(norm) {
			return &Contingency{Code: d.Code, Form: Normalize(d.Form)}
		}
	}
	for _, d := range c.Contingencies {
		for i, re := range d.synonymRes {
			if re.MatchString(norm) {
				return &Contingency{Code: d.Code, Form: Normalize(d.Synonyms[i])}
			}
		}
	}
	return nil
}

func (c *Catalog) findStatus(norm string) *Status {
	for _, s := range c.Statuses {
		for _, re := range s.res {
			if re.MatchString(norm) {
				return &Status{Name: s.Name, Code: s.Code, Formal: true}
			}
		}
	}
	for _, s := range c.InformalStatuses {
		if s.re != nil && s.re.MatchString(norm) {
			return &Status{Name: s.Name, Code: s.Code, Formal: false}
		}
	}
	return nil
}
