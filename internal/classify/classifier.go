package classify

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultUTCOffsetHours is the operators' local offset (Argentina, no DST).
const DefaultUTCOffsetHours = -3

// Classifier runs the built-in checks. It is safe for concurrent use.
type Classifier struct {
	catalog *Catalog
	loc     *time.Location
}

// New returns a Classifier over catalog, computing timing in loc. A nil loc
// uses DefaultUTCOffsetHours.
func New(catalog *Catalog, loc *time.Location) *Classifier {
	if catalog == nil {
		panic(xerrors.New("classify: catalog is required"))
	}
	if loc == nil {
		loc = FixedZone(DefaultUTCOffsetHours)
	}
	return &Classifier{catalog: catalog, loc: loc}
}

// FixedZone returns a fixed-offset location for whole-hour offsets.
func FixedZone(hours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

// Catalog returns the catalog the classifier was built with.
func (c *Classifier) Catalog() *Catalog { return c.catalog }

// Baseline classifies in with the built-in checks only.
func (c *Classifier) Baseline(in Input) *Result {
	norm := Normalize(in.Content)
	typ := DetectType(norm)
	ext, notes := c.extract(norm, typ)
	tm := c.timing(in, typ, ext)

	var findings []Finding
	findings = append(findings, c.componentFindings(norm, typ, ext)...)
	findings = append(findings, timingFindings(tm)...)
	findings = append(findings, c.structureFindings(in.Content, norm, ext, notes)...)

	r := &Result{
		Type:       typ,
		Extraction: ext,
		Timing:     tm,
		Findings:   findings,
	}
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	Finalize(r)
	return r
}
