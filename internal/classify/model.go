package classify

import (
	"slices"
	"time"
)

// MessageType is the detected shape of a notification.
type MessageType string

const (
	TypeTrain      MessageType = "TREN_ESPECIFICO"
	TypeService    MessageType = "SERVICIO_GENERAL"
	TypeResumption MessageType = "REANUDACION"
	TypeUnknown    MessageType = "DESCONOCIDO"
)

// Status names as they appear in the catalog.
const (
	StatusDelay       = "DEMORA"
	StatusCancel      = "CANCELACIÓN"
	StatusSuspend     = "SUSPENSIÓN"
	StatusRestored    = "RESTABLECIMIENTO"
	StatusReduced     = "REDUCIDO"
	StatusConditional = "CONDICIONAL"
	StatusInterrupted = "INTERRUMPIDO"
)

// Axis is one of the three independent scoring dimensions.
type Axis string

const (
	AxisComponents Axis = "componentes"
	AxisTiming     Axis = "timing"
	AxisStructure  Axis = "estructura"
)

// Axes lists every axis in report order.
var Axes = []Axis{AxisComponents, AxisTiming, AxisStructure}

// Bucket is a finding severity.
type Bucket string

const (
	BucketImportant    Bucket = "IMPORTANTE"
	BucketObservations Bucket = "OBSERVACIONES"
	BucketSuggestions  Bucket = "SUGERENCIAS"
)

// Rank orders buckets by severity, higher is worse. Unknown buckets rank 0.
func (b Bucket) Rank() int {
	switch b {
	case BucketImportant:
		return 3
	case BucketObservations:
		return 2
	case BucketSuggestions:
		return 1
	default:
		return 0
	}
}

// Valid reports whether b is one of the three known buckets.
func (b Bucket) Valid() bool { return b.Rank() > 0 }

// Level is the overall severity of a message.
type Level string

const (
	LevelImportant    Level = "IMPORTANTE"
	LevelObservations Level = "OBSERVACIONES"
	LevelSuggestions  Level = "SUGERENCIAS"
	LevelComplete     Level = "COMPLETO"
)

// Grade is a per-axis score.
type Grade string

const (
	GradeComplete     Grade = "COMPLETO"
	GradeAcceptable   Grade = "ACEPTABLE"
	GradeIncomplete   Grade = "INCOMPLETO"
	GradeImpeccable   Grade = "IMPECABLE"
	GradeGood         Grade = "BUENO"
	GradeFair         Grade = "REGULAR"
	GradeInsufficient Grade = "INSUFICIENTE"
	GradeNA           Grade = "N/A"
)

// Input is what the engine needs to classify one message.
type Input struct {
	Content string
	Line    string
	SentAt  time.Time
}

// Finding is one built-in or rule-produced observation about a message.
type Finding struct {
	Code   string `json:"codigo"`
	Axis   Axis   `json:"eje"`
	Bucket Bucket `json:"nivel"`
	Text   string `json:"texto"`
	RuleID string `json:"regla_id,omitempty"`
}

// AxisScore is the grade of one axis and the finding texts behind it.
type AxisScore struct {
	Grade   Grade    `json:"clasificacion"`
	Details []string `json:"detalles"`
}

// Classification groups finding texts by bucket.
type Classification struct {
	Important    []string `json:"IMPORTANTE"`
	Observations []string `json:"OBSERVACIONES"`
	Suggestions  []string `json:"SUGERENCIAS"`
}

// Empty reports whether all three buckets are empty.
func (c Classification) Empty() bool {
	return len(c.Important) == 0 && len(c.Observations) == 0 && len(c.Suggestions) == 0
}

// Equal compares two classifications bucket by bucket, order included.
func (c Classification) Equal(o Classification) bool {
	return equalStrings(c.Important, o.Important) &&
		equalStrings(c.Observations, o.Observations) &&
		equalStrings(c.Suggestions, o.Suggestions)
}

// Status is the declared service status (component B).
type Status struct {
	Name    string `json:"estado"`
	Code    string `json:"codigo"`
	Formal  bool   `json:"estructura_formal"`
	Minutes int    `json:"minutos,omitempty"`
}

// Contingency is the detected cause (component C).
type Contingency struct {
	Code string `json:"codigo"`
	Form string `json:"forma_comunicacion"`
}

// Route is the origin/destination pair (component E).
type Route struct {
	Origin      string `json:"origen,omitempty"`
	Destination string `json:"destino,omitempty"`
}

// StructureCode is the X.Y.Z code (component F).
type StructureCode struct {
	Full string `json:"completo"`
	X    string `json:"X"`
	Y    string `json:"Y"`
	Z    string `json:"Z"`
}

// Extraction holds every structured component found in the text.
type Extraction struct {
	Train       string         `json:"A_tren,omitempty"`
	Service     string         `json:"A_servicio,omitempty"`
	Status      *Status        `json:"B_estado,omitempty"`
	Contingency *Contingency   `json:"C_contingencia,omitempty"`
	Time        string         `json:"D_hora,omitempty"`
	Route       *Route         `json:"E_recorrido,omitempty"`
	Code        *StructureCode `json:"F_codigo,omitempty"`
	Place       string         `json:"lugar,omitempty"`
	Apology     bool           `json:"disculpas,omitempty"`
}

// Timing is the lateness computation for a specific-train message.
type Timing struct {
	LatenessMinutes float64 `json:"tardanza_minutos"`
	Declared        string  `json:"hora_programada"`
	DelayMinutes    int     `json:"minutos_demora"`
	Reference       string  `json:"hora_referencia"`
	Sent            string  `json:"hora_envio"`
	Cancellation    bool    `json:"es_cancelacion"`
}

// Result is the full classification of one message.
type Result struct {
	Type           MessageType        `json:"tipo_mensaje"`
	Extraction     Extraction         `json:"componentes"`
	Timing         *Timing            `json:"timing,omitempty"`
	Findings       []Finding          `json:"hallazgos"`
	Scores         map[Axis]AxisScore `json:"scores"`
	Classification Classification     `json:"clasificacion"`
	Level          Level              `json:"nivel_general"`
	AppliedRules   []string           `json:"reglas_aplicadas,omitempty"`
	RulesetVersion int64              `json:"version_reglas"`
}

// HasFinding reports whether a finding with the given code is present.
func (r *Result) HasFinding(code string) bool {
	for _, f := range r.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Findings = slices.Clone(r.Findings)
	cp.AppliedRules = slices.Clone(r.AppliedRules)
	if r.Timing != nil {
		t := *r.Timing
		cp.Timing = &t
	}
	cp.Scores = make(map[Axis]AxisScore, len(r.Scores))
	for k, v := range r.Scores {
		v.Details = slices.Clone(v.Details)
		cp.Scores[k] = v
	}
	cp.Classification = Classification{
		Important:    slices.Clone(r.Classification.Important),
		Observations: slices.Clone(r.Classification.Observations),
		Suggestions:  slices.Clone(r.Classification.Suggestions),
	}
	cp.Extraction = r.Extraction.clone()
	return &cp
}

func (e Extraction) clone() Extraction {
	cp := e
	if e.Status != nil {
		s := *e.Status
		cp.Status = &s
	}
	if e.Contingency != nil {
		c := *e.Contingency
		cp.Contingency = &c
	}
	if e.Route != nil {
		rt := *e.Route
		cp.Route = &rt
	}
	if e.Code != nil {
		sc := *e.Code
		cp.Code = &sc
	}
	return cp
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
