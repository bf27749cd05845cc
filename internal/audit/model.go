package audit

import (
	"time"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// State is where a message is in the validation workflow.
type State string

const (
	// StatePending is queued for a validator
	StatePending State = "PENDIENTE"

	// StateSent is accepted and forwarded, terminal
	StateSent State = "ENVIADO"

	// StateEscalated is in the admin error queue
	StateEscalated State = "DERIVADO"

	// StateBlocked is back with the validator, read-only until unblocked
	StateBlocked State = "BLOQUEADO"
)

// NonTerminal lists the states a cascade re-scores.
var NonTerminal = []State{StatePending, StateEscalated, StateBlocked}

// RawRecord is one message as produced by an import collaborator.
type RawRecord struct {
	ExternalID string    `json:"numero_mensaje"`
	Content    string    `json:"contenido"`
	Operator   string    `json:"operador"`
	Line       string    `json:"linea"`
	SentAt     time.Time `json:"fecha_hora"`
	Groups     []string  `json:"grupos,omitempty"`
}

// Message is one incident notification and its workflow state. The embedded
// classification is always the latest computed for the message.
type Message struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"numero_mensaje"`
	Content     string    `json:"contenido"`
	Operator    string    `json:"operador"`
	Line        string    `json:"linea"`
	SentAt      time.Time `json:"fecha_hora"`
	Groups      []string  `json:"grupos,omitempty"`
	ImportError string    `json:"error_importacion,omitempty"`
	ImportedAt  time.Time `json:"importado_en"`

	classify.Result

	State            State      `json:"estado"`
	Blocked          bool       `json:"bloqueado"`
	BlockReason      string     `json:"explicacion_bloqueo,omitempty"`
	EscalatedBy      string     `json:"derivado_por,omitempty"`
	ValidatorComment string     `json:"comentario_validador,omitempty"`
	EscalatedAt      *time.Time `json:"derivado_en,omitempty"`
	Resolved         bool       `json:"resuelto"`
	AssignedTo       string     `json:"asignado_a,omitempty"`
	ProcessedBy      string     `json:"procesado_por,omitempty"`
	ProcessedAt      *time.Time `json:"procesado_en,omitempty"`
}

// Terminal reports whether the message can no longer change.
func (m *Message) Terminal() bool {
	return m.State == StateSent || (m.State == StateEscalated && m.Resolved)
}

// Input returns the classification input for the message.
func (m *Message) Input() classify.Input {
	return classify.Input{Content: m.Content, Line: m.Line, SentAt: m.SentAt}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Groups = append([]string(nil), m.Groups...)
	if r := m.Result.Clone(); r != nil {
		cp.Result = *r
	}
	if m.EscalatedAt != nil {
		t := *m.EscalatedAt
		cp.EscalatedAt = &t
	}
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// ImportFailure describes one record that could not be imported cleanly.
type ImportFailure struct {
	ExternalID string `json:"numero_mensaje"`
	Error      string `json:"error"`
}

// ImportResult counts the outcome of one import batch.
type ImportResult struct {
	New        int             `json:"nuevos"`
	Duplicates int             `json:"duplicados"`
	Errors     int             `json:"errores"`
	Failures   []ImportFailure `json:"fallas,omitempty"`
}

// Batch is what a validator is served for one line.
type Batch struct {
	Line     string     `json:"linea"`
	Messages []*Message `json:"mensajes"`
	Blocked  []*Message `json:"bloqueados"`
	Cleared  bool       `json:"linea_completa"`
}

// ActionResult is the outcome of a validator action.
type ActionResult struct {
	Message   *Message `json:"mensaje"`
	Remaining int      `json:"restantes"`
	Next      *Batch   `json:"nueva_tanda,omitempty"`
}

// JobStatus tracks a reclassification cascade.
type JobStatus string

const (
	JobRunning  JobStatus = "en_curso"
	JobComplete JobStatus = "completa"
	JobFailed   JobStatus = "fallida"
)

// CascadeCounts are the per-run counters of a reclassification.
type CascadeCounts struct {
	Resolved     int `json:"mensajes_resueltos"`
	Reclassified int `json:"mensajes_reclasificados"`
	Evaluated    int `json:"mensajes_evaluados"`
}

// CascadeJob is a background reclassification started by a rule
// confirmation.
type CascadeJob struct {
	ID     string    `json:"id"`
	RuleID string    `json:"regla_id"`
	Status JobStatus `json:"estado"`
	Error  string    `json:"error,omitempty"`
	CascadeCounts
	Version    int64      `json:"version_reglas,omitempty"`
	StartedAt  time.Time  `json:"iniciada_en"`
	FinishedAt *time.Time `json:"finalizada_en,omitempty"`
}
