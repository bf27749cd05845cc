package classify

import (
	"fmt"
	"sort"
	"strings"
)

// FindingDef describes a built-in finding code.
type FindingDef struct {
	Code   string
	Axis   Axis
	Bucket Bucket
	Text   string
}

// findingDefs is the closed set of built-in findings. Texts with a %s or %d
// verb are completed at detection time.
var findingDefs = map[string]FindingDef{
	"falta_tren":                        {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta número de tren"},
	"falta_servicio":                    {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta identificación del servicio"},
	"falta_estado":                      {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta estado del servicio"},
	"falta_minutos":                     {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta cantidad de minutos de demora"},
	"falta_hora":                        {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta hora de ocurrencia"},
	"falta_recorrido":                   {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta origen y destino"},
	"falta_origen":                      {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta estación origen"},
	"falta_destino":                     {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta estación destino"},
	"falta_contingencia":                {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta motivo de la contingencia"},
	"falta_codigo":                      {Axis: AxisComponents, Bucket: BucketImportant, Text: "Falta código de estructura (ej: 3.1.A)"},
	"formato_no_reconocido":             {Axis: AxisComponents, Bucket: BucketImportant, Text: "El mensaje no tiene formato reconocido (TREN o SERVICIO)"},
	"demora_partida_sin_minutos":        {Axis: AxisComponents, Bucket: BucketObservations, Text: "Demora de partida sin cantidad de minutos"},
	"codigo17_sin_motivo":               {Axis: AxisComponents, Bucket: BucketObservations, Text: "Código 17 sin motivo detallado"},
	"codigo_inconsistente_contingencia": {Axis: AxisComponents, Bucket: BucketObservations, Text: "Inconsistencia en código: usaste %s pero la contingencia corresponde al código %s"},
	"codigo_inconsistente_estado":       {Axis: AxisComponents, Bucket: BucketObservations, Text: "Inconsistencia en estado: el código indica %s pero el mensaje describe %s"},
	"codigo_17":                         {Axis: AxisComponents, Bucket: BucketObservations, Text: "Código 17 (OTRAS CONTINGENCIAS) es excepcional, verificar si existe uno más específico"},
	"formaciones_sin_motivo":            {Axis: AxisComponents, Bucket: BucketSuggestions, Text: "Mensaje sobre formaciones sin causa específica"},
	"lugar_sugerido":                    {Axis: AxisComponents, Bucket: BucketSuggestions, Text: "Podría ser útil especificar el LUGAR (ej: 'EN LAFERRERE')"},
	"notificacion_tardia":               {Axis: AxisTiming, Bucket: BucketObservations, Text: "Notificación tardía: %d minutos después de la hora de referencia"},
	"estado_informal":                   {Axis: AxisStructure, Bucket: BucketSuggestions, Text: "El mensaje menciona '%s' pero no usa la estructura formal"},
	"formato_hora":                      {Axis: AxisStructure, Bucket: BucketSuggestions},
	"formato_recorrido":                 {Axis: AxisStructure, Bucket: BucketSuggestions},
	"servicio_con_guion":                {Axis: AxisStructure, Bucket: BucketSuggestions, Text: "Uso de guiones en '%s', se sugiere el nombre oficial del ramal"},
	"ortografia":                        {Axis: AxisStructure, Bucket: BucketObservations, Text: "Ortografía: %s → %s"},
	"letras_repetidas":                  {Axis: AxisStructure, Bucket: BucketObservations, Text: "Ortografía: letras repetidas excesivamente"},
	"espacios_multiples":                {Axis: AxisStructure, Bucket: BucketObservations, Text: "Espacios múltiples (%d lugares)"},
}

// LookupFinding returns the definition of a built-in finding code.
func LookupFinding(code string) (FindingDef, bool) {
	d, ok := findingDefs[code]
	d.Code = code
	return d, ok
}

// FindingCodes lists the built-in finding codes of an axis, sorted. An empty
// axis lists all of them.
func FindingCodes(axis Axis) []string {
	var out []string
	for code, d := range findingDefs {
		if axis == "" || d.Axis == axis {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

func newFinding(code string, args ...any) Finding {
	d := findingDefs[code]
	text := d.Text
	if len(args) > 0 {
		text = fmt.Sprintf(d.Text, args...)
	}
	return Finding{Code: code, Axis: d.Axis, Bucket: d.Bucket, Text: text}
}

// maxToleratedSpaceRuns is how many double spaces pass without a finding.
const maxToleratedSpaceRuns = 2

func (c *Classifier) componentFindings(norm string, typ MessageType, e Extraction) []Finding {
	var out []Finding

	switch typ {
	case TypeTrain:
		if e.Train == "" {
			out = append(out, newFinding("falta_tren"))
		}
		out = append(out, c.statusFindings(norm, e, true)...)
		if e.Time == "" {
			out = append(out, newFinding("falta_hora"))
		}
		switch {
		case e.Route == nil:
			out = append(out, newFinding("falta_recorrido"))
		default:
			if e.Route.Origin == "" {
				out = append(out, newFinding("falta_origen"))
			}
			if e.Route.Destination == "" {
				out = append(out, newFinding("falta_destino"))
			}
		}

	case TypeService:
		if e.Service == "" {
			out = append(out, newFinding("falta_servicio"))
		}
		out = append(out, c.statusFindings(norm, e, false)...)
		if e.Place == "" && e.Contingency != nil {
			if d, ok := c.catalog.Contingency(e.Contingency.Code); ok && d.RequiresPlace {
				out = append(out, newFinding("lugar_sugerido"))
			}
		}

	case TypeUnknown:
		out = append(out, newFinding("formato_no_reconocido"))
	}

	// a resumption does not need to restate the cause
	if typ != TypeResumption && e.Contingency == nil {
		switch {
		case e.Status != nil && (e.Status.Name == StatusCancel || e.Status.Name == StatusSuspend) &&
			e.Code != nil && e.Code.X == "17":
			out = append(out, newFinding("codigo17_sin_motivo"))
		case formationsRe.MatchString(norm):
			out = append(out, newFinding("formaciones_sin_motivo"))
		default:
			out = append(out, newFinding("falta_contingencia"))
		}
	}

	if e.Code == nil {
		out = append(out, newFinding("falta_codigo"))
	} else if typ != TypeUnknown {
		if e.Contingency != nil && e.Code.X != "17" && e.Code.X != e.Contingency.Code {
			out = append(out, newFinding("codigo_inconsistente_contingencia", e.Code.X, e.Contingency.Code))
		}
		if expected := c.catalog.StatusName(e.Code.Y); expected != "" && e.Status != nil && expected != e.Status.Name {
			out = append(out, newFinding("codigo_inconsistente_estado", expected, e.Status.Name))
		}
		if e.Code.X == "17" {
			out = append(out, newFinding("codigo_17"))
		}
	}

	return out
}

// statusFindings covers component B. Minutes are only required for a
// specific train.
func (c *Classifier) statusFindings(norm string, e Extraction, needMinutes bool) []Finding {
	if e.Status == nil {
		return []Finding{newFinding("falta_estado")}
	}
	var out []Finding
	if needMinutes && e.Status.Name == StatusDelay && e.Status.Minutes == 0 {
		if departureRe.MatchString(norm) {
			out = append(out, newFinding("demora_partida_sin_minutos"))
		} else {
			out = append(out, newFinding("falta_minutos"))
		}
	}
	return out
}

func (c *Classifier) structureFindings(raw, norm string, e Extraction, notes []formatNote) []Finding {
	var out []Finding

	if e.Status != nil && !e.Status.Formal {
		out = append(out, newFinding("estado_informal", e.Status.Name))
	}
	for _, n := range notes {
		f := newFinding(n.code)
		f.Text = n.text
		out = append(out, f)
	}
	if strings.Contains(e.Service, "-") {
		out = append(out, newFinding("servicio_con_guion", e.Service))
	}
	for _, t := range c.catalog.Typos {
		if w := t.re.FindString(norm); w != "" {
			out = append(out, newFinding("ortografia", w, t.Correction))
		}
	}
	if repeatedLetters(norm) {
		out = append(out, newFinding("letras_repetidas"))
	}
	if n := multipleSpaces(raw); n > maxToleratedSpaceRuns {
		out = append(out, newFinding("espacios_multiples", n))
	}
	return out
}
