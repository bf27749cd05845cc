package classify

import (
	"regexp"
	"strconv"
	"strings"
)

const letters = `A-ZÑ`

var (
	resumptionRe = regexp.MustCompile(`SE\s+RESTABLECE|RESTABLECE\s+(?:EL\s+)?SERVICIO`)
	resumedLine  = regexp.MustCompile(`(?:RAMAL|LINEA)\s+([` + letters + `\s\-\.]+?)\s+(?:SE|RESTABLECE)\b`)
	trainRe      = regexp.MustCompile(`\bTREN\s+(?:N[°º]?\s*)?(\d+)`)
	serviceRe    = regexp.MustCompile(`\b(?:SERVICIO|RAMAL|LINEA)\s+([` + letters + `\s\-\.]+?)\s+(?:SE|CIRCULA|HA)\b`)

	codeRe = regexp.MustCompile(`(?:^|[\s\(\-])(\d{1,2})[\.\-](\d{1,2}B?)[\.\-]([A-Z])(?:[\s\)\-\.,]|$)`)

	minutesRe = regexp.MustCompile(`(?:DEMORAS?|REGISTRA)\s+(?:DE\s+)?(\d+)\s*(?:MINUTOS?|MIN\b)`)

	timeFormalRe = regexp.MustCompile(`DE\s+LAS\s*(\d{1,2})[:\.\s](\d{2})\s*HS`)
	timeFlexRe   = regexp.MustCompile(`(?:A\s+LAS|DE\s+LAS|SALIDA|HORA)\s*(\d{1,2})[:\s\.](\d{2})\b`)

	stationName  = `([` + letters + `][` + letters + `\s\.\(\)]+?)`
	routeEnd     = `(?:\s+(?:CIRCULA|HA\s+SIDO|FUE|CON\s+DEMORA)|\s*[\.,]|$)`
	originRe     = regexp.MustCompile(`(?:PARTIENDO\s+(?:DE|DESDE)|DESDE)\s+` + stationName + `\s+(?:HACIA|A\s+[` + letters + `]|CON\s+DEMORA|CIRCULA|HA\s+SIDO|FUE)`)
	destRe       = regexp.MustCompile(`HACIA\s+` + stationName + `(?:\s+(?:CIRCULA|HA\s+SIDO|FUE|CON\s+DEMORA|REGISTRA|SE\s+ENCUENTRA)|\s+(?:POR|SE)\b|\s*[\.,]|$)`)
	betweenRe    = regexp.MustCompile(`ENTRE\s+` + stationName + `\s+Y\s+` + stationName + routeEnd)
	fromToRe     = regexp.MustCompile(`(?:SALIENDO\s+|SALE\s+)?\bDE\s+` + stationName + `\s+A\s+` + stationName + routeEnd)
	placeRe      = regexp.MustCompile(`\bEN\s+([` + letters + `\s]+?)(?:\s+(?:DISCULPA|SEPA)|\s*\.|$)`)
	departureRe  = regexp.MustCompile(`DEMORANDO\s+(?:SU\s+)?PARTIDA|DEMORAS?\s+EN\s+(?:LA\s+)?PARTIDA|PARTIDA\s+DEMORADA`)
	formationsRe = regexp.MustCompile(`FORMACION`)
)

// placeNoise are "EN ..." fragments that are never a place.
var placeNoise = map[string]bool{
	"EL DIA":        true,
	"LA TARDE":      true,
	"LA NOCHE":      true,
	"EL TRANSCURSO": true,
}

// DetectType returns the message type of normalized text.
func DetectType(norm string) MessageType {
	switch {
	case resumptionRe.MatchString(norm):
		return TypeResumption
	case trainRe.MatchString(norm):
		return TypeTrain
	case serviceRe.MatchString(norm):
		return TypeService
	default:
		return TypeUnknown
	}
}

// formatNote is a flexible-format observation made during extraction.
type formatNote struct {
	code string
	text string
}

func (c *Classifier) extract(norm string, typ MessageType) (Extraction, []formatNote) {
	var (
		e     Extraction
		notes []formatNote
	)

	if m := codeRe.FindStringSubmatch(norm); m != nil {
		x := m[1]
		if len(x) == 1 {
			x = "0" + x
		}
		e.Code = &StructureCode{Full: m[1] + "." + m[2] + "." + m[3], X: x, Y: m[2], Z: m[3]}
	}

	switch typ {
	case TypeTrain:
		if m := trainRe.FindStringSubmatch(norm); m != nil {
			e.Train = m[1]
		}
	case TypeService:
		if m := serviceRe.FindStringSubmatch(norm); m != nil {
			e.Service = strings.TrimSpace(m[1])
		}
	case TypeResumption:
		if m := resumedLine.FindStringSubmatch(norm); m != nil {
			e.Service = strings.TrimSpace(m[1])
		}
	}

	e.Status = c.catalog.findStatus(norm)
	if e.Status != nil && e.Status.Name == StatusDelay {
		if m := minutesRe.FindStringSubmatch(norm); m != nil {
			e.Status.Minutes, _ = strconv.Atoi(m[1])
		}
	}

	e.Contingency = c.catalog.findContingency(norm)

	switch typ {
	case TypeTrain:
		if hh, mm, ok := matchClock(timeFormalRe, norm); ok {
			e.Time = hh + ":" + mm
		} else if hh, mm, ok := matchClock(timeFlexRe, norm); ok {
			e.Time = hh + ":" + mm
			notes = append(notes, formatNote{"formato_hora", "Formato: usar 'DE LAS HH:MM HS'"})
		}

		var rt Route
		if m := originRe.FindStringSubmatch(norm); m != nil {
			rt.Origin = strings.TrimSpace(m[1])
		}
		if m := destRe.FindStringSubmatch(norm); m != nil {
			rt.Destination = strings.TrimSpace(m[1])
		}
		if rt.Origin == "" || rt.Destination == "" {
			if m := betweenRe.FindStringSubmatch(norm); m != nil {
				rt = Route{Origin: strings.TrimSpace(m[1]), Destination: strings.TrimSpace(m[2])}
				notes = append(notes, formatNote{"formato_recorrido", "Formato: usar 'DESDE [Origen] HACIA [Destino]'"})
			} else if m := fromToRe.FindStringSubmatch(norm); m != nil {
				rt = Route{Origin: strings.TrimSpace(m[1]), Destination: strings.TrimSpace(m[2])}
				notes = append(notes, formatNote{"formato_recorrido", "Formato: usar 'HACIA [Estación]' en lugar de 'A'"})
			}
		}
		if rt.Origin != "" || rt.Destination != "" {
			e.Route = &rt
		}

	case TypeService:
		if m := placeRe.FindStringSubmatch(norm); m != nil {
			if p := strings.TrimSpace(m[1]); p != "" && !placeNoise[p] {
				e.Place = p
			}
		}
		e.Apology = strings.Contains(norm, "DISCULPA")
	}

	return e, notes
}

// matchClock returns the zero-padded hour and minute of the first valid clock
// time matched by re.
func matchClock(re *regexp.Regexp, norm string) (string, string, bool) {
	for _, m := range re.FindAllStringSubmatch(norm, -1) {
		h, err1 := strconv.Atoi(m[1])
		mi, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || h > 23 || mi > 59 {
			continue
		}
		return pad2(h), pad2(mi), true
	}
	return "", "", false
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// repeatedLetters reports whether norm has three or more identical letters in
// a row.
func repeatedLetters(norm string) bool {
	var prev rune
	run := 0
	for _, r := range norm {
		if r < 'A' || r > 'Z' {
			prev, run = 0, 0
			continue
		}
		if r == prev {
			run++
			if run >= 3 {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// multipleSpaces counts runs of two or more whitespace characters in the raw
// content.
func multipleSpaces(raw string) int {
	return len(multiSpaceRe.FindAllStringIndex(strings.TrimSpace(raw), -1))
}
