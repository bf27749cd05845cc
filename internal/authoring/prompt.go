package authoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

// buildSystemPrompt explains the two layers (built-in classifier and rules),
// lists the active rules and the proposal format.
func buildSystemPrompt(mc MessageContext) string {
	summary, _ := json.MarshalIndent(mc.Rules, "", "  ")
	if len(mc.Rules) == 0 {
		summary = []byte("[]")
	}

	return fmt.Sprintf(`Sos un asistente que ayuda al administrador a escribir reglas de aceptación para los mensajes de incidencias ferroviarias de SOFSE.

Hay dos capas:
- El clasificador base extrae los componentes del mensaje (tren o servicio, estado, contingencia, hora, recorrido, código X.Y.Z), calcula la puntualidad y produce hallazgos en IMPORTANTE, OBSERVACIONES y SUGERENCIAS. No se modifica.
- Las reglas se aplican encima del clasificador base. Una regla puede suprimir o degradar hallazgos (falso positivo) o agregar y escalar hallazgos (falso negativo).

Cuando el validador derivó un mensaje, tu trabajo es:
1. Leer su comentario y entender qué formato o caso concreto causó el problema.
2. Buscar con buscar_reglas si ya existe una regla que lo cubra o que convenga ampliar.
3. Probar con probar_patron cualquier regex antes de proponerlo.
4. Si hace falta una regla nueva, proponerla. Si ya existe, explicar por qué no se aplicó.

Reglas activas para la línea %s (%d):
%s

Hallazgos conocidos: %s

Cuando la regla esté lista, terminá la respuesta con un único bloque así:
`+"```json"+`
{
  "lista_para_crear": true,
  "patron_detectado": "descripción clara del caso",
  "regex_sugerido": "expresión regular RE2, opcional",
  "accion_sugerida": "aprobar_sin_obs | aprobar_con_obs | rechazar | suprimir | degradar | agregar | escalar",
  "hallazgo": "código del hallazgo afectado",
  "contingencia": "código de contingencia, opcional",
  "estado": "estado del servicio, opcional",
  "tipo_mensaje": "TREN_ESPECIFICO | SERVICIO_GENERAL, opcional",
  "tipo": "FALSO_POSITIVO | FALSO_NEGATIVO",
  "ampliar_regla_id": "id de la regla que se amplía, opcional"
}
`+"```"+`
La regla necesita al menos un criterio: regex, tipo de mensaje, estado, contingencia o hallazgo.

Respondé en español rioplatense, directo y en no más de cinco líneas fuera del bloque JSON. No repitas lo que ya dijiste.`,
		mc.Line, len(mc.Rules), summary, strings.Join(classify.FindingCodes(""), ", "))
}

// buildInitialPrompt is the first user message of every conversation.
func buildInitialPrompt(mc MessageContext) string {
	escalatedBy := mc.EscalatedBy
	if escalatedBy == "" {
		escalatedBy = "el validador"
	}

	findings := make([]string, 0, len(mc.Findings))
	for _, f := range mc.Findings {
		findings = append(findings, fmt.Sprintf("- [%s] %s: %s", f.Bucket, f.Code, f.Text))
	}
	if len(findings) == 0 {
		findings = append(findings, "- ninguno")
	}

	return fmt.Sprintf(`Analizá este caso: %s reportó un error de la clasificación.

Comentario del validador:
%q

Mensaje %d (línea %s, tipo %s):
%s

Nivel general: %s
Hallazgos:
%s

Decidí si es un falso positivo o un falso negativo a partir del comentario.`,
		escalatedBy, mc.ValidatorComment, mc.MessageID, mc.Line, mc.Type, mc.Content, mc.Level, strings.Join(findings, "\n"))
}
