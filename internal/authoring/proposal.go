package authoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// parseReply splits a collaborator answer into the text shown to the admin
// and, when the answer ends in a ready json block, the proposal it carries.
// A block that does not decode or a ready proposal that does not validate is
// an error; a block with lista_para_crear false is left in the text.
func parseReply(text string) (string, *rules.Proposal, error) {
	start := strings.Index(text, fenceOpen)
	if start < 0 {
		return strings.TrimSpace(text), nil, nil
	}
	body := text[start+len(fenceOpen):]
	end := strings.Index(body, fenceClose)
	if end < 0 {
		return "", nil, errors.New("unterminated json block")
	}

	var p rules.Proposal
	if err := json.Unmarshal([]byte(strings.TrimSpace(body[:end])), &p); err != nil {
		return "", nil, fmt.Errorf("decode proposal: %w", err)
	}
	if !p.Ready {
		return strings.TrimSpace(text), nil, nil
	}
	p.PatternDetected = strings.TrimSpace(p.PatternDetected)
	p.Action = strings.TrimSpace(p.Action)
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(text[:start]), &p, nil
}
