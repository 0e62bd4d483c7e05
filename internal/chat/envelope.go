package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Action is the command kind carried by an envelope.
type Action string

// Known actions. Any other value is treated as unexpected.
const (
	ActionNavigate Action = "navigate"
	ActionAnswer   Action = "answer"
	ActionWarn     Action = "warn"
)

// Target is a page section the model can navigate to.
type Target string

// Navigation targets.
const (
	TargetAbout    Target = "about"
	TargetProjects Target = "projects"
	TargetTech     Target = "tech"
	TargetContact  Target = "contact"
)

// Valid reports whether t names a known section.
func (t Target) Valid() bool {
	switch t {
	case TargetAbout, TargetProjects, TargetTech, TargetContact:
		return true
	}
	return false
}

// Envelope is the JSON command the model is instructed to return.
type Envelope struct {
	Action   Action `json:"action"`
	Response string `json:"response"`
	Target   Target `json:"target,omitempty"`
}

// ErrMalformedEnvelope means the model output could not be parsed as JSON.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// jsSpace matches what \s matches in a browser regexp: ASCII whitespace plus
// the Unicode space separators and BOM.
const jsSpace = `[\s\v\p{Z}\x{FEFF}]*`

var jsonFence = regexp.MustCompile("(?s)```json" + jsSpace + "(.*?)" + jsSpace + "```")

// ExtractPayload returns the body of the first ```json fenced block in raw,
// or raw itself when there is none.
func ExtractPayload(raw string) string {
	m := jsonFence.FindStringSubmatch(raw)
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return raw
}

// ParseEnvelope decodes payload. Valid JSON that is not an object yields an
// envelope with an empty action; JSON null and invalid JSON are malformed.
func ParseEnvelope(payload string) (Envelope, error) {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if v == nil {
		return Envelope{}, fmt.Errorf("%w: null", ErrMalformedEnvelope)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Envelope{}, nil
	}
	return Envelope{
		Action:   Action(stringField(obj, "action")),
		Response: stringField(obj, "response"),
		Target:   Target(stringField(obj, "target")),
	}, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
