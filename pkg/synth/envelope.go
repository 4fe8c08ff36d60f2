package synth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/sploitprobe/pkg/sanitize"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// EnvelopeKeys are the keys every probe envelope must carry.
var EnvelopeKeys = []string{"code", "type", "description", "name", "id"}

// ErrEnvelope classifies answers that parsed as JSON but do not form a
// valid probe envelope.
var ErrEnvelope = errors.New("invalid probe envelope")

type EnvelopeError struct {
	AdvisoryID string
	Problem    string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrEnvelope, e.AdvisoryID, e.Problem)
}

func (e *EnvelopeError) Unwrap() error { return ErrEnvelope }

// ProbeSpec is a validated probe envelope. AdvisoryID is always the id of
// the advisory the probe was requested for; EnvelopeID is what the model
// wrote in its "id" field.
type ProbeSpec struct {
	Code        string
	Mode        string
	Description string
	Name        string
	AdvisoryID  string
	EnvelopeID  string
}

func (p ProbeSpec) Remote() bool { return p.Mode == ModeRemote }

// ParseProbe sanitizes raw model output and validates the envelope.
// Sanitizer errors are returned unchanged; shape violations are *EnvelopeError.
func ParseProbe(advisoryID, raw string) (ProbeSpec, error) {
	obj, err := sanitize.Object(raw)
	if err != nil {
		return ProbeSpec{}, err
	}
	obj = sanitize.Unwrap(obj, EnvelopeKeys...)

	var missing []string
	for _, k := range EnvelopeKeys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: "missing keys " + strings.Join(missing, ", ")}
	}

	spec := ProbeSpec{AdvisoryID: advisoryID}
	var ok bool
	if spec.Code, ok = obj["code"].(string); !ok || strings.TrimSpace(spec.Code) == "" {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: "code must be a non-empty string"}
	}
	if !strings.Contains(spec.Code, "def "+EntryPoint) {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: "code does not define " + EntryPoint}
	}
	mode, _ := obj["type"].(string)
	spec.Mode = strings.ToLower(strings.TrimSpace(mode))
	if spec.Mode != ModeLocal && spec.Mode != ModeRemote {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: fmt.Sprintf("type must be %q or %q, got %v", ModeLocal, ModeRemote, obj["type"])}
	}
	if spec.Description, ok = obj["description"].(string); !ok {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: "description must be a string"}
	}
	if spec.Name, ok = obj["name"].(string); !ok {
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: "name must be a string"}
	}
	switch id := obj["id"].(type) {
	case string:
		spec.EnvelopeID = id
	case float64:
		spec.EnvelopeID = fmt.Sprint(id)
	case nil:
	default:
		return ProbeSpec{}, &EnvelopeError{AdvisoryID: advisoryID, Problem: fmt.Sprintf("id has unexpected type %T", id)}
	}
	return spec, nil
}
