package probe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/user/sploitprobe/pkg/sanitize"
)

const (
	Vulnerable    = "vulnerable"
	NotVulnerable = "not vulnerable"
	Inconclusive  = "inconclusive"
)

// Verdict is the parsed outcome of one probe execution.
type Verdict struct {
	Verdict     string `json:"verdict"`
	Description string `json:"description"`
}

// ParseVerdict reads an invocation payload. Handlers often answer with an
// API Gateway style {"statusCode", "body"} object whose body is itself JSON,
// so one level of nesting is unwrapped. Verdicts outside the two known
// values are reported as inconclusive with the raw value kept in the
// description.
func ParseVerdict(payload []byte) (Verdict, error) {
	obj, err := sanitize.Object(string(payload))
	if err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	obj = sanitize.Unwrap(obj, "verdict")
	if _, ok := obj["verdict"]; !ok {
		return Verdict{}, fmt.Errorf("parse verdict: %w", errMissingVerdict)
	}

	raw, _ := obj["verdict"].(string)
	desc, _ := obj["description"].(string)
	v := Verdict{Verdict: normalizeVerdict(raw), Description: desc}
	if v.Verdict == Inconclusive {
		v.Description = strings.TrimSpace(fmt.Sprintf("unrecognised verdict %q. %s", fmt.Sprint(obj["verdict"]), desc))
	}
	return v, nil
}

var errMissingVerdict = errors.New("payload has no verdict field")

func normalizeVerdict(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' }), " ")
	switch s {
	case Vulnerable:
		return Vulnerable
	case NotVulnerable:
		return NotVulnerable
	}
	return Inconclusive
}
