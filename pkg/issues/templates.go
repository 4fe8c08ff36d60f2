package issues

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/engine"
	"github.com/user/sploitprobe/pkg/synth"
)

var issueTmpl = template.Must(template.New("issue").Parse(`## Vulnerable target: {{ .Advisory.ID }}

**Advisory:** {{ if .Advisory.Href }}[{{ .Advisory.Title }}]({{ .Advisory.Href }}){{ else }}{{ .Advisory.Title }}{{ end }}
**Score:** {{ printf "%.1f" .Advisory.Score }}
**Source:** {{ .Advisory.Source }}

| Detail | Value |
|--------|-------|
| Probe | ` + "`{{ .Spec.Name }}`" + ` ({{ .Spec.Mode }}) |
| Target | {{ if .Invocation.Target }}` + "`{{ .Invocation.Target }}`" + `{{ else }}(none){{ end }} |
| Verdict | {{ .Invocation.Verdict }} |

### Observation

{{ .Invocation.Description }}

### Why the probe works

{{ .Spec.Description }}

---

<sub>Filed by sploitprobe</sub>
`))

type templateData struct {
	Advisory   advisory.Advisory
	Spec       synth.ProbeSpec
	Invocation engine.Invocation
}

func RenderIssueBody(adv advisory.Advisory, spec synth.ProbeSpec, inv engine.Invocation) string {
	var buf bytes.Buffer
	if err := issueTmpl.Execute(&buf, templateData{Advisory: adv, Spec: spec, Invocation: inv}); err != nil {
		return fmt.Sprintf("Error rendering issue template: %v", err)
	}
	return buf.String()
}
