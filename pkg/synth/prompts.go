package synth

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/user/sploitprobe/pkg/advisory"
)

// EntryPoint is the function name every generated probe must define.
const EntryPoint = "lambda_handler"

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

func renderTechnologies(advs []advisory.Advisory) (string, error) {
	if advs == nil {
		advs = []advisory.Advisory{}
	}
	data, err := json.MarshalIndent(advs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode advisories: %w", err)
	}
	return render("technologies.tmpl", map[string]string{"Advisories": string(data)})
}

func renderProbe(adv advisory.Advisory) (string, error) {
	data, err := json.MarshalIndent(adv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode advisory: %w", err)
	}
	return render("probe.tmpl", map[string]string{
		"Advisory":   string(data),
		"EntryPoint": EntryPoint,
		"ID":         adv.ID,
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
