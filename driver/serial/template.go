package serial

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/easternanemone/rudaq/rudaqerr"
)

// render expands a command's template against args using the standard
// library's text/template rather than a third-party templating engine;
// there's no case here for anything beyond simple variable substitution
// into a command string.
func render(tmpl string, args map[string]any) (string, error) {
	t, err := template.New("cmd").Parse(tmpl)
	if err != nil {
		return "", rudaqerr.Configuration("serial.render", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, args); err != nil {
		return "", rudaqerr.Configuration("serial.render", err)
	}
	return buf.String(), nil
}

func terminatorOrDefault(t string) string {
	if t == "" {
		return "\r\n"
	}
	return strings.ReplaceAll(strings.ReplaceAll(t, `\r`, "\r"), `\n`, "\n")
}
