package serial

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/easternanemone/rudaq/rudaqerr"
)

// parseResponse extracts named string fields from raw per spec. Regex mode
// uses named capture groups (or, lacking names, positional group indices
// stringified as "1", "2", ...); fixed mode slices byte ranges; delimiter
// mode splits on Delimiter and assigns Names positionally.
func parseResponse(spec ResponseSpec, raw []byte) (map[string]string, error) {
	text := string(raw)
	switch spec.Mode {
	case "", "regex":
		return parseRegex(spec, text)
	case "fixed":
		return parseFixed(spec, text)
	case "delimiter":
		return parseDelimiter(spec, text)
	default:
		return nil, rudaqerr.Protocol("serial.parseResponse", fmt.Errorf("unknown response mode %q", spec.Mode), false)
	}
}

func parseRegex(spec ResponseSpec, text string) (map[string]string, error) {
	if spec.Pattern == "" {
		return map[string]string{"raw": strings.TrimSpace(text)}, nil
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, rudaqerr.Configuration("serial.parseRegex", err)
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, rudaqerr.Protocol("serial.parseRegex", fmt.Errorf("response %q did not match pattern %q", text, spec.Pattern), true)
	}
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("%d", i)
		}
		out[name] = m[i]
	}
	return out, nil
}

func parseFixed(spec ResponseSpec, text string) (map[string]string, error) {
	out := make(map[string]string, len(spec.Fields))
	for _, f := range spec.Fields {
		if f.Start < 0 || f.End > len(text) || f.Start > f.End {
			return nil, rudaqerr.Protocol("serial.parseFixed", fmt.Errorf("field %q range [%d:%d) out of bounds for response of length %d", f.Name, f.Start, f.End, len(text)), false)
		}
		out[f.Name] = strings.TrimSpace(text[f.Start:f.End])
	}
	return out, nil
}

func parseDelimiter(spec ResponseSpec, text string) (map[string]string, error) {
	delim := spec.Delimiter
	if delim == "" {
		delim = ","
	}
	parts := strings.Split(strings.TrimSpace(text), delim)
	out := make(map[string]string, len(parts))
	for i, p := range parts {
		name := fmt.Sprintf("%d", i)
		if i < len(spec.Names) {
			name = spec.Names[i]
		}
		out[name] = strings.TrimSpace(p)
	}
	return out, nil
}
