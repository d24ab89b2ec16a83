package config

import (
	"os"
	"strings"
)

// ExpandEnv substitutes {{.VAR}} tokens in raw YAML with environment
// variable values before parsing, so configuration files carry secrets by
// reference:
//
//	api_key: {{.GOOGLE_API_KEY}}
//
// Only the exact two-brace form with a valid variable name expands. Shell
// syntax ($VAR, ${VAR}), regex dollars, and malformed or nested template
// text all pass through untouched — masking patterns and literal template
// snippets in configuration must survive the pass. Unset variables expand
// to the empty string; validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	s := string(data)
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "{{.")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])

		name, end, ok := matchVarToken(s, start)
		if !ok {
			out.WriteByte(s[start])
			i = start + 1
			continue
		}
		out.WriteString(os.Getenv(name))
		i = end
	}

	return []byte(out.String())
}

// matchVarToken reports whether s[start:] begins a clean {{.NAME}} token: a
// valid variable name, closed by exactly two braces, not embedded in a
// longer brace run on either side.
func matchVarToken(s string, start int) (name string, end int, ok bool) {
	if start > 0 && s[start-1] == '{' {
		return "", 0, false
	}
	nameStart := start + 3
	k := nameStart
	for k < len(s) && isVarNameChar(s[k]) {
		k++
	}
	if k == nameStart || k+1 >= len(s) || s[k] != '}' || s[k+1] != '}' {
		return "", 0, false
	}
	if k+2 < len(s) && s[k+2] == '}' {
		return "", 0, false
	}
	return s[nameStart:k], k + 2, true
}

func isVarNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
