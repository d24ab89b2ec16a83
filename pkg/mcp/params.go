package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseActionInput turns the free-form ActionInput text a ReAct response
// carries into the structured arguments a tool call needs. LLMs emit
// anything from strict JSON to loose "key: value" lines, so parsing is a
// cascade — the first format that fits wins:
//
//  1. JSON object, or any other JSON value wrapped as {"input": value}
//  2. YAML, accepted only when it carries real structure (arrays/nesting)
//  3. "key: value" / "key=value" pairs split on commas and newlines
//  4. the raw string as {"input": string}
//
// Empty input maps to an empty argument set for zero-parameter tools.
func ParseActionInput(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}, nil
	}

	if args, ok := parseJSONInput(input); ok {
		return args, nil
	}
	if args, ok := parseYAMLInput(input); ok {
		return args, nil
	}
	if args, ok := parseKeyValueList(input); ok {
		return args, nil
	}
	return map[string]any{"input": input}, nil
}

// parseJSONInput accepts any valid JSON document. Objects become the
// argument map directly; every other value kind (array, string, number,
// bool, null) is wrapped under "input". A cheap first-byte check skips the
// unmarshal for text that can't possibly be JSON.
func parseJSONInput(input string) (map[string]any, bool) {
	switch input[0] {
	case '{', '[', '"', '-', 't', 'f', 'n',
		'0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(input), &value); err != nil {
		return nil, false
	}
	if args, ok := value.(map[string]any); ok {
		return args, true
	}
	return map[string]any{"input": value}, true
}

// parseYAMLInput accepts YAML only when the result contains an array or a
// nested map somewhere. Flat "key: value" text is left for the key-value
// parser — almost any prose with a colon unmarshals as trivial YAML, and
// treating it as such produces garbage arguments.
func parseYAMLInput(input string) (map[string]any, bool) {
	var args map[string]any
	if err := yaml.Unmarshal([]byte(input), &args); err != nil || len(args) == 0 {
		return nil, false
	}
	for _, v := range args {
		switch v.(type) {
		case []any, map[string]any:
			return args, true
		}
	}
	return nil, false
}

// parseKeyValueList accepts "key: value" or "key=value" pairs separated by
// commas or newlines. All pairs must parse, or the whole input is rejected
// and falls through to the raw-string fallback — values that themselves
// contain commas mis-split here, and wrapping the raw text loses structure
// but never corrupts it.
func parseKeyValueList(input string) (map[string]any, bool) {
	args := make(map[string]any)
	for _, part := range strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		args[key] = coerceScalar(value)
	}
	if len(args) == 0 {
		return nil, false
	}
	return args, true
}

// splitPair splits one "key: value" (or "key=value") pair. The key must be
// a bare identifier — a key with spaces means this isn't key-value text.
func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		idx := strings.Index(part, sep)
		if idx <= 0 {
			continue
		}
		key = strings.TrimSpace(part[:idx])
		if key == "" || strings.Contains(key, " ") {
			continue
		}
		return key, strings.TrimSpace(part[idx+1:]), true
	}
	return "", "", false
}

// coerceScalar converts a bare string value to the JSON-ish type it reads
// as: bool, null ("null"/"none"), int, then float. NaN and infinities stay
// strings — they aren't representable in the JSON arguments a tool gets.
func coerceScalar(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
