package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// Tool names travel in two spellings: "server.tool" in ReAct text, and
// "server__tool" where the provider forbids dots in function names (Gemini).
// Routing always works on the canonical dotted form.
var toolNamePattern = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName maps the double-underscore spelling back to the
// canonical "server.tool" form. Names already carrying a dot pass through.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName breaks a canonical "server.tool" name into its server id
// and tool name, rejecting anything that doesn't match the strict pattern
// (word characters and hyphens on both sides of a single dot).
func SplitToolName(name string) (serverID, toolName string, err error) {
	parts := toolNamePattern.FindStringSubmatch(name)
	if parts == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'kubernetes-server.get_pods')", name)
	}
	return parts[1], parts[2], nil
}
