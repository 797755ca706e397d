package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// requiredString returns the trimmed argument, or ok=false when it is absent or blank.
func requiredString(req mcp.CallToolRequest, name string) (string, bool) {
	v, err := req.RequireString(name)
	if err != nil {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
