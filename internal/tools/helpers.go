package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// validateSessionID accepts "", "default", "new" or a custom id made of
// letters, digits, dots, hyphens and underscores
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if len(sessionID) > MaxSessionIDLength {
		return fmt.Errorf("session cannot exceed %d characters", MaxSessionIDLength)
	}

	if !validSessionID.MatchString(sessionID) {
		return fmt.Errorf("session can only contain letters, numbers, dots, hyphens, and underscores")
	}

	return nil
}

// clampLimit applies the default and maximum search limits
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// parseTimeFilter parses an optional RFC 3339 timestamp
func parseTimeFilter(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format. Use ISO 8601 format: %s. Example: %s",
			name, time.RFC3339, time.Now().Add(-24*time.Hour).Format(time.RFC3339))
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// createJSONResult creates a JSON result for tool responses
func createJSONResult(data interface{}) *mcp.CallToolResult {
	resultJSON, _ := json.MarshalIndent(data, "", "  ")
	content := []mcp.Content{
		&mcp.TextContent{
			Text: string(resultJSON),
		},
	}

	return &mcp.CallToolResult{
		Content: content,
		IsError: false,
	}
}

// createErrorResult creates an error result for tool responses
func createErrorResult(message string) *mcp.CallToolResult {
	content := []mcp.Content{
		&mcp.TextContent{
			Text: fmt.Sprintf("Error: %s", message),
		},
	}

	return &mcp.CallToolResult{
		Content: content,
		IsError: true,
	}
}
