package tools

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds the shell tools to an MCP server
func RegisterTools(server *mcp.Server, shellTools *ShellTools) {
	// Register execute shell command tool
	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_shell_command",
		Description: "Execute a shell command in a persistent session. The working directory carries over between calls in the same session, so 'cd' works as expected. Commands ending in '&' are launched in the background and return a PID and log file path. Long-running servers (npm start, python -m http.server, docker-compose up) must be run with a trailing '&'. Destructive commands that could damage the OS are blocked.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command": {
					Type:        "string",
					Description: "Shell command to execute. Examples: 'ls -la', 'cd src && go build ./...', 'npm run dev &'.",
				},
				"timeout": {
					Type:        "integer",
					Description: "Optional: Timeout in seconds for foreground commands. Default: 60 seconds. Set to 0 to use the default.",
				},
				"use_sudo": {
					Type:        "boolean",
					Description: "Optional: Run the command with sudo using the configured password. Ignored for background commands.",
				},
				"session": {
					Type:        "string",
					Description: "Optional: Session id. Omit or use 'default' for the shared session, 'new' for a fresh one, or any custom id.",
				},
			},
			Required: []string{"command"},
		},
	}, shellTools.ExecuteCommand)

	// Register list sessions tool
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_shell_sessions",
		Description: "List shell sessions with their current working directory, plus background processes launched by this server.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, shellTools.ListSessions)

	// Register search history tool
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_command_history",
		Description: "Search previously executed commands. All filters are optional and combined with AND. Results are newest first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session": {
					Type:        "string",
					Description: "Optional: Only commands from this session.",
				},
				"command": {
					Type:        "string",
					Description: "Optional: Substring to match in the command text.",
				},
				"output": {
					Type:        "string",
					Description: "Optional: Substring to match in the command output.",
				},
				"status": {
					Type:        "string",
					Description: "Optional: 'Successful' or 'Failed'.",
				},
				"mode": {
					Type:        "string",
					Description: "Optional: 'foreground', 'background' or 'rejected'.",
				},
				"start_time": {
					Type:        "string",
					Description: "Optional: Only commands at or after this RFC 3339 time.",
				},
				"end_time": {
					Type:        "string",
					Description: "Optional: Only commands at or before this RFC 3339 time.",
				},
				"limit": {
					Type:        "integer",
					Description: "Optional: Maximum results. Default: 100. Maximum: 1000.",
				},
			},
		},
	}, shellTools.SearchHistory)

	// Register check background process tool
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_background_process",
		Description: "Check the status of a background process started with a trailing '&' and return the tail of its log file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"process_id": {
					Type:        "string",
					Description: "Process id returned by execute_shell_command.",
				},
			},
			Required: []string{"process_id"},
		},
	}, shellTools.CheckBackgroundProcess)
}
