// Package mcptools exposes the bridge's command executor and bot state as
// MCP tools, so an LLM agent can drive the bot without speaking the bridge
// protocol.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/automcagent/mcbridge/internal/bot"
	"github.com/automcagent/mcbridge/internal/command"
	"github.com/automcagent/mcbridge/internal/protocol"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	executor  *command.Executor
	mcpServer *server.MCPServer
}

func New(executor *command.Executor, version string) *Server {
	s := &Server{executor: executor}
	s.mcpServer = server.NewMCPServer(
		"mcbridge",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Minecraft bot bridge - MCP Interface

AVAILABLE TOOLS:
- get_state: Current bot state (health, food, position, orientation, environment flags, experience)
- send_command: Run a bot action by name with optional JSON params
- list_actions: Actions the bridge currently implements

Unknown actions fail with "Command execution not yet implemented".`),
	)
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_state",
		Description: "Get the bot's current state snapshot",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleGetState)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "send_command",
		Description: "Execute a bot action and return its result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"action": map[string]interface{}{
					"type":        "string",
					"description": "Action name, e.g. get_state",
				},
				"params": map[string]interface{}{
					"type":        "object",
					"description": "Action parameters (optional)",
				},
			},
			Required: []string{"action"},
		},
	}, s.handleSendCommand)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_actions",
		Description: "List the actions the bridge can execute",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListActions)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, ok := bot.Snapshot(s.executor.Session())
	if !ok {
		return mcp.NewToolResultError(command.ErrNotSpawned.Error()), nil
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	action, _ := args["action"].(string)
	if action == "" {
		return mcp.NewToolResultError("action is required"), nil
	}

	var params json.RawMessage
	if p, ok := args["params"]; ok && p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid params: %v", err)), nil
		}
		params = raw
	}

	result := s.executor.Execute(ctx, protocol.Command{
		ID:     "mcp_" + uuid.NewString(),
		Action: action,
		Params: params,
	})
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !result.Success {
		return mcp.NewToolResultError(string(b)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Server) handleListActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actions := s.executor.Registry().Actions()
	if len(actions) == 0 {
		return mcp.NewToolResultText("No actions registered."), nil
	}
	return mcp.NewToolResultText("Actions:\n- " + strings.Join(actions, "\n- ")), nil
}

// ServeHTTP answers JSON-RPC MCP messages sent with POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := s.mcpServer.HandleMessage(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(responseData)
}
