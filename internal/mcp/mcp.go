// Package mcp exposes registered programs over the Model Context
// Protocol.
//
// Each program becomes a callable tool (enso_run_<name>), and two
// fixed tools expose the metrics snapshots and stored traces, so an
// MCP-compatible agent can run programs and inspect what happened
// without touching the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/enso/internal/dispatch"
)

// Server wraps the MCP server around the dispatch engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *dispatch.Engine
	logger    *slog.Logger
}

// New creates an MCP server with one tool per registered program plus
// the metrics and trace inspection tools. Programs registered after
// New are not exposed; build the MCP server last.
func New(engine *dispatch.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"enso",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerProgramTools()
	s.registerInspectionTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerProgramTools() {
	for _, info := range s.engine.Registry().List() {
		name := info.Name
		desc := fmt.Sprintf("Run the %q program (model %s)", name, info.Model)
		s.mcpServer.AddTool(
			mcplib.NewTool("enso_run_"+name,
				mcplib.WithDescription(desc),
				mcplib.WithString("inputs", mcplib.Description("Program inputs as a JSON object")),
			),
			s.runHandler(name),
		)
	}
}

func (s *Server) registerInspectionTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("enso_metrics",
			mcplib.WithDescription("Aggregated execution metrics, per program or across all programs"),
			mcplib.WithString("program", mcplib.Description("Limit to a single program")),
		),
		s.handleMetrics,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("enso_trace",
			mcplib.WithDescription("Fetch the stored execution trace for a request"),
			mcplib.WithString("request_id", mcplib.Description("Request UUID"), mcplib.Required()),
		),
		s.handleTrace,
	)
}

func (s *Server) runHandler(program string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		inputs := map[string]any{}
		if raw := request.GetString("inputs", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
				return errorResult(fmt.Sprintf("inputs is not a JSON object: %v", err)), nil
			}
		}

		result, err := s.engine.Execute(ctx, program, inputs)
		if err != nil && result.RequestID == uuid.Nil {
			return errorResult(fmt.Sprintf("execution failed: %v", err)), nil
		}

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
		}
		return textResult(string(data), !result.Success), nil
	}
}

func (s *Server) handleMetrics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var payload any
	if program := request.GetString("program", ""); program != "" {
		payload = s.engine.Metrics().Snapshot(program)
	} else {
		payload = s.engine.Metrics().SnapshotAll()
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal metrics: %v", err)), nil
	}
	return textResult(string(data), false), nil
}

func (s *Server) handleTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	requestID, err := uuid.Parse(request.GetString("request_id", ""))
	if err != nil {
		return errorResult("request_id must be a UUID"), nil
	}

	trace, err := s.engine.ReadTrace(ctx, requestID)
	if err != nil {
		return errorResult(fmt.Sprintf("trace lookup failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal trace: %v", err)), nil
	}
	return textResult(string(data), false), nil
}

func textResult(text string, isError bool) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
		IsError: isError,
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
