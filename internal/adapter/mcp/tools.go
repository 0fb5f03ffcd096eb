package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.requestAdviceTool(),
		s.getAdviceStatusTool(),
		s.getTraceTool(),
	)
}

func (s *Server) requestAdviceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("request_advice",
		mcplib.WithDescription("Submit a financial question to the advisory panel; returns correlation and stream session ids"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("The financial question to analyze"),
		),
		mcplib.WithString("account_scope",
			mcplib.Description("Optional account or portfolio scope for the question"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleRequestAdvice,
	}
}

func (s *Server) getAdviceStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_advice_status",
		mcplib.WithDescription("Get the state of an advisory request, including the final decision once available"),
		mcplib.WithString("correlation_id",
			mcplib.Required(),
			mcplib.Description("The correlation ID returned by request_advice"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetAdviceStatus,
	}
}

func (s *Server) getTraceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_trace",
		mcplib.WithDescription("Get the correlated telemetry trace for an advisory request"),
		mcplib.WithString("correlation_id",
			mcplib.Required(),
			mcplib.Description("The correlation ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetTrace,
	}
}

func (s *Server) handleRequestAdvice(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Advisor == nil {
		return mcplib.NewToolResultError("advisor not configured"), nil
	}
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	accountScope, _ := args["account_scope"].(string)

	res, err := s.deps.Advisor.Start(query, accountScope, uuid.NewString())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to start advisory request", err), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetAdviceStatus(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Advisor == nil {
		return mcplib.NewToolResultError("advisor not configured"), nil
	}
	args := req.GetArguments()
	correlationID, ok := args["correlation_id"].(string)
	if !ok || correlationID == "" {
		return mcplib.NewToolResultError("correlation_id is required"), nil
	}
	st, err := s.deps.Advisor.Status(correlationID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get status for %s", correlationID), err,
		), nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal status", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetTrace(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Traces == nil {
		return mcplib.NewToolResultError("trace reader not configured"), nil
	}
	args := req.GetArguments()
	correlationID, ok := args["correlation_id"].(string)
	if !ok || correlationID == "" {
		return mcplib.NewToolResultError("correlation_id is required"), nil
	}
	records, err := s.deps.Traces.GetTrace(ctx, correlationID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get trace for %s", correlationID), err,
		), nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal trace", err), nil
	}
	return toolResultJSON(string(data)), nil
}
