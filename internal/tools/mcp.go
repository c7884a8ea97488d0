package tools

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the dispatcher's tools over the Model Context
// Protocol. Every call still flows through Dispatch, so the envelope and
// error normalization are identical to the HTTP surface.
func NewMCPServer(d *Dispatcher, version string) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"kbsearch",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolSearchKnowledgeBase,
		Description: "Search the knowledge base with hybrid vector and lexical retrieval. Answer only from the returned documents when allowedToAnswer is true.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question to search for",
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional metadata filters (source_url, source_type, title); a trailing * matches by prefix",
					"additionalProperties": map[string]interface{}{
						"type": "string",
					},
				},
				"userId": map[string]interface{}{
					"type":        "string",
					"description": "Caller identity for the query ledger",
				},
				"sessionId": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier for the query ledger",
				},
			},
			Required: []string{"query"},
		},
	}, mcpHandler(d, ToolSearchKnowledgeBase))

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolSubmitFeedback,
		Description: "Record a 0-10 quality score for a previous search. The score feeds back into future ranking.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"queryId": map[string]interface{}{
					"type":        "string",
					"description": "The queryId returned by search_knowledge_base",
				},
				"score": map[string]interface{}{
					"type":        "integer",
					"description": "Quality score from 0 (useless) to 10 (perfect)",
				},
				"comment": map[string]interface{}{
					"type":        "string",
					"description": "Optional free-text comment",
				},
				"userId": map[string]interface{}{
					"type":        "string",
					"description": "Caller identity",
				},
			},
			Required: []string{"queryId", "score"},
		},
	}, mcpHandler(d, ToolSubmitFeedback))

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolCICDPrepare,
		Description: "Phase one of a CI/CD data question. Returns cached results when the question matches a known pattern; otherwise returns the schema context needed to generate SQL for query_cicd_execute.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question about deployments or test runs",
				},
				"userId": map[string]interface{}{
					"type":        "string",
					"description": "Caller identity for cache attribution",
				},
			},
			Required: []string{"query"},
		},
	}, mcpHandler(d, ToolCICDPrepare))

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolCICDExecute,
		Description: "Phase two of a CI/CD data question. Executes a generated SELECT statement and, on success, caches its pattern for future prepare calls.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sql": map[string]interface{}{
					"type":        "string",
					"description": "A single SELECT statement against the CI/CD schema",
				},
				"patternKey": map[string]interface{}{
					"type":        "string",
					"description": "The patternKey returned by query_cicd_prepare",
				},
				"confirmCache": map[string]interface{}{
					"type":        "boolean",
					"description": "Set false to skip caching the pattern (default true)",
				},
				"userId": map[string]interface{}{
					"type":        "string",
					"description": "Caller identity for cache attribution",
				},
			},
			Required: []string{"sql"},
		},
	}, mcpHandler(d, ToolCICDExecute))

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolCICDCacheStats,
		Description: "Report pattern cache size, hit rate, and the most used patterns.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, mcpHandler(d, ToolCICDCacheStats))

	mcpServer.AddTool(mcp.Tool{
		Name:        ToolCICDCacheList,
		Description: "List cached CI/CD query patterns with their SQL templates and usage counts.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum entries to return (default 50)",
				},
			},
		},
	}, mcpHandler(d, ToolCICDCacheList))

	return mcpServer
}

func mcpHandler(d *Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := d.Dispatch(ctx, name, Args(request.GetArguments()))
		if result.Error != nil {
			return mcp.NewToolResultError(result.Error.Message), nil
		}
		return mcp.NewToolResultStructuredOnly(result), nil
	}
}

// StreamableHTTPHandler wraps the MCP server for mounting on an HTTP mux.
func StreamableHTTPHandler(mcpServer *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)
}
