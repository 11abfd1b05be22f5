package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/scholar/internal/assistant"
)

const (
	knowledgeResourceURI = "scholar://knowledge"
	summaryResourceURI   = "scholar://history/summary"
)

// NewMCPServer creates an MCP server exposing the assistant and its stores.
func NewMCPServer(deps Deps) *server.MCPServer {
	deps = deps.withDefaults()

	s := server.NewMCPServer(
		"scholar",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scholar: academic study assistant with conversation memory and a knowledge base of explained topics."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the study assistant a question. The exchange is saved to history and explanations are kept in the knowledge base."),
			mcp.WithString("message", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Backend to use: openai, gemini or ollama (default: configured default)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the knowledge base by topic or content (case-insensitive substring match)."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_history",
			mcp.WithDescription("Return the most recent conversation turns, oldest first."),
			mcp.WithNumber("limit", mcp.Description("Number of turns (default 10, max 100)")),
		),
		mcpRecentHistory(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			knowledgeResourceURI,
			"Knowledge Base",
			mcp.WithResourceDescription("All knowledge entries as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceKnowledge(deps),
	)

	s.AddResource(
		mcp.NewResource(
			summaryResourceURI,
			"Conversation Summary",
			mcp.WithResourceDescription("Message counts over the whole history"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}
		model := req.GetString("model", "")

		answer, err := runChat(ctx, deps, message, model)
		if errors.Is(err, assistant.ErrUnknownModel) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func mcpSearchKnowledge(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		b, err := json.Marshal(deps.Knowledge.Search(query))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultRecentLimit)
		if limit <= 0 {
			limit = defaultRecentLimit
		}
		if limit > 100 {
			limit = 100
		}

		b, err := json.Marshal(deps.Memory.Recent(limit))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceKnowledge(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Knowledge.All())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal knowledge: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func mcpResourceSummary(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Memory.Summary())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summary: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
