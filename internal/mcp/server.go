// Package mcp exposes the generation workflow as MCP tools so coding agents
// can run prelight estimates and generations without the interactive CLI.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/models"
	"github.com/sdetpro/tcgen/internal/session"
	"github.com/sdetpro/tcgen/internal/store"
	"github.com/sdetpro/tcgen/internal/workflow"
)

// Server wraps the API client, workflow, and history store as MCP tools.
type Server struct {
	client *api.Client
	store  store.Store
	intake intake.Config
}

// NewServer creates the MCP server wrapper. The store may be nil; history
// tools then report an error instead of a result.
func NewServer(client *api.Client, s store.Store, cfg intake.Config) *Server {
	return &Server{client: client, store: s, intake: cfg}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tcgen", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.prelightTool())
	srv.AddTool(s.generateTool())
	srv.AddTool(s.listHistoryTool())
	srv.AddTool(s.getGenerationTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// attachImages validates and uploads the given screenshot paths, returning a
// coordinator holding the resulting image session. The caller must call
// Teardown on it once the generation call is done.
func (s *Server) attachImages(ctx context.Context, paths []string) (*session.Coordinator, error) {
	set := intake.NewSet(s.intake)
	accepted, err := set.Add(paths...)
	if err != nil {
		set.Clear()
		return nil, err
	}
	if len(accepted) == 0 {
		set.Clear()
		return nil, fmt.Errorf("none of the given files are images")
	}

	coord := session.NewCoordinator(s.client, set)
	if err := coord.Upload(ctx, accepted); err != nil {
		set.Clear()
		return nil, err
	}
	return coord, nil
}

// splitPaths parses the comma-separated images parameter.
func splitPaths(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tcgen_prelight
func (s *Server) prelightTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tcgen_prelight",
		mcp.WithDescription("Run a cost/feasibility estimate for a JIRA issue key before generating test cases. Returns the estimate as JSON with title, estimated tokens, and estimated cost."),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("JIRA issue key, e.g. SDETPRO-123")),
		mcp.WithString("images", mcp.Description("Comma-separated screenshot paths to upload for OCR context")),
	)
	return tool, s.handlePrelight
}

func (s *Server) handlePrelight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueKey, err := request.RequireString("issue_key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_key"), nil
	}

	var coord *session.Coordinator
	if paths := splitPaths(request.GetString("images", "")); len(paths) > 0 {
		coord, err = s.attachImages(ctx, paths)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to upload images: %v", err)), nil
		}
		defer coord.Teardown()
	}

	var sessions workflow.SessionSource
	if coord != nil {
		sessions = coord
	}
	wf := workflow.New(s.client, sessions)
	wf.SetIssueKey(issueKey)
	est, err := wf.Prelight(ctx)
	if err != nil {
		return mcp.NewToolResultError(workflow.UserMessage(err)), nil
	}

	data, err := json.Marshal(est)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal estimate: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tcgen_generate
func (s *Server) generateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tcgen_generate",
		mcp.WithDescription("Generate test cases for a JIRA issue key. Returns the generated markdown plus generation metadata as JSON, and records the run in local history."),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("JIRA issue key, e.g. SDETPRO-123")),
		mcp.WithString("images", mcp.Description("Comma-separated screenshot paths to upload for OCR context")),
	)
	return tool, s.handleGenerate
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueKey, err := request.RequireString("issue_key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_key"), nil
	}

	var coord *session.Coordinator
	if paths := splitPaths(request.GetString("images", "")); len(paths) > 0 {
		coord, err = s.attachImages(ctx, paths)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to upload images: %v", err)), nil
		}
		defer coord.Teardown()
	}

	var sessions workflow.SessionSource
	if coord != nil {
		sessions = coord
	}
	wf := workflow.New(s.client, sessions)
	wf.SetIssueKey(issueKey)
	result, err := wf.Generate(ctx)
	if err != nil {
		return mcp.NewToolResultError(workflow.UserMessage(err)), nil
	}

	if s.store != nil {
		gen := &models.Generation{
			GenerationID:          result.GenerationID,
			IssueKey:              result.IssueKey,
			Markdown:              result.Markdown,
			GenerationTimeSeconds: result.GenerationTimeSeconds,
			ImagesUsed:            result.ImagesUsed,
		}
		// History is a convenience; a failed save must not hide the result.
		_ = s.store.SaveGeneration(ctx, gen)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tcgen_list_history
func (s *Server) listHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tcgen_list_history",
		mcp.WithDescription("List locally recorded generation runs, newest first. Returns a JSON array with id, issue key, images used, and created_at."),
		mcp.WithString("limit", mcp.Description("Maximum number of entries to return (default 20)")),
	)
	return tool, s.handleListHistory
}

func (s *Server) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no local history store is configured"), nil
	}

	limit := 20
	if v := request.GetString("limit", ""); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			return mcp.NewToolResultError("limit must be a positive integer"), nil
		}
	}

	gens, err := s.store.ListGenerations(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
	}

	type genOut struct {
		ID           string `json:"id"`
		GenerationID string `json:"generation_id"`
		IssueKey     string `json:"issue_key"`
		ImagesUsed   int    `json:"images_used"`
		CreatedAt    string `json:"created_at"`
	}
	out := make([]genOut, len(gens))
	for i, g := range gens {
		out[i] = genOut{
			ID:           g.ID,
			GenerationID: g.GenerationID,
			IssueKey:     g.IssueKey,
			ImagesUsed:   g.ImagesUsed,
			CreatedAt:    g.CreatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tcgen_get_generation
func (s *Server) getGenerationTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tcgen_get_generation",
		mcp.WithDescription("Fetch one recorded generation by local id or server generation id, including the full markdown."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Local ULID or server generation id")),
	)
	return tool, s.handleGetGeneration
}

func (s *Server) handleGetGeneration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no local history store is configured"), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	g, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation not found: %s", id)), nil
	}

	result := map[string]any{
		"id":                      g.ID,
		"generation_id":           g.GenerationID,
		"issue_key":               g.IssueKey,
		"markdown":                g.Markdown,
		"generation_time_seconds": g.GenerationTimeSeconds,
		"images_used":             g.ImagesUsed,
		"created_at":              g.CreatedAt.Format(time.RFC3339),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal generation: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
