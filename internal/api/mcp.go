package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/conversation"
)

// MCPBackend is the part of the backend client the MCP tools use.
type MCPBackend interface {
	Find(ctx context.Context, query, pageURL string) (*backend.FindResult, error)
	Bulk(ctx context.Context, batchID string, names []string, query string) (*backend.BulkResult, error)
	SavedSearches(ctx context.Context) ([]string, error)
	DownloadURL(filename string) string
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Backend MCPBackend
	Version string
}

const savedSearchesURI = "myles://saved-searches"

// NewMCPServer creates an MCP server exposing the contact finder as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"myles",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("myles finds contact information for companies: single lookups, bulk searches over company lists, and saved result files."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_contact",
			mcp.WithDescription("Search the web for contact information matching a natural-language query."),
			mcp.WithString("query", mcp.Description("What to find, e.g. \"email for Geab AB\""), mcp.Required()),
			mcp.WithString("url", mcp.Description("Optional page to scrape instead of searching")),
		),
		mcpFindContact(deps),
	)

	s.AddTool(
		mcp.NewTool("bulk_search",
			mcp.WithDescription("Run one query across many companies and store the results as a CSV file."),
			mcp.WithArray("companies", mcp.Description("Company names"), mcp.Required()),
			mcp.WithString("query", mcp.Description("What to find for each company"), mcp.Required()),
		),
		mcpBulkSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("list_saved_searches",
			mcp.WithDescription("List result files from earlier bulk searches."),
		),
		mcpListSavedSearches(deps),
	)

	s.AddResource(
		mcp.NewResource(
			savedSearchesURI,
			"Saved Searches",
			mcp.WithResourceDescription("Result files stored on the backend, with download links"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSavedSearches(deps),
	)

	return s
}

type findContactResult struct {
	Text       string   `json:"text"`
	Sources    []string `json:"sources"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func mcpFindContact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		pageURL := req.GetString("url", "")

		res, err := deps.Backend.Find(ctx, query, pageURL)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		out := findContactResult{Text: res.Text, Sources: res.URLs}
		if out.Text == "" {
			out.Text = "No information found"
		}
		if out.Sources == nil {
			out.Sources = []string{}
		}
		if res.Confidence != nil {
			c := conversation.RescaleConfidence(*res.Confidence)
			out.Confidence = &c
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type bulkSearchResult struct {
	Message     string `json:"message"`
	File        string `json:"file,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func mcpBulkSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		companies := req.GetStringSlice("companies", nil)
		if len(companies) == 0 {
			return mcpError("companies must be a non-empty array of names"), nil
		}

		res, err := deps.Backend.Bulk(ctx, uuid.NewString(), companies, query)
		if err != nil {
			return mcpError(fmt.Sprintf("bulk search failed: %v", err)), nil
		}

		out := bulkSearchResult{Message: res.Message}
		if name := conversation.ResultFileName(res.Filepath); name != "" {
			out.File = name
			out.DownloadURL = deps.Backend.DownloadURL(name)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSavedSearches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		searches, err := deps.Backend.SavedSearches(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing saved searches failed: %v", err)), nil
		}
		b, err := json.Marshal(searches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal searches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSavedSearches(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		searches, err := deps.Backend.SavedSearches(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list saved searches: %w", err)
		}

		type savedSearch struct {
			File        string `json:"file"`
			DownloadURL string `json:"download_url"`
		}
		entries := make([]savedSearch, len(searches))
		for i, name := range searches {
			entries[i] = savedSearch{File: name, DownloadURL: deps.Backend.DownloadURL(name)}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal saved searches: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
