package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/myles/internal/backend"
)

// --- mocks ---

type mockBackend struct {
	findRes  *backend.FindResult
	bulkRes  *backend.BulkResult
	searches []string
	err      error

	gotQuery   string
	gotURL     string
	gotNames   []string
	gotBatchID string
}

func (m *mockBackend) Find(_ context.Context, query, pageURL string) (*backend.FindResult, error) {
	m.gotQuery, m.gotURL = query, pageURL
	return m.findRes, m.err
}

func (m *mockBackend) Bulk(_ context.Context, batchID string, names []string, query string) (*backend.BulkResult, error) {
	m.gotBatchID, m.gotNames, m.gotQuery = batchID, names, query
	return m.bulkRes, m.err
}

func (m *mockBackend) SavedSearches(context.Context) ([]string, error) {
	return m.searches, m.err
}

func (m *mockBackend) DownloadURL(filename string) string {
	return "http://localhost:5000/api/direct-download/" + filename
}

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func ptr(f float64) *float64 { return &f }

// --- tests ---

func TestMCPTool_FindContact(t *testing.T) {
	mb := &mockBackend{findRes: &backend.FindResult{
		Text:       "info@geab.se",
		URLs:       []string{"https://geab.se"},
		Confidence: ptr(85),
	}}
	handler := mcpFindContact(MCPDeps{Backend: mb})

	result, err := handler(context.Background(), makeCallToolRequest("find_contact", map[string]interface{}{
		"query": "email for Geab",
		"url":   "https://geab.se/kontakt",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if mb.gotQuery != "email for Geab" || mb.gotURL != "https://geab.se/kontakt" {
		t.Errorf("backend got query=%q url=%q", mb.gotQuery, mb.gotURL)
	}

	var out findContactResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Text != "info@geab.se" || len(out.Sources) != 1 {
		t.Errorf("out = %+v", out)
	}
	if out.Confidence == nil || *out.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", out.Confidence)
	}
}

func TestMCPTool_FindContact_EmptyResult(t *testing.T) {
	handler := mcpFindContact(MCPDeps{Backend: &mockBackend{findRes: &backend.FindResult{}}})
	result, _ := handler(context.Background(), makeCallToolRequest("find_contact", map[string]interface{}{"query": "x"}))

	text := toolText(t, result)
	if !strings.Contains(text, "No information found") || strings.Contains(text, "confidence") {
		t.Errorf("text = %s", text)
	}
	if !strings.Contains(text, `"sources":[]`) {
		t.Errorf("sources should be an empty array: %s", text)
	}
}

func TestMCPTool_FindContact_MissingQuery(t *testing.T) {
	handler := mcpFindContact(MCPDeps{Backend: &mockBackend{}})
	result, err := handler(context.Background(), makeCallToolRequest("find_contact", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestMCPTool_FindContact_BackendError(t *testing.T) {
	mb := &mockBackend{err: &backend.Error{Op: "find", Message: "search engine blocked"}}
	result, _ := mcpFindContact(MCPDeps{Backend: mb})(context.Background(),
		makeCallToolRequest("find_contact", map[string]interface{}{"query": "x"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "search engine blocked") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_BulkSearch(t *testing.T) {
	mb := &mockBackend{bulkRes: &backend.BulkResult{Message: "Processed 2 companies", Filepath: "/srv/results/results_emails.csv"}}
	handler := mcpBulkSearch(MCPDeps{Backend: mb})

	result, err := handler(context.Background(), makeCallToolRequest("bulk_search", map[string]interface{}{
		"companies": []interface{}{"Acme", "Beta"},
		"query":     "emails",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if len(mb.gotNames) != 2 || mb.gotBatchID == "" {
		t.Errorf("backend got names=%v batch=%q", mb.gotNames, mb.gotBatchID)
	}

	var out bulkSearchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.File != "results_emails.csv" {
		t.Errorf("file = %q", out.File)
	}
	if !strings.HasSuffix(out.DownloadURL, "/api/direct-download/results_emails.csv") {
		t.Errorf("download url = %q", out.DownloadURL)
	}
}

func TestMCPTool_BulkSearch_Validation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no query", map[string]interface{}{"companies": []interface{}{"Acme"}}},
		{"no companies", map[string]interface{}{"query": "emails"}},
		{"empty companies", map[string]interface{}{"query": "emails", "companies": []interface{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := &mockBackend{}
			result, _ := mcpBulkSearch(MCPDeps{Backend: mb})(context.Background(), makeCallToolRequest("bulk_search", tt.args))
			if !result.IsError {
				t.Error("expected tool error")
			}
			if mb.gotBatchID != "" {
				t.Error("backend was called")
			}
		})
	}
}

func TestMCPTool_ListSavedSearches(t *testing.T) {
	mb := &mockBackend{searches: []string{"a.csv", "b.csv"}}
	result, _ := mcpListSavedSearches(MCPDeps{Backend: mb})(context.Background(), makeCallToolRequest("list_saved_searches", nil))
	if toolText(t, result) != `["a.csv","b.csv"]` {
		t.Errorf("text = %s", toolText(t, result))
	}

	mb.err = errors.New("connection refused")
	result, _ = mcpListSavedSearches(MCPDeps{Backend: mb})(context.Background(), makeCallToolRequest("list_saved_searches", nil))
	if !result.IsError {
		t.Error("expected tool error")
	}
}

func TestMCPResource_SavedSearches(t *testing.T) {
	mb := &mockBackend{searches: []string{"results_emails.csv"}}
	handler := mcpResourceSavedSearches(MCPDeps{Backend: mb})

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: savedSearchesURI},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != savedSearchesURI || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}
	if !strings.Contains(tc.Text, `"download_url":"http://localhost:5000/api/direct-download/results_emails.csv"`) {
		t.Errorf("text = %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Backend: &mockBackend{}}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
