package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is where the contact-finder backend listens by default.
	DefaultBaseURL     = "http://localhost:5000"
	defaultFindTimeout = 2 * time.Minute
	defaultBulkTimeout = 60 * time.Minute
	defaultTimeout     = 30 * time.Second
	maxResponseSize    = 10 << 20 // 10MB

	// BatchIDHeader carries the client's batch ID on bulk requests so the
	// backend can tag its progress notifications.
	BatchIDHeader = "X-Batch-ID"
)

// Client talks to the contact-finder backend over HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	findTimeout time.Duration
	bulkTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets per-request deadlines for find and bulk calls.
// A non-positive value disables the deadline for that call.
func WithTimeouts(find, bulk time.Duration) Option {
	return func(c *Client) {
		c.findTimeout = find
		c.bulkTimeout = bulk
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Deadlines are applied per call through the request context; a
		// client-wide timeout would cap long bulk searches.
		httpClient:  &http.Client{},
		findTimeout: defaultFindTimeout,
		bulkTimeout: defaultBulkTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DownloadURL returns the direct-download link for a result file.
func (c *Client) DownloadURL(filename string) string {
	return c.baseURL + "/api/direct-download/" + url.PathEscape(filename)
}

// Find runs a single contact search. When pageURL is non-empty the backend
// deep-scrapes that page instead of searching.
func (c *Client) Find(ctx context.Context, query, pageURL string) (*FindResult, error) {
	req := FindRequest{Query: query, Evaluate: true}
	if pageURL != "" {
		req.URL = &pageURL
	}

	ctx, cancel := withTimeout(ctx, c.findTimeout)
	defer cancel()

	var resp findResponse
	if err := c.postJSON(ctx, "find", "/api/find", req, nil, &resp); err != nil {
		return nil, err
	}
	return resp.result(), nil
}

// Bulk runs one search over many company names. It blocks until the backend
// has processed every name, which can take a long time.
func (c *Client) Bulk(ctx context.Context, batchID string, names []string, query string) (*BulkResult, error) {
	if names == nil {
		names = []string{}
	}
	ctx, cancel := withTimeout(ctx, c.bulkTimeout)
	defer cancel()

	header := http.Header{}
	if batchID != "" {
		header.Set(BatchIDHeader, batchID)
	}

	var resp bulkResponse
	if err := c.postJSON(ctx, "bulk", "/api/bulk", BulkRequest{Names: names, Query: query}, header, &resp); err != nil {
		return nil, err
	}
	return &BulkResult{Message: resp.Message, Filepath: resp.Filepath}, nil
}

// SavedSearches lists result files already stored on the backend.
func (c *Client) SavedSearches(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, defaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/saved-searches", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var resp savedSearchesResponse
	if err := c.do(httpReq, "saved-searches", &resp); err != nil {
		return nil, err
	}
	if resp.Searches == nil {
		return []string{}, nil
	}
	return resp.Searches, nil
}

// Upload sends a file as multipart field "file".
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	ctx, cancel := withTimeout(ctx, defaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.do(httpReq, "upload", &resp); err != nil {
		return nil, err
	}
	return &UploadResult{Message: resp.Message, Companies: resp.Companies}, nil
}

// Download streams a saved result file into w and returns the file name the
// server suggested (or filename when it suggested none).
func (c *Client) Download(ctx context.Context, filename string, w io.Writer) (string, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(filename), nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, &TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	isJSON := strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
	if resp.StatusCode >= 300 || isJSON {
		var env envelope
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			return "", 0, &Error{Op: "download", Status: resp.StatusCode, Message: env.Error}
		}
		return "", 0, &Error{Op: "download", Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	name := filename
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if fn := params["filename"]; fn != "" {
			name = filepath.Base(fn)
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return name, n, &TransportError{Op: "download", Err: err}
	}
	return name, n, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any, header http.Header, out outcomer) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return c.do(httpReq, op, out)
}

// do executes req and decodes the JSON envelope into out. The backend reports
// failures in the body even on error statuses, so the body is decoded first
// and the status only matters when it cannot be.
func (c *Client) do(req *http.Request, op string, out outcomer) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	c.logger.Debug("backend call", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 400 {
			return &Error{Op: op, Status: resp.StatusCode}
		}
		return &Error{Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("unexpected response: %v", err)}
	}

	env := out.outcome()
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
