package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/config"
	"github.com/kalambet/myles/internal/conversation"
	"github.com/kalambet/myles/internal/progress"
	"github.com/kalambet/myles/internal/storage"
)

// syncBuffer is an io.Writer safe for the loop and test goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeFinder is an httptest contact-finder backend. Handlers left nil
// answer with a generic success.
type fakeFinder struct {
	find  http.HandlerFunc
	bulk  http.HandlerFunc
	saved []string
}

func (f *fakeFinder) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/find", func(w http.ResponseWriter, r *http.Request) {
		if f.find != nil {
			f.find(w, r)
			return
		}
		reply(w, `{"success":true,"results":{"text":"nothing special","urls":[]}}`)
	})
	mux.HandleFunc("POST /api/bulk", func(w http.ResponseWriter, r *http.Request) {
		if f.bulk != nil {
			f.bulk(w, r)
			return
		}
		reply(w, `{"success":true,"message":"done","filepath":"/tmp/results.csv"}`)
	})
	mux.HandleFunc("GET /api/saved-searches", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "searches": append([]string{}, f.saved...)})
	})
	mux.HandleFunc("POST /api/upload", func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		resp := map[string]any{"success": true, "message": "File " + hdr.Filename + " uploaded"}
		if strings.HasSuffix(hdr.Filename, ".txt") {
			var names []string
			for _, l := range strings.Split(string(data), "\n") {
				if l = strings.TrimSpace(l); l != "" {
					names = append(names, l)
				}
			}
			resp["companies"] = names
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /api/direct-download/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+r.PathValue("name")+`"`)
		io.WriteString(w, "company,email\nAcme,info@acme.example\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

type harness struct {
	session *Session
	out     *syncBuffer
	store   *storage.Store
	hub     *progress.Hub
}

func newHarness(t *testing.T, f *fakeFinder, input io.Reader) *harness {
	t.Helper()
	srv := f.server(t)

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{out: &syncBuffer{}, store: store, hub: progress.NewHub()}
	h.session = New(Options{
		Backend:     backend.New(srv.URL),
		Progress:    &Progress{Source: h.hub},
		Store:       store,
		In:          input,
		Out:         h.out,
		DownloadDir: t.TempDir(),
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.session.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Run did not finish on its own:\n%s", h.out.String())
	}
}

func TestSingleQuery(t *testing.T) {
	f := &fakeFinder{find: func(w http.ResponseWriter, r *http.Request) {
		var req backend.FindRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "Find contact info for Geab" {
			t.Errorf("query = %q", req.Query)
		}
		reply(w, `{"success":true,"results":{"text":"info@geab.se","urls":["https://geab.se"],"evaluation":{"confidence":85}}}`)
	}}
	h := newHarness(t, f, strings.NewReader("Find contact info for Geab\n"))
	h.run(t)

	out := h.out.String()
	for _, want := range []string{"Searching for information...", "info@geab.se", "Confidence Rating: 0.9", "- https://geab.se"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if h.session.State() != conversation.Idle {
		t.Errorf("state = %v, want idle", h.session.State())
	}
	turns := h.session.Turns()
	if len(turns) != 2 || turns[1].Loading {
		t.Fatalf("turns = %+v", turns)
	}

	sessions, err := h.store.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Find contact info for Geab" || sessions[0].TurnCount != 2 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestBatchFlowWithProgress(t *testing.T) {
	list := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(list, []byte("Acme\nBeta\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var h *harness
	f := &fakeFinder{bulk: func(w http.ResponseWriter, r *http.Request) {
		var req backend.BulkRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "emails" || len(req.Names) != 2 {
			t.Errorf("bulk request = %+v", req)
		}
		id := r.Header.Get(backend.BatchIDHeader)
		if id == "" {
			t.Error("missing batch id header")
		}
		h.hub.Publish(progress.Notification{BatchID: "stale", Item: "Beta"})
		h.hub.Publish(progress.Notification{BatchID: id, Item: "Acme"})
		h.hub.Publish(progress.Notification{Item: "Beta"})
		reply(w, `{"success":true,"message":"Results saved.","filepath":"/tmp/results_emails.csv"}`)
	}}
	h = newHarness(t, f, strings.NewReader("/upload "+list+"\nemails\n"))
	h.run(t)

	out := h.out.String()
	for _, want := range []string{
		"Found 2 companies in the file.",
		`Searching for "emails" across 2 companies...`,
		"[1/2] ✓ Acme",
		"[2/2] ✓ Beta",
		"Bulk search completed! Results saved.",
		"Download Results CSV: myles download results_emails.csv",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if h.session.State() != conversation.Idle {
		t.Errorf("state = %v", h.session.State())
	}
	turns := h.session.Turns()
	last := turns[len(turns)-1]
	if last.ResultFile != "results_emails.csv" {
		t.Errorf("result file = %q", last.ResultFile)
	}

	uploads, err := h.store.ListUploads(10)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 1 || uploads[0].Filename != "list.txt" || uploads[0].Companies != 2 {
		t.Errorf("uploads = %+v", uploads)
	}
}

func TestBusyAndCancel(t *testing.T) {
	f := &fakeFinder{find: func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}}
	h := newHarness(t, f, strings.NewReader("first\nsecond\n/cancel\n"))
	h.run(t)

	out := h.out.String()
	for _, want := range []string{"A search is already running", "Cancelling...", "An error occurred:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if h.session.State() != conversation.Idle {
		t.Errorf("state = %v", h.session.State())
	}
	for _, turn := range h.session.Turns() {
		if turn.Text == "second" {
			t.Error("busy message was added to the log")
		}
	}
}

func TestInterruptWhenIdleQuits(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	h := newHarness(t, &fakeFinder{}, pr)

	done := make(chan error, 1)
	go func() { done <- h.session.Run(context.Background()) }()
	h.session.Interrupt()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Interrupt")
	}
}

func TestCommands(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(notes, []byte("# notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := &fakeFinder{saved: []string{"results_emails.csv"}}
	h := newHarness(t, f, strings.NewReader(strings.Join([]string{
		"/help",
		"/bogus",
		"/upload",
		"/cancel",
		"/upload " + notes,
		"/searches",
		"/download results_emails.csv",
		"   ",
	}, "\n")+"\n"))
	h.run(t)

	out := h.out.String()
	for _, want := range []string{
		"Commands:",
		"unknown command /bogus",
		"usage: /upload <path>",
		"Nothing to cancel.",
		"File uploaded successfully: File notes.md uploaded",
		"Saved searches:\n  - results_emails.csv\n",
		"results_emails.csv (",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if h.session.State() != conversation.Idle {
		t.Errorf("state = %v", h.session.State())
	}
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t, &fakeFinder{}, strings.NewReader("/upload /does/not/exist.txt\n"))
	h.run(t)
	if out := h.out.String(); !strings.Contains(out, "Error uploading file:") {
		t.Errorf("output missing upload error:\n%s", out)
	}
}

func TestQuitStopsInFlight(t *testing.T) {
	f := &fakeFinder{find: func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}}
	h := newHarness(t, f, strings.NewReader("slow query\n/quit\n"))
	h.run(t)
	if h.session.State() != conversation.SingleQueryInFlight {
		t.Errorf("state = %v, want the query still marked in flight", h.session.State())
	}
}

func TestDownloadTo(t *testing.T) {
	srv := (&fakeFinder{}).server(t)
	dir := filepath.Join(t.TempDir(), "downloads")

	path, n, err := DownloadTo(context.Background(), backend.New(srv.URL), dir, "results_emails.csv")
	if err != nil {
		t.Fatalf("DownloadTo: %v", err)
	}
	if path != filepath.Join(dir, "results_emails.csv") {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != n || !strings.HasPrefix(string(data), "company,email") {
		t.Errorf("saved %d bytes: %q", n, data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("download dir has %d entries, want 1", len(entries))
	}
}

func TestOpenProgressHTTP(t *testing.T) {
	p, err := OpenProgress(config.ProgressConfig{Mode: config.ProgressHTTP, ListenAddr: "127.0.0.1:0", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("OpenProgress: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := p.Source.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- p.Serve(ctx) }()

	req, _ := http.NewRequest(http.MethodPost, "http://"+p.Addr+"/progress", strings.NewReader(`{"company":"Acme","batch_id":"b1"}`))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("posting progress: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	select {
	case n := <-ch:
		if n.Item != "Acme" || n.BatchID != "b1" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}

	cancel()
	if err := <-served; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestOpenProgressNone(t *testing.T) {
	p, err := OpenProgress(config.ProgressConfig{Mode: config.ProgressNone}, nil)
	if err != nil {
		t.Fatalf("OpenProgress: %v", err)
	}
	if p.Serve != nil || p.Source == nil {
		t.Errorf("progress = %+v", p)
	}
}

func TestSessionTitle(t *testing.T) {
	long := strings.Repeat("word ", 30)
	tests := []struct {
		in, want string
	}{
		{"  Find Geab  ", "Find Geab"},
		{"first line\nsecond", "first line"},
		{long, strings.TrimSpace(long[:57]) + "..."},
	}
	for _, tt := range tests {
		if got := sessionTitle(tt.in); got != tt.want {
			t.Errorf("sessionTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
