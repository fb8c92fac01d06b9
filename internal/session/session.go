// Package session runs an interactive chat: one goroutine owns the
// conversation machine and the terminal, everything else reports to it as
// events.
package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/batch"
	"github.com/kalambet/myles/internal/companies"
	"github.com/kalambet/myles/internal/conversation"
	"github.com/kalambet/myles/internal/progress"
	"github.com/kalambet/myles/internal/render"
	"github.com/kalambet/myles/internal/storage"
)

const helpText = `Commands:
  /upload <path>    upload a company list (.txt, .csv or .pdf)
  /searches         list saved bulk search results
  /download <file>  save a result file locally
  /cancel           cancel the running search
  /help             show this help
  /quit             leave the chat
Anything else is sent as a message.
`

const maxTitleLen = 60

var errQuit = errors.New("quit")

// Backend is the contact-finder API used by a chat.
type Backend interface {
	batch.BulkClient
	Downloader
	Find(ctx context.Context, query, pageURL string) (*backend.FindResult, error)
	SavedSearches(ctx context.Context) ([]string, error)
	Upload(ctx context.Context, filename string, content io.Reader) (*backend.UploadResult, error)
}

// Store persists transcripts.
type Store interface {
	CreateSession(sess storage.Session) error
	SetSessionTitle(id, title string) error
	SaveTurn(t storage.Turn) error
	SaveUpload(u storage.Upload) error
}

// Options configures a Session. Backend, In and Out are required.
type Options struct {
	Backend  Backend
	Progress *Progress // nil disables batch progress
	Store    Store     // nil disables history

	In    io.Reader
	Out   io.Writer
	Color bool

	// Loader animates the ray loader while a request is running. It only
	// applies when Out is a terminal.
	Loader         bool
	LoaderInterval time.Duration
	DownloadDir    string

	Logger *slog.Logger
}

// Session is one interactive chat.
type Session struct {
	backend     Backend
	store       Store
	orch        *batch.Orchestrator
	serve       func(ctx context.Context) error
	in          io.Reader
	out         io.Writer
	r           *render.Renderer
	machine     *conversation.Machine
	logger      *slog.Logger
	downloadDir string

	events chan event
	done   chan struct{}

	// Owned by the event loop.
	cancelReq  context.CancelFunc
	uploading  int
	background int
	queue      []string
	closing    bool
	latest     string
	sessionID  string
	titled     bool

	animate        bool
	color          bool
	loaderInterval time.Duration
	loaderStatus   string
	loader         *render.Loader
	stopLoader     func()
}

// New creates a Session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		backend:        opts.Backend,
		store:          opts.Store,
		in:             opts.In,
		out:            opts.Out,
		r:              render.New(opts.Color),
		logger:         logger,
		downloadDir:    opts.DownloadDir,
		events:         make(chan event, 64),
		done:           make(chan struct{}),
		animate:        opts.Loader && render.IsTerminal(opts.Out),
		color:          opts.Color,
		loaderInterval: opts.LoaderInterval,
	}

	var src progress.Source
	if opts.Progress != nil {
		src = opts.Progress.Source
		s.serve = opts.Progress.Serve
		if opts.Progress.Addr != "" {
			logger.Info("accepting progress notifications", "url", "http://"+opts.Progress.Addr+"/progress")
		}
	}
	s.orch = batch.New(opts.Backend, src, logger)
	s.machine = conversation.NewMachine(conversation.WithObserver(observer{s}))
	return s
}

// Run reads input until /quit, end of input or ctx cancellation.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readInput(ctx) })
	if s.serve != nil {
		g.Go(func() error { return s.serve(ctx) })
	}
	g.Go(func() error { return s.loop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// Interrupt cancels the running request, or ends the session when nothing
// is running. It is safe to call from any goroutine.
func (s *Session) Interrupt() {
	s.post(interruptEvent{quit: true})
}

// State returns the conversation state. Only meaningful once Run returned.
func (s *Session) State() conversation.State {
	return s.machine.State()
}

// Turns returns the conversation log. Only meaningful once Run returned.
func (s *Session) Turns() []conversation.Turn {
	return s.machine.Turns()
}

func (s *Session) post(e event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func (s *Session) readInput(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(s.in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			s.post(lineEvent(line))
		case err := <-errc:
			if err != nil {
				s.logger.Warn("reading input", "error", err)
			}
			s.post(inputClosed{})
			return nil
		}
	}
}

func (s *Session) loop(ctx context.Context) error {
	defer close(s.done)
	defer s.shutdown()

	s.print(s.r.Welcome())
	s.fetchSavedSearches(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.events:
			if s.handle(ctx, e) {
				return errQuit
			}
		}
	}
}

func (s *Session) shutdown() {
	if s.cancelReq != nil {
		s.cancelReq()
		s.cancelReq = nil
	}
	s.hideLoader()
}

// handle applies one event and reports whether the session should end.
func (s *Session) handle(ctx context.Context, e event) bool {
	switch e := e.(type) {
	case lineEvent:
		if s.uploading > 0 {
			s.queue = append(s.queue, string(e))
			return false
		}
		if s.handleLine(ctx, string(e)) {
			return true
		}

	case inputClosed:
		s.closing = true

	case interruptEvent:
		if s.cancel(e.quit) {
			return true
		}

	case uploadEvent:
		s.uploading--
		s.onUpload(e)
		for s.uploading == 0 && len(s.queue) > 0 {
			line := s.queue[0]
			s.queue = s.queue[1:]
			if s.handleLine(ctx, line) {
				return true
			}
		}

	case findEvent:
		if s.machine.FindDone(e.res, e.err) {
			s.requestDone()
		}

	case progressEvent:
		s.latest = e.item
		s.machine.Progress(e.batchID, e.item)

	case batchDoneEvent:
		if s.machine.BatchDone(e.batchID, e.res, e.err) {
			s.requestDone()
		}

	case searchesEvent:
		s.background--
		s.onSavedSearches(e)

	case downloadEvent:
		s.background--
		if e.err != nil {
			s.print(s.r.Error("Download failed: " + e.err.Error()))
		} else {
			s.print(s.r.Hint(fmt.Sprintf("Saved %s (%d bytes)", e.path, e.size)))
		}
	}

	return s.closing && s.idle()
}

func (s *Session) idle() bool {
	return !s.machine.State().InFlight() && s.uploading == 0 && s.background == 0 && len(s.queue) == 0
}

func (s *Session) handleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if strings.HasPrefix(text, "/") {
		return s.command(ctx, text)
	}

	eff, err := s.machine.Send(text)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return false
	case errors.Is(err, conversation.ErrBusy):
		s.print(s.r.Error("A search is already running. Use /cancel to stop it."))
		return false
	case err != nil:
		s.print(s.r.Error(err.Error()))
		return false
	}
	s.dispatch(ctx, eff)
	return false
}

func (s *Session) command(ctx context.Context, text string) bool {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		s.print(helpText)
	case "/cancel":
		s.cancel(false)
	case "/searches":
		s.fetchSavedSearches(ctx, true)
	case "/upload":
		switch {
		case arg == "":
			s.print(s.r.Error("usage: /upload <path>"))
		case s.machine.State().InFlight():
			s.print(s.r.Error("A search is already running. Use /cancel to stop it."))
		default:
			s.startUpload(ctx, arg)
		}
	case "/download":
		if arg == "" {
			s.print(s.r.Error("usage: /download <file>"))
			return false
		}
		s.startDownload(ctx, arg)
	default:
		s.print(s.r.Error(fmt.Sprintf("unknown command %s (try /help)", name)))
	}
	return false
}

// cancel stops the running request. With nothing running it reports
// whether the session should end instead.
func (s *Session) cancel(quitIfIdle bool) bool {
	if s.cancelReq != nil {
		s.cancelReq()
		s.print(s.r.Hint("Cancelling..."))
		return false
	}
	if quitIfIdle {
		return true
	}
	s.print(s.r.Hint("Nothing to cancel."))
	return false
}

func (s *Session) dispatch(ctx context.Context, eff conversation.Effect) {
	switch eff.Kind {
	case conversation.EffectFind:
		reqCtx, cancel := context.WithCancel(ctx)
		s.cancelReq = cancel
		go func() {
			res, err := s.backend.Find(reqCtx, eff.Query, "")
			s.post(findEvent{res: res, err: err})
		}()

	case conversation.EffectBatch:
		reqCtx, cancel := context.WithCancel(ctx)
		s.cancelReq = cancel
		s.latest = ""
		s.orch.Start(reqCtx, batch.Job{BatchID: eff.BatchID, Items: eff.Items, Query: eff.Query}, sink{s})
	}
}

func (s *Session) requestDone() {
	if s.cancelReq != nil {
		s.cancelReq()
		s.cancelReq = nil
	}
}

func (s *Session) startUpload(ctx context.Context, path string) {
	s.uploading++
	s.print(s.r.Hint("Uploading " + filepath.Base(path) + "..."))
	go func() {
		u, err := companies.PrepareUpload(path)
		if err != nil {
			s.post(uploadEvent{outcome: conversation.UploadOutcome{Filename: filepath.Base(path), Err: err}})
			return
		}
		res, err := s.backend.Upload(ctx, u.Name, bytes.NewReader(u.Data))
		s.post(uploadEvent{
			outcome: conversation.UploadOutcome{Filename: u.Name, Result: res, Err: err},
			size:    int64(len(u.Data)),
		})
	}()
}

func (s *Session) onUpload(e uploadEvent) {
	if err := s.machine.Upload(e.outcome); err != nil {
		s.print(s.r.Error(err.Error()))
		return
	}
	if e.outcome.Err != nil || s.store == nil {
		return
	}

	now := time.Now().UTC()
	if !s.ensureSession(now, "") {
		return
	}
	var count int
	if e.outcome.Result != nil {
		count = len(e.outcome.Result.Companies)
	}
	err := s.store.SaveUpload(storage.Upload{
		ID:        uuid.NewString(),
		SessionID: s.sessionID,
		Filename:  e.outcome.Filename,
		SizeBytes: e.size,
		Companies: count,
		CreatedAt: now,
	})
	if err != nil {
		s.logger.Warn("recording upload", "error", err)
	}
}

func (s *Session) fetchSavedSearches(ctx context.Context, explicit bool) {
	s.background++
	go func() {
		names, err := s.backend.SavedSearches(ctx)
		s.post(searchesEvent{names: names, err: err, explicit: explicit})
	}()
}

func (s *Session) onSavedSearches(e searchesEvent) {
	switch {
	case e.err != nil && e.explicit:
		s.print(s.r.Error("Could not load saved searches: " + e.err.Error()))
	case e.err != nil:
		s.logger.Debug("loading saved searches", "error", e.err)
	case len(e.names) == 0:
		if e.explicit {
			s.print(s.r.Hint("No saved searches."))
		}
	default:
		var b strings.Builder
		b.WriteString("Saved searches:\n")
		for _, n := range e.names {
			fmt.Fprintf(&b, "  - %s\n", n)
		}
		s.print(b.String())
		s.print(s.r.Hint("Use /download <file> to save one."))
	}
}

func (s *Session) startDownload(ctx context.Context, filename string) {
	s.background++
	go func() {
		path, n, err := DownloadTo(ctx, s.backend, s.downloadDir, filename)
		s.post(downloadEvent{path: path, size: n, err: err})
	}()
}

// print writes text above the loader, redrawing the loader afterwards.
func (s *Session) print(text string) {
	if s.stopLoader == nil {
		fmt.Fprint(s.out, text)
		return
	}
	status := s.loaderStatus
	s.hideLoader()
	fmt.Fprint(s.out, text)
	s.showLoader(status)
}

func (s *Session) showLoader(status string) {
	s.loaderStatus = status
	if !s.animate {
		return
	}
	l := render.NewLoader(s.loaderInterval, s.color)
	l.SetStatus(status)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, s.out)
		close(done)
	}()
	s.loader = l
	s.stopLoader = func() {
		cancel()
		<-done
	}
}

func (s *Session) hideLoader() {
	if s.stopLoader != nil {
		s.stopLoader()
		s.stopLoader = nil
		s.loader = nil
	}
}

func (s *Session) setLoaderStatus(status string) {
	s.loaderStatus = status
	if s.loader == nil {
		fmt.Fprintln(s.out, status)
		return
	}
	s.loader.SetStatus(status)
}

func (s *Session) ensureSession(createdAt time.Time, title string) bool {
	if s.sessionID != "" {
		if title != "" && !s.titled {
			if err := s.store.SetSessionTitle(s.sessionID, title); err != nil {
				s.logger.Warn("setting session title", "error", err)
			}
			s.titled = true
		}
		return true
	}

	id := uuid.NewString()
	if err := s.store.CreateSession(storage.Session{ID: id, CreatedAt: createdAt, Title: title}); err != nil {
		s.logger.Warn("creating session", "error", err)
		return false
	}
	s.sessionID = id
	s.titled = title != ""
	s.logger.Debug("session created", "session_id", id)
	return true
}

func (s *Session) persist(t conversation.Turn) {
	if s.store == nil {
		return
	}
	var title string
	if t.Role == conversation.RoleUser {
		title = sessionTitle(t.Text)
	}
	if !s.ensureSession(t.CreatedAt, title) {
		return
	}
	err := s.store.SaveTurn(storage.Turn{
		ID:          t.ID,
		SessionID:   s.sessionID,
		Role:        string(t.Role),
		Text:        t.Text,
		SourceLinks: t.SourceLinks,
		Items:       t.Items,
		ResultFile:  t.ResultFile,
		Confidence:  t.Confidence,
		CreatedAt:   t.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("saving turn", "error", err)
	}
}

func sessionTitle(text string) string {
	text, _, _ = strings.Cut(strings.TrimSpace(text), "\n")
	if utf8.RuneCountInString(text) <= maxTitleLen {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:maxTitleLen-3])) + "..."
}
