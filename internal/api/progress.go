package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/progress"
)

const maxProgressBodySize = 64 << 10 // 64KB

// Publisher accepts progress notifications, typically a *progress.Hub.
type Publisher interface {
	Publish(n progress.Notification)
}

// NewProgressHandler serves the webhook the backend calls once per company
// it finishes during a bulk search:
//
//	POST /progress  {"company": "Acme", "batch_id": "..."}
//	GET  /health
//
// The body may also be a JSON string or a bare text company name.
func NewProgressHandler(pub Publisher, token string) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))
		r.Post("/progress", handleProgress(pub))
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func handleProgress(pub Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxProgressBodySize+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		if len(body) > maxProgressBodySize {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "body exceeds %d bytes", maxProgressBodySize)
			return
		}

		n, ok := progress.ParseNotification(body)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "company is required")
			return
		}
		if n.BatchID == "" {
			n.BatchID = r.Header.Get(backend.BatchIDHeader)
		}

		pub.Publish(n)
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
	}
}

// Serve runs h on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("progress listener started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Debug("progress listener stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
