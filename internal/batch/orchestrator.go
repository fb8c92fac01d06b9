// Package batch runs one bulk search per job and relays the backend's
// per-company progress notifications while the request is outstanding.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/progress"
)

// BulkClient issues the bulk search request.
type BulkClient interface {
	Bulk(ctx context.Context, batchID string, names []string, query string) (*backend.BulkResult, error)
}

// Job describes one bulk search.
type Job struct {
	BatchID string
	Items   []string
	Query   string
}

// Sink receives the outcome of a job. Progress may be called any number of
// times; Done is called exactly once and always last.
type Sink interface {
	Progress(batchID, item string)
	Done(batchID string, res *backend.BulkResult, err error)
}

// Orchestrator owns the progress source for bulk searches.
type Orchestrator struct {
	client BulkClient
	source progress.Source
	logger *slog.Logger
}

// New creates an Orchestrator. A nil source disables progress forwarding.
func New(client BulkClient, source progress.Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, source: source, logger: logger}
}

// Start runs job in the background and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, job Job, sink Sink) {
	go o.Run(ctx, job, sink)
}

// Run subscribes to progress, issues the bulk request and blocks until the
// backend replies or ctx ends. Notifications tagged with a different batch
// ID are dropped; untagged ones are attributed to this job.
func (o *Orchestrator) Run(ctx context.Context, job Job, sink Sink) {
	log := o.logger.With("batch_id", job.BatchID)

	subCtx, stopSub := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if o.source != nil {
		ch, err := o.source.Subscribe(subCtx)
		if err != nil {
			log.Warn("progress unavailable, continuing without it", "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				forward(subCtx, ch, job.BatchID, sink)
			}()
		}
	}

	log.Info("bulk search started", "items", len(job.Items), "query", job.Query)
	res, err := o.client.Bulk(ctx, job.BatchID, job.Items, job.Query)

	stopSub()
	wg.Wait()

	if err != nil {
		log.Warn("bulk search failed", "error", err)
	} else {
		log.Info("bulk search finished", "filepath", res.Filepath)
	}
	sink.Done(job.BatchID, res, err)
}

// forward relays notifications until ctx ends, then flushes whatever was
// already queued so completions reported just before the reply still count.
func forward(ctx context.Context, ch <-chan progress.Notification, batchID string, sink Sink) {
	deliver := func(n progress.Notification) {
		if n.BatchID != "" && n.BatchID != batchID {
			return
		}
		sink.Progress(batchID, n.Item)
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case n, ok := <-ch:
					if !ok {
						return
					}
					deliver(n)
				default:
					return
				}
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			deliver(n)
		}
	}
}
