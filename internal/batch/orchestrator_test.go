package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/progress"
)

type fakeBulk struct {
	fn func(ctx context.Context, batchID string, names []string, query string) (*backend.BulkResult, error)
}

func (f *fakeBulk) Bulk(ctx context.Context, batchID string, names []string, query string) (*backend.BulkResult, error) {
	return f.fn(ctx, batchID, names, query)
}

type recordingSink struct {
	mu       sync.Mutex
	progress []string
	dones    int
	doneErr  error
	doneRes  *backend.BulkResult
	seen     chan string
	finished chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{seen: make(chan string, 16), finished: make(chan struct{})}
}

func (s *recordingSink) Progress(batchID, item string) {
	s.mu.Lock()
	s.progress = append(s.progress, batchID+"/"+item)
	s.mu.Unlock()
	s.seen <- item
}

func (s *recordingSink) Done(batchID string, res *backend.BulkResult, err error) {
	s.mu.Lock()
	s.dones++
	s.doneRes = res
	s.doneErr = err
	s.mu.Unlock()
	close(s.finished)
}

type failingSource struct{}

func (failingSource) Subscribe(context.Context) (<-chan progress.Notification, error) {
	return nil, errors.New("listener down")
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("progress item = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for progress %q", want)
	}
}

func TestRunForwardsProgress(t *testing.T) {
	hub := progress.NewHub()
	sink := newSink()

	client := &fakeBulk{fn: func(ctx context.Context, batchID string, names []string, query string) (*backend.BulkResult, error) {
		if batchID != "b1" || query != "emails" || len(names) != 2 {
			t.Errorf("Bulk(%q, %v, %q)", batchID, names, query)
		}
		hub.Publish(progress.Notification{Item: "Acme"})
		waitFor(t, sink.seen, "Acme")
		hub.Publish(progress.Notification{BatchID: "other", Item: "Beta"})
		hub.Publish(progress.Notification{BatchID: "b1", Item: "Beta"})
		waitFor(t, sink.seen, "Beta")
		return &backend.BulkResult{Message: "ok", Filepath: "/tmp/results_emails.csv"}, nil
	}}

	New(client, hub, nil).Run(context.Background(), Job{BatchID: "b1", Items: []string{"Acme", "Beta"}, Query: "emails"}, sink)

	if sink.dones != 1 {
		t.Fatalf("Done called %d times, want 1", sink.dones)
	}
	if sink.doneErr != nil || sink.doneRes == nil || sink.doneRes.Filepath != "/tmp/results_emails.csv" {
		t.Errorf("Done(%+v, %v)", sink.doneRes, sink.doneErr)
	}
	if len(sink.progress) != 2 || sink.progress[0] != "b1/Acme" || sink.progress[1] != "b1/Beta" {
		t.Errorf("progress = %v", sink.progress)
	}
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Subscribers() != 0 {
		t.Error("subscription leaked after Run")
	}
}

func TestRunSubscribesBeforeRequest(t *testing.T) {
	hub := progress.NewHub()
	sink := newSink()
	client := &fakeBulk{fn: func(context.Context, string, []string, string) (*backend.BulkResult, error) {
		if hub.Subscribers() != 1 {
			t.Errorf("subscribers at request time = %d, want 1", hub.Subscribers())
		}
		return &backend.BulkResult{}, nil
	}}
	New(client, hub, nil).Run(context.Background(), Job{BatchID: "b"}, sink)
}

func TestRunFailureStillCallsDone(t *testing.T) {
	tests := []struct {
		name   string
		source progress.Source
		err    error
	}{
		{"backend error", progress.NewHub(), &backend.Error{Op: "bulk", Message: "driver crashed"}},
		{"transport error", progress.NewHub(), &backend.TransportError{Op: "bulk", Err: errors.New("refused")}},
		{"subscribe failure", failingSource{}, nil},
		{"no source", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newSink()
			client := &fakeBulk{fn: func(context.Context, string, []string, string) (*backend.BulkResult, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &backend.BulkResult{Message: "done"}, nil
			}}
			New(client, tt.source, nil).Run(context.Background(), Job{BatchID: "b"}, sink)

			if sink.dones != 1 {
				t.Fatalf("Done called %d times", sink.dones)
			}
			if !errors.Is(sink.doneErr, tt.err) {
				t.Errorf("Done err = %v, want %v", sink.doneErr, tt.err)
			}
		})
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := newSink()
	started := make(chan struct{})
	client := &fakeBulk{fn: func(ctx context.Context, _ string, _ []string, _ string) (*backend.BulkResult, error) {
		close(started)
		<-ctx.Done()
		return nil, &backend.TransportError{Op: "bulk", Err: ctx.Err()}
	}}

	New(client, progress.NewHub(), nil).Start(ctx, Job{BatchID: "b"}, sink)
	<-started
	cancel()

	select {
	case <-sink.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Done not called after cancel")
	}
	if !errors.Is(sink.doneErr, context.Canceled) {
		t.Errorf("Done err = %v, want context.Canceled", sink.doneErr)
	}
}

func TestRunFlushesQueuedProgress(t *testing.T) {
	hub := progress.NewHub()
	sink := newSink()
	client := &fakeBulk{fn: func(context.Context, string, []string, string) (*backend.BulkResult, error) {
		hub.Publish(progress.Notification{Item: "Acme"})
		hub.Publish(progress.Notification{Item: "Beta"})
		return &backend.BulkResult{Message: "ok"}, nil
	}}

	New(client, hub, nil).Run(context.Background(), Job{BatchID: "b1", Items: []string{"Acme", "Beta"}}, sink)

	if len(sink.progress) != 2 {
		t.Errorf("progress = %v, want both items delivered before Done", sink.progress)
	}
	if sink.dones != 1 {
		t.Errorf("Done called %d times", sink.dones)
	}
}
