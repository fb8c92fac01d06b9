package session

import (
	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/conversation"
)

// event is anything the loop reacts to.
type event interface{}

type lineEvent string

type inputClosed struct{}

type interruptEvent struct {
	quit bool
}

type uploadEvent struct {
	outcome conversation.UploadOutcome
	size    int64
}

type findEvent struct {
	res *backend.FindResult
	err error
}

type progressEvent struct {
	batchID, item string
}

type batchDoneEvent struct {
	batchID string
	res     *backend.BulkResult
	err     error
}

type searchesEvent struct {
	names    []string
	err      error
	explicit bool
}

type downloadEvent struct {
	path string
	size int64
	err  error
}

// sink turns orchestrator callbacks into loop events.
type sink struct{ s *Session }

func (k sink) Progress(batchID, item string) {
	k.s.post(progressEvent{batchID: batchID, item: item})
}

func (k sink) Done(batchID string, res *backend.BulkResult, err error) {
	k.s.post(batchDoneEvent{batchID: batchID, res: res, err: err})
}

// observer renders and persists turns as the machine changes the log.
// Its methods run on the loop goroutine.
type observer struct{ s *Session }

func (o observer) TurnAppended(t conversation.Turn) {
	s := o.s
	s.print(s.r.Turn(t) + "\n")
	if !t.Loading {
		s.persist(t)
		return
	}
	var status string
	if t.HasProgress() {
		status = s.r.Progress(t.Progress, "")
	}
	s.showLoader(status)
}

func (o observer) TurnUpdated(t conversation.Turn) {
	s := o.s
	if t.Loading && t.HasProgress() {
		s.setLoaderStatus(s.r.Progress(t.Progress, s.latest))
	}
}

func (o observer) TurnRemoved(conversation.Turn) {
	o.s.hideLoader()
}
