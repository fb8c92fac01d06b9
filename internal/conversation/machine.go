// Package conversation holds the chat log and the state machine deciding
// what each user input triggers: a bulk search over an uploaded company
// list, or a fresh single contact search.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/progress"
)

var (
	// ErrBusy is returned for input arriving while a request is in flight.
	ErrBusy = errors.New("a search is already running")
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("message is empty")
)

// State is the machine's position in the conversation.
type State int

const (
	Idle State = iota
	AwaitingBatchQuery
	BatchInFlight
	SingleQueryInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingBatchQuery:
		return "awaiting_batch_query"
	case BatchInFlight:
		return "batch_in_flight"
	case SingleQueryInFlight:
		return "single_query_in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a backend request is outstanding.
func (s State) InFlight() bool {
	return s == BatchInFlight || s == SingleQueryInFlight
}

// EffectKind names the backend call a transition asks for.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectFind
	EffectBatch
)

// Effect is the work the caller must start after a transition. The machine
// itself never performs I/O.
type Effect struct {
	Kind    EffectKind
	Query   string
	BatchID string
	Items   []string
}

// UploadOutcome is the result of sending a file to the backend.
type UploadOutcome struct {
	Filename string
	Result   *backend.UploadResult
	Err      error
}

// Observer is told about every change to the log.
type Observer interface {
	TurnAppended(t Turn)
	TurnUpdated(t Turn)
	TurnRemoved(t Turn)
}

type nopObserver struct{}

func (nopObserver) TurnAppended(Turn) {}
func (nopObserver) TurnUpdated(Turn)  {}
func (nopObserver) TurnRemoved(Turn)  {}

// Machine is the conversation state machine. It is not safe for concurrent
// use; the session event loop owns it.
type Machine struct {
	state    State
	turns    []Turn
	tracker  *progress.Tracker
	observer Observer

	pendingItems []string
	batchID      string
	loadingID    string

	newID func() string
	now   func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers the log observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithTracker supplies the progress tracker shared with the caller.
func WithTracker(t *progress.Tracker) Option {
	return func(m *Machine) { m.tracker = t }
}

// WithIDs overrides turn and batch ID generation (used by tests).
func WithIDs(fn func() string) Option {
	return func(m *Machine) { m.newID = fn }
}

// WithClock overrides the time source (used by tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Machine) { m.now = fn }
}

// NewMachine returns a Machine in the Idle state with an empty log.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		state:    Idle,
		tracker:  progress.NewTracker(),
		observer: nopObserver{},
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Turns returns a copy of the log in display order.
func (m *Machine) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	for i, t := range m.turns {
		out[i] = t.clone()
	}
	return out
}

// Snapshot returns the progress of the in-flight batch, empty otherwise.
func (m *Machine) Snapshot() progress.Snapshot {
	return m.tracker.Snapshot()
}

// BatchID returns the ID of the batch in flight, or "".
func (m *Machine) BatchID() string {
	return m.batchID
}

// PendingItems returns the company list awaiting a query, or nil.
func (m *Machine) PendingItems() []string {
	if m.state != AwaitingBatchQuery {
		return nil
	}
	return append([]string(nil), m.pendingItems...)
}

// Upload records the outcome of a file upload.
func (m *Machine) Upload(o UploadOutcome) error {
	if m.state.InFlight() {
		return ErrBusy
	}

	switch {
	case o.Err != nil:
		m.append(Turn{Role: RoleBot, Text: "Error uploading file: " + errorText(o.Err)})
		m.toIdle()

	case o.Result != nil && len(o.Result.Companies) > 0:
		items := append([]string(nil), o.Result.Companies...)
		m.append(Turn{
			Role: RoleBot,
			Text: fmt.Sprintf("Found %d companies in the file. What would you like to search for across these companies? "+
				`(e.g., "email addresses", "phone numbers", "contact information")`, len(items)),
			Items:              items,
			AwaitingBatchQuery: true,
		})
		m.pendingItems = items
		m.state = AwaitingBatchQuery

	default:
		msg := o.Filename
		if o.Result != nil && o.Result.Message != "" {
			msg = o.Result.Message
		}
		m.append(Turn{Role: RoleBot, Text: "File uploaded successfully: " + msg})
		m.toIdle()
	}
	return nil
}

// Send handles a user message and returns the backend call to start.
func (m *Machine) Send(text string) (Effect, error) {
	if strings.TrimSpace(text) == "" {
		return Effect{}, ErrEmptyMessage
	}
	if m.state.InFlight() {
		return Effect{}, ErrBusy
	}

	m.append(Turn{Role: RoleUser, Text: text})

	if m.state == AwaitingBatchQuery {
		items := m.pendingItems
		m.pendingItems = nil
		m.batchID = m.newID()
		m.tracker.Start(items)

		loading := m.append(Turn{
			Role:     RoleBot,
			Text:     fmt.Sprintf("Searching for %q across %d companies...", text, len(items)),
			Items:    append([]string(nil), items...),
			Loading:  true,
			Progress: m.tracker.Snapshot(),
		})
		m.loadingID = loading.ID
		m.state = BatchInFlight
		return Effect{
			Kind:    EffectBatch,
			Query:   text,
			BatchID: m.batchID,
			Items:   append([]string(nil), items...),
		}, nil
	}

	loading := m.append(Turn{Role: RoleBot, Text: "Searching for information...", Loading: true})
	m.loadingID = loading.ID
	m.state = SingleQueryInFlight
	return Effect{Kind: EffectFind, Query: text}, nil
}

// Progress marks one item of the in-flight batch done. Notifications for any
// other batch, or arriving when no batch is running, are ignored. An empty
// batchID matches the current batch.
func (m *Machine) Progress(batchID, item string) bool {
	if m.state != BatchInFlight {
		return false
	}
	if batchID != "" && batchID != m.batchID {
		return false
	}
	if !m.tracker.MarkDone(item) {
		return false
	}
	if i := m.indexOf(m.loadingID); i >= 0 {
		m.turns[i].Progress = m.tracker.Snapshot()
		m.observer.TurnUpdated(m.turns[i].clone())
	}
	return true
}

// FindDone completes a single search. It reports false when no single
// search was in flight.
func (m *Machine) FindDone(res *backend.FindResult, err error) bool {
	if m.state != SingleQueryInFlight {
		return false
	}
	m.removeLoading()

	switch {
	case err != nil:
		m.append(Turn{Role: RoleBot, Text: failureText(err, "Error processing your request: ", "An error occurred: ")})
	default:
		t := Turn{Role: RoleBot, Text: "No information found"}
		if res != nil {
			if strings.TrimSpace(res.Text) != "" {
				t.Text = res.Text
			}
			t.SourceLinks = append([]string(nil), res.URLs...)
			if res.Confidence != nil {
				c := RescaleConfidence(*res.Confidence)
				t.Confidence = &c
			}
		}
		m.append(t)
	}
	m.toIdle()
	return true
}

// BatchDone completes the in-flight batch. Results for a stale batch ID
// are ignored and report false.
func (m *Machine) BatchDone(batchID string, res *backend.BulkResult, err error) bool {
	if m.state != BatchInFlight || batchID != m.batchID {
		return false
	}
	m.removeLoading()
	m.tracker.Clear()

	switch {
	case err != nil:
		m.append(Turn{Role: RoleBot, Text: failureText(err, "Error processing bulk search: ", "An error occurred during bulk search: ")})
	default:
		t := Turn{Role: RoleBot, Text: "Bulk search completed!"}
		if res != nil {
			if res.Message != "" {
				t.Text += " " + res.Message
			}
			t.ResultFile = ResultFileName(res.Filepath)
		}
		m.append(t)
	}
	m.toIdle()
	return true
}

// ResultFileName returns the last element of a backend file path, accepting
// both slash styles. An empty path yields "".
func ResultFileName(path string) string {
	path = strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (m *Machine) append(t Turn) Turn {
	t.ID = m.newID()
	t.CreatedAt = m.now()
	m.turns = append(m.turns, t)
	m.observer.TurnAppended(t.clone())
	return t
}

func (m *Machine) removeLoading() {
	i := m.indexOf(m.loadingID)
	m.loadingID = ""
	if i < 0 {
		return
	}
	removed := m.turns[i]
	m.turns = append(m.turns[:i], m.turns[i+1:]...)
	m.observer.TurnRemoved(removed.clone())
}

func (m *Machine) toIdle() {
	m.state = Idle
	m.batchID = ""
	m.pendingItems = nil
}

func (m *Machine) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].ID == id {
			return i
		}
	}
	return -1
}

// failureText picks the backend or transport wording used by the UI.
func failureText(err error, backendPrefix, otherPrefix string) string {
	var be *backend.Error
	if errors.As(err, &be) {
		return backendPrefix + errorText(err)
	}
	return otherPrefix + errorText(err)
}

func errorText(err error) string {
	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	var te *backend.TransportError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
