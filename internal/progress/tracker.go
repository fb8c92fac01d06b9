package progress

// Tracker records per-item completion for the batch currently in flight.
//
// Identifiers are matched by exact, case-sensitive equality with the names
// passed to Start. The backend echoes the names it was given, so no
// normalisation is applied.
//
// A Tracker is not safe for concurrent use; it is owned by the session's
// event loop.
type Tracker struct {
	order []string
	done  map[string]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{done: make(map[string]bool)}
}

// Start replaces the tracked set with one entry per distinct item, all false.
// Duplicate identifiers collapse into a single key; first occurrence wins
// the display position.
func (t *Tracker) Start(items []string) {
	t.order = make([]string, 0, len(items))
	t.done = make(map[string]bool, len(items))
	for _, item := range items {
		if _, ok := t.done[item]; ok {
			continue
		}
		t.done[item] = false
		t.order = append(t.order, item)
	}
}

// MarkDone flags item as complete. Unknown identifiers are ignored and
// report false; no key is ever created here.
func (t *Tracker) MarkDone(item string) bool {
	if _, ok := t.done[item]; !ok {
		return false
	}
	t.done[item] = true
	return true
}

// Clear drops every entry. Later MarkDone calls are no-ops until the next Start.
func (t *Tracker) Clear() {
	t.order = nil
	t.done = make(map[string]bool)
}

// Len returns the number of tracked items.
func (t *Tracker) Len() int {
	return len(t.order)
}

// Snapshot returns an immutable copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		items: make([]string, len(t.order)),
		done:  make(map[string]bool, len(t.done)),
	}
	copy(s.items, t.order)
	for k, v := range t.done {
		s.done[k] = v
	}
	return s
}

// Snapshot is a point-in-time copy of a Tracker. The zero value is empty.
type Snapshot struct {
	items []string
	done  map[string]bool
}

// Items returns the tracked identifiers in start order.
func (s Snapshot) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Done reports whether item has been marked complete.
func (s Snapshot) Done(item string) bool {
	return s.done[item]
}

// Total returns the number of tracked items.
func (s Snapshot) Total() int {
	return len(s.items)
}

// Completed returns the number of items marked complete.
func (s Snapshot) Completed() int {
	n := 0
	for _, v := range s.done {
		if v {
			n++
		}
	}
	return n
}

// Map returns the state as a fresh item -> completion map.
func (s Snapshot) Map() map[string]bool {
	out := make(map[string]bool, len(s.done))
	for k, v := range s.done {
		out[k] = v
	}
	return out
}

// Empty reports whether nothing is tracked.
func (s Snapshot) Empty() bool {
	return len(s.items) == 0
}
