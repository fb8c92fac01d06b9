package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is one chat transcript.
type Session struct {
	ID        string
	CreatedAt time.Time
	Title     string
	TurnCount int // filled by ListSessions only
}

// Turn is a terminal conversation turn. Loading turns are never stored.
type Turn struct {
	ID          string
	SessionID   string
	Seq         int
	Role        string // "user" or "bot"
	Text        string
	SourceLinks []string
	Items       []string
	ResultFile  string
	Confidence  *float64
	CreatedAt   time.Time
}

// Upload records a file sent to the backend.
type Upload struct {
	ID        string
	SessionID string
	Filename  string
	SizeBytes int64
	Companies int
	CreatedAt time.Time
}
