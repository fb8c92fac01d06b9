package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps chat transcripts and the uploaded-file list in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "myles.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: an in-memory database is per-connection, and a single
	// writer avoids "database is locked".
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const timeLayout = time.RFC3339Nano

// --- Sessions ---

// CreateSession inserts a new, empty session.
func (s *Store) CreateSession(sess Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, created_at, title) VALUES (?, ?, ?)`,
		sess.ID, sess.CreatedAt.UTC().Format(timeLayout), sess.Title)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

// SetSessionTitle replaces a session's title.
func (s *Store) SetSessionTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetSession returns a session by ID, or by a unique ID prefix.
func (s *Store) GetSession(id string) (Session, error) {
	rows, err := s.db.Query(`SELECT id, created_at, title FROM sessions WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`,
		id, escapeLike(id)+"%", id)
	if err != nil {
		return Session{}, err
	}
	defer rows.Close()

	var found []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return Session{}, err
		}
		found = append(found, sess)
	}
	if err := rows.Err(); err != nil {
		return Session{}, err
	}

	switch {
	case len(found) == 0:
		return Session{}, ErrNotFound
	case found[0].ID == id, len(found) == 1:
		return found[0], nil
	default:
		return Session{}, fmt.Errorf("session prefix %q is ambiguous", id)
	}
}

// ListSessions returns the most recent sessions first, with turn counts.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, s.title, COUNT(t.id)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Session{}
	for rows.Next() {
		var sess Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &createdAt, &sess.Title, &sess.TurnCount); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// DeleteSession removes a session and its turns.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Turns ---

// SaveTurn appends a turn to its session. Seq is assigned automatically.
func (s *Store) SaveTurn(t Turn) error {
	links, err := json.Marshal(nonNil(t.SourceLinks))
	if err != nil {
		return fmt.Errorf("marshaling source links: %w", err)
	}
	items, err := json.Marshal(nonNil(t.Items))
	if err != nil {
		return fmt.Errorf("marshaling items: %w", err)
	}

	var confidence sql.NullFloat64
	if t.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *t.Confidence, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, session_id, seq, role, text, source_links, items, result_file, confidence, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.SessionID, t.Role, t.Text, string(links), string(items),
		t.ResultFile, confidence, t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting turn %s: %w", t.ID, err)
	}
	return nil
}

// GetTurns returns a session's turns in display order.
func (s *Store) GetTurns(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, seq, role, text, source_links, items, result_file, confidence, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Turn{}
	for rows.Next() {
		var t Turn
		var links, items, createdAt string
		var confidence sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Text, &links, &items, &t.ResultFile, &confidence, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(links), &t.SourceLinks); err != nil {
			return nil, fmt.Errorf("decoding source links of turn %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
			return nil, fmt.Errorf("decoding items of turn %s: %w", t.ID, err)
		}
		if confidence.Valid {
			v := confidence.Float64
			t.Confidence = &v
		}
		if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Uploads ---

// SaveUpload records an uploaded file.
func (s *Store) SaveUpload(u Upload) error {
	_, err := s.db.Exec(`
		INSERT INTO uploads (id, session_id, filename, size_bytes, companies, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.Filename, u.SizeBytes, u.Companies, u.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting upload %s: %w", u.ID, err)
	}
	return nil
}

// ListUploads returns the most recent uploads first.
func (s *Store) ListUploads(limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, filename, size_bytes, companies, created_at
		FROM uploads ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Upload{}
	for rows.Next() {
		var u Upload
		var createdAt string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Filename, &u.SizeBytes, &u.Companies, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var createdAt string
	if err := row.Scan(&sess.ID, &createdAt, &sess.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.CreatedAt = t
	return sess, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
