// internal/store/store.go
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"sessionviewer/internal/chat"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrBookmarkExists   = errors.New("bookmark already exists")
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

// Store archives finished transcripts together with the metadata and
// bookmarks users attach to them.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open creates the database at path if needed and migrates it.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	s.logger.Debug("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		project_path TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcript_messages (
		session_id TEXT NOT NULL REFERENCES transcripts(session_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		usage TEXT,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS session_meta (
		source TEXT NOT NULL,
		project_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		alias TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (source, project_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS bookmarks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		message_id TEXT,
		preview TEXT NOT NULL DEFAULT '',
		session_title TEXT NOT NULL DEFAULT '',
		project_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookmarks_session ON bookmarks(source, session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Transcript is an archived session log.
type Transcript struct {
	SessionID   string
	Source      string
	ProjectPath string
	Model       string
	Status      string
	Err         string
	Messages    []chat.ChatMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TranscriptSummary is a Transcript without its messages.
type TranscriptSummary struct {
	SessionID   string
	Source      string
	ProjectPath string
	Model       string
	Status      string
	Messages    int
	Alias       string
	UpdatedAt   time.Time
}

// SaveTranscript inserts or replaces t. CreatedAt of an existing row is kept.
func (s *Store) SaveTranscript(t Transcript) error {
	if t.SessionID == "" {
		return errors.New("save transcript: empty session id")
	}
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO transcripts (session_id, source, project_path, model, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			source = excluded.source,
			project_path = excluded.project_path,
			model = excluded.model,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		t.SessionID, t.Source, t.ProjectPath, t.Model, t.Status, t.Err, now, now,
	)
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", t.SessionID, err)
	}

	if _, err := tx.Exec(`DELETE FROM transcript_messages WHERE session_id = ?`, t.SessionID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO transcript_messages (session_id, seq, id, role, model, ts, content, usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range t.Messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		var usage sql.NullString
		if m.Usage != nil {
			data, err := json.Marshal(m.Usage)
			if err != nil {
				return err
			}
			usage = sql.NullString{String: string(data), Valid: true}
		}
		var ts string
		if !m.Timestamp.IsZero() {
			ts = m.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.Exec(t.SessionID, i, m.ID, string(m.Role), m.Model, ts, string(content), usage); err != nil {
			return fmt.Errorf("save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("transcript saved",
		zap.String("session_id", t.SessionID),
		zap.Int("messages", len(t.Messages)))
	return nil
}

// LoadTranscript returns the archived transcript for sessionID.
func (s *Store) LoadTranscript(sessionID string) (*Transcript, error) {
	row := s.db.QueryRow(`
		SELECT session_id, source, project_path, model, status, error, created_at, updated_at
		FROM transcripts WHERE session_id = ?`, sessionID)

	var t Transcript
	err := row.Scan(&t.SessionID, &t.Source, &t.ProjectPath, &t.Model, &t.Status, &t.Err, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, role, model, ts, content, usage
		FROM transcript_messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m chat.ChatMessage
		var role, ts, content string
		var usage sql.NullString
		if err := rows.Scan(&m.ID, &role, &m.Model, &ts, &content, &usage); err != nil {
			return nil, err
		}
		m.Role = chat.Role(role)
		if ts != "" {
			if m.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
				return nil, fmt.Errorf("message %s timestamp: %w", m.ID, err)
			}
		}
		if m.Content, err = chat.DecodeBlocks([]byte(content)); err != nil {
			return nil, fmt.Errorf("message %s content: %w", m.ID, err)
		}
		if usage.Valid {
			m.Usage = &chat.Usage{}
			if err := json.Unmarshal([]byte(usage.String), m.Usage); err != nil {
				return nil, fmt.Errorf("message %s usage: %w", m.ID, err)
			}
		}
		t.Messages = append(t.Messages, m)
	}
	return &t, rows.Err()
}

// ListTranscripts returns every archived session, most recently updated
// first, with its alias when one is set.
func (s *Store) ListTranscripts() ([]TranscriptSummary, error) {
	rows, err := s.db.Query(`
		SELECT t.session_id, t.source, t.project_path, t.model, t.status, t.updated_at,
			(SELECT COUNT(*) FROM transcript_messages m WHERE m.session_id = t.session_id),
			COALESCE((SELECT alias FROM session_meta sm
				WHERE sm.source = t.source AND sm.session_id = t.session_id LIMIT 1), '')
		FROM transcripts t
		ORDER BY t.updated_at DESC, t.session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptSummary
	for rows.Next() {
		var t TranscriptSummary
		if err := rows.Scan(&t.SessionID, &t.Source, &t.ProjectPath, &t.Model, &t.Status, &t.UpdatedAt, &t.Messages, &t.Alias); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTranscript removes a transcript together with its messages and the
// alias, tags and bookmarks filed under it.
func (s *Store) DeleteTranscript(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var source string
	err = tx.QueryRow(`SELECT source FROM transcripts WHERE session_id = ?`, sessionID).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}

	for _, q := range []string{
		`DELETE FROM transcript_messages WHERE session_id = ?`,
		`DELETE FROM transcripts WHERE session_id = ?`,
	} {
		if _, err := tx.Exec(q, sessionID); err != nil {
			return fmt.Errorf("delete transcript %s: %w", sessionID, err)
		}
	}
	meta, err := tx.Exec(`DELETE FROM session_meta WHERE source = ? AND session_id = ?`, source, sessionID)
	if err != nil {
		return fmt.Errorf("delete session meta %s: %w", sessionID, err)
	}
	marks, err := tx.Exec(`DELETE FROM bookmarks WHERE source = ? AND session_id = ?`, source, sessionID)
	if err != nil {
		return fmt.Errorf("delete bookmarks %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	nMeta, _ := meta.RowsAffected()
	nMarks, _ := marks.RowsAffected()
	s.logger.Debug("transcript deleted",
		zap.String("session_id", sessionID),
		zap.Int64("meta", nMeta),
		zap.Int64("bookmarks", nMarks))
	return nil
}
