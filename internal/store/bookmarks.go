// internal/store/bookmarks.go
package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Bookmark marks a session, or one message in it when MessageID is set.
type Bookmark struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	ProjectID    string    `json:"projectId"`
	SessionID    string    `json:"sessionId"`
	FilePath     string    `json:"filePath,omitempty"`
	MessageID    string    `json:"messageId,omitempty"`
	Preview      string    `json:"preview"`
	SessionTitle string    `json:"sessionTitle"`
	ProjectName  string    `json:"projectName"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AddBookmark stores b, filling ID and CreatedAt when they are empty. A
// bookmark with the same source, session and message already existing is
// ErrBookmarkExists.
func (s *Store) AddBookmark(b Bookmark) (Bookmark, error) {
	messageID := sql.NullString{String: b.MessageID, Valid: b.MessageID != ""}

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM bookmarks WHERE source = ? AND session_id = ? AND message_id IS ?`,
		b.Source, b.SessionID, messageID,
	).Scan(&n)
	if err != nil {
		return Bookmark{}, err
	}
	if n > 0 {
		return Bookmark{}, ErrBookmarkExists
	}

	if b.ID == "" {
		b.ID = s.newID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO bookmarks (id, source, project_id, session_id, file_path, message_id, preview, session_title, project_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Source, b.ProjectID, b.SessionID, b.FilePath, messageID, b.Preview, b.SessionTitle, b.ProjectName, b.CreatedAt,
	)
	if err != nil {
		return Bookmark{}, fmt.Errorf("add bookmark: %w", err)
	}
	s.logger.Debug("bookmark added", zap.String("id", b.ID), zap.String("session_id", b.SessionID))
	return b, nil
}

func (s *Store) RemoveBookmark(id string) error {
	res, err := s.db.Exec(`DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookmarkNotFound
	}
	return nil
}

// ListBookmarks returns bookmarks in creation order. An empty source lists
// all of them.
func (s *Store) ListBookmarks(source string) ([]Bookmark, error) {
	query := `SELECT id, source, project_id, session_id, file_path, message_id, preview, session_title, project_name, created_at
		FROM bookmarks`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var b Bookmark
		var messageID sql.NullString
		if err := rows.Scan(&b.ID, &b.Source, &b.ProjectID, &b.SessionID, &b.FilePath, &messageID,
			&b.Preview, &b.SessionTitle, &b.ProjectName, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.MessageID = messageID.String
		out = append(out, b)
	}
	return out, rows.Err()
}
