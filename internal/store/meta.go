// internal/store/meta.go
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// SessionMeta is the alias and tags a user attached to a session.
type SessionMeta struct {
	Alias string   `json:"alias,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// UpdateSessionMeta replaces the metadata of one session. An empty alias
// with no tags removes the entry.
func (s *Store) UpdateSessionMeta(source, projectID, sessionID, alias string, tags []string) error {
	alias = strings.TrimSpace(alias)
	tags = normalizeTags(tags)
	if alias == "" && len(tags) == 0 {
		return s.RemoveSessionMeta(source, projectID, sessionID)
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO session_meta (source, project_id, session_id, alias, tags)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, project_id, session_id) DO UPDATE SET
			alias = excluded.alias,
			tags = excluded.tags`,
		source, projectID, sessionID, alias, string(data),
	)
	return err
}

func (s *Store) RemoveSessionMeta(source, projectID, sessionID string) error {
	_, err := s.db.Exec(
		`DELETE FROM session_meta WHERE source = ? AND project_id = ? AND session_id = ?`,
		source, projectID, sessionID,
	)
	return err
}

// SessionMeta returns the metadata for a session, or the zero value.
func (s *Store) SessionMeta(source, projectID, sessionID string) (SessionMeta, error) {
	var meta SessionMeta
	var tags string
	err := s.db.QueryRow(
		`SELECT alias, tags FROM session_meta WHERE source = ? AND project_id = ? AND session_id = ?`,
		source, projectID, sessionID,
	).Scan(&meta.Alias, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMeta{}, nil
	}
	if err != nil {
		return SessionMeta{}, err
	}
	if err := json.Unmarshal([]byte(tags), &meta.Tags); err != nil {
		return SessionMeta{}, err
	}
	return meta, nil
}

// AllTags lists every tag used in a project, sorted and unique.
func (s *Store) AllTags(source, projectID string) ([]string, error) {
	byProject, err := s.tags(`SELECT project_id, tags FROM session_meta WHERE source = ? AND project_id = ?`, source, projectID)
	if err != nil {
		return nil, err
	}
	return byProject[projectID], nil
}

// CrossProjectTags maps each project of source to its sorted unique tags.
// Projects without tags are absent.
func (s *Store) CrossProjectTags(source string) (map[string][]string, error) {
	return s.tags(`SELECT project_id, tags FROM session_meta WHERE source = ?`, source)
}

func (s *Store) tags(query string, args ...any) (map[string][]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var projectID, data string
		if err := rows.Scan(&projectID, &data); err != nil {
			return nil, err
		}
		var tags []string
		if err := json.Unmarshal([]byte(data), &tags); err != nil {
			s.logger.Warn("skipping unreadable tags", zap.String("project_id", projectID), zap.Error(err))
			continue
		}
		out[projectID] = append(out[projectID], tags...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for id, tags := range out {
		tags = normalizeTags(tags)
		if len(tags) == 0 {
			delete(out, id)
			continue
		}
		out[id] = tags
	}
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
