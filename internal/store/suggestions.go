package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// InsertSuggestion appends a proposed next action for a project.
func (s *Store) InsertSuggestion(sg Suggestion) error {
	_, err := s.db.Exec(`
		INSERT INTO orch_suggestions (project_id, title, description, source, priority, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sg.ProjectID, sg.Title, sg.Description, sg.Source, sg.Priority, sg.CreatedBy, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}
	s.logger.Debug("suggestion saved",
		zap.String("project_id", sg.ProjectID),
		zap.String("title", sg.Title))
	return nil
}

// SuggestionsByProject returns a project's suggestions, newest first.
func (s *Store) SuggestionsByProject(projectID string) ([]Suggestion, error) {
	rows, err := s.db.Query(`
		SELECT project_id, title, description, source, priority, created_by, created_at
		FROM orch_suggestions WHERE project_id = ?
		ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var sg Suggestion
		var desc, source, createdBy sql.NullString
		var created string
		if err := rows.Scan(&sg.ProjectID, &sg.Title, &desc, &source, &sg.Priority, &createdBy, &created); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		sg.Description = desc.String
		sg.Source = source.String
		sg.CreatedBy = createdBy.String
		sg.CreatedAt = parseTime(created)
		out = append(out, sg)
	}
	return out, rows.Err()
}
