package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// UpsertProjectSummary replaces the single summary row for a project.
func (s *Store) UpsertProjectSummary(ps ProjectSummary) error {
	_, err := s.db.Exec(`
		INSERT INTO orch_project_summaries
			(project_id, current_status, next_milestone, recent_progress, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			current_status = excluded.current_status,
			next_milestone = excluded.next_milestone,
			recent_progress = excluded.recent_progress,
			updated_at = excluded.updated_at`,
		ps.ProjectID, ps.CurrentStatus, ps.NextMilestone, ps.RecentProgress, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to upsert summary for %s: %w", ps.ProjectID, err)
	}
	s.logger.Info("project summary updated", zap.String("project_id", ps.ProjectID))
	return nil
}

// GetProjectSummary loads the summary row for a project.
func (s *Store) GetProjectSummary(projectID string) (ProjectSummary, error) {
	var ps ProjectSummary
	var status, milestone, progress sql.NullString
	var updated string
	err := s.db.QueryRow(`
		SELECT project_id, current_status, next_milestone, recent_progress, updated_at
		FROM orch_project_summaries WHERE project_id = ?`, projectID).
		Scan(&ps.ProjectID, &status, &milestone, &progress, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectSummary{}, fmt.Errorf("summary for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return ProjectSummary{}, fmt.Errorf("failed to load summary: %w", err)
	}
	ps.CurrentStatus = status.String
	ps.NextMilestone = milestone.String
	ps.RecentProgress = progress.String
	ps.UpdatedAt = parseTime(updated)
	return ps, nil
}
