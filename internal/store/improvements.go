package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// InsertImprovement records one applied improvement and returns its id.
func (s *Store) InsertImprovement(imp Improvement) (int64, error) {
	targets, err := json.Marshal(imp.TargetFiles)
	if err != nil {
		return 0, fmt.Errorf("failed to encode target files: %w", err)
	}
	appliedAt := imp.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = now()
	}
	res, err := s.db.Exec(`
		INSERT INTO orch_improvement_history
			(project_id, trigger_type, trigger_details, target_files, changes_summary, before_avg_score, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		imp.ProjectID, imp.TriggerType, imp.TriggerDetails, string(targets),
		imp.ChangesSummary, imp.BeforeAvgScore, formatTime(appliedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert improvement history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read improvement id: %w", err)
	}
	s.logger.Info("improvement recorded",
		zap.Int64("improvement_id", id),
		zap.String("project_id", imp.ProjectID),
		zap.String("trigger_type", imp.TriggerType))
	return id, nil
}

// ImprovementsSince returns a project's improvements applied at or after
// the cutoff. Used for the cooldown check.
func (s *Store) ImprovementsSince(projectID string, cutoff time.Time) ([]Improvement, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, trigger_type, trigger_details, target_files,
		       changes_summary, before_avg_score, applied_at
		FROM orch_improvement_history
		WHERE project_id = ? AND applied_at >= ?
		ORDER BY applied_at DESC`, projectID, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list improvements: %w", err)
	}
	defer rows.Close()

	var out []Improvement
	for rows.Next() {
		var imp Improvement
		var details, targets, summary sql.NullString
		var score sql.NullFloat64
		var applied string
		if err := rows.Scan(&imp.ID, &imp.ProjectID, &imp.TriggerType, &details, &targets,
			&summary, &score, &applied); err != nil {
			return nil, fmt.Errorf("failed to scan improvement: %w", err)
		}
		imp.TriggerDetails = details.String
		imp.ChangesSummary = summary.String
		imp.BeforeAvgScore = score.Float64
		imp.AppliedAt = parseTime(applied)
		if targets.String != "" {
			if err := json.Unmarshal([]byte(targets.String), &imp.TargetFiles); err != nil {
				return nil, fmt.Errorf("failed to decode target files: %w", err)
			}
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// InsertKnowledgeAsset appends a record of a file authored under
// .claude/ during an improvement.
func (s *Store) InsertKnowledgeAsset(a KnowledgeAsset) error {
	version := a.Version
	if version == 0 {
		version = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO orch_knowledge_assets
			(project_id, asset_type, file_path, content, content_hash, version, auto_generated, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.AssetType, a.FilePath, a.Content, a.ContentHash,
		version, a.AutoGenerated, a.CreatedBy, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to insert knowledge asset: %w", err)
	}
	s.logger.Debug("knowledge asset saved",
		zap.String("project_id", a.ProjectID),
		zap.String("asset_type", a.AssetType),
		zap.String("file_path", a.FilePath))
	return nil
}

// KnowledgeAssetsByProject returns a project's recorded assets, newest
// first.
func (s *Store) KnowledgeAssetsByProject(projectID string) ([]KnowledgeAsset, error) {
	rows, err := s.db.Query(`
		SELECT project_id, asset_type, file_path, content, content_hash, version, auto_generated, created_by, created_at
		FROM orch_knowledge_assets WHERE project_id = ?
		ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge assets: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeAsset
	for rows.Next() {
		var a KnowledgeAsset
		var content, hash, createdBy sql.NullString
		var created string
		if err := rows.Scan(&a.ProjectID, &a.AssetType, &a.FilePath, &content, &hash,
			&a.Version, &a.AutoGenerated, &createdBy, &created); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge asset: %w", err)
		}
		a.Content = content.String
		a.ContentHash = hash.String
		a.CreatedBy = createdBy.String
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
