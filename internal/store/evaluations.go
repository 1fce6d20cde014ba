package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// InsertEvaluation persists a self-evaluation of a run. List and nested
// fields are stored as JSON text.
func (s *Store) InsertEvaluation(e Evaluation) error {
	suggestions, err := json.Marshal(e.ImprovementSuggestions)
	if err != nil {
		return fmt.Errorf("failed to encode improvement suggestions: %w", err)
	}
	analysis, err := json.Marshal(e.ToolUsageAnalysis)
	if err != nil {
		return fmt.Errorf("failed to encode tool usage analysis: %w", err)
	}
	patterns, err := json.Marshal(e.ErrorPatterns)
	if err != nil {
		return fmt.Errorf("failed to encode error patterns: %w", err)
	}

	var category any
	if e.FailureCategory != "" {
		category = e.FailureCategory
	}
	_, err = s.db.Exec(`
		INSERT INTO orch_evaluations
			(run_id, task_id, overall_score, failure_category, evaluation_details,
			 improvement_suggestions, tool_usage_analysis, error_patterns, evaluator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.TaskID, e.OverallScore, category, e.EvaluationDetails,
		string(suggestions), string(analysis), string(patterns), e.Evaluator, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to insert evaluation for run %d: %w", e.RunID, err)
	}
	s.logger.Info("evaluation saved",
		zap.Int64("run_id", e.RunID),
		zap.Float64("score", e.OverallScore),
		zap.String("failure_category", e.FailureCategory))
	return nil
}

// EvaluationsByRuns returns the evaluations for the given run id set.
func (s *Store) EvaluationsByRuns(runIDs []int64) ([]Evaluation, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT run_id, task_id, overall_score, failure_category, evaluation_details,
		       improvement_suggestions, tool_usage_analysis, error_patterns, evaluator
		FROM orch_evaluations WHERE run_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var evals []Evaluation
	for rows.Next() {
		var e Evaluation
		var score sql.NullFloat64
		var category, details, suggestions, analysis, patterns, evaluator sql.NullString
		if err := rows.Scan(&e.RunID, &e.TaskID, &score, &category, &details,
			&suggestions, &analysis, &patterns, &evaluator); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.OverallScore = score.Float64
		e.FailureCategory = category.String
		e.EvaluationDetails = details.String
		e.Evaluator = evaluator.String
		if suggestions.String != "" {
			if err := json.Unmarshal([]byte(suggestions.String), &e.ImprovementSuggestions); err != nil {
				return nil, fmt.Errorf("failed to decode improvement suggestions: %w", err)
			}
		}
		if analysis.String != "" {
			if err := json.Unmarshal([]byte(analysis.String), &e.ToolUsageAnalysis); err != nil {
				return nil, fmt.Errorf("failed to decode tool usage analysis: %w", err)
			}
		}
		if patterns.String != "" {
			if err := json.Unmarshal([]byte(patterns.String), &e.ErrorPatterns); err != nil {
				return nil, fmt.Errorf("failed to decode error patterns: %w", err)
			}
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}
