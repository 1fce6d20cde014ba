package store

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// InsertToolCalls writes a run's reconstructed tool trace in one
// transaction. Parameters are stored as a JSON object per call.
func (s *Store) InsertToolCalls(runID int64, calls []ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tool call insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO orch_tool_calls (run_id, sequence_number, tool_name, parameters, category, success)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare tool call insert: %w", err)
	}
	defer stmt.Close()

	for _, call := range calls {
		params, err := json.Marshal(call.Parameters)
		if err != nil {
			return fmt.Errorf("failed to encode tool call parameters: %w", err)
		}
		if _, err := stmt.Exec(runID, call.SequenceNumber, call.ToolName, string(params), call.Category, call.Success); err != nil {
			return fmt.Errorf("failed to insert tool call: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tool calls: %w", err)
	}
	s.logger.Debug("tool calls saved",
		zap.Int64("run_id", runID),
		zap.Int("count", len(calls)))
	return nil
}

// ToolCallsByRun returns a run's tool trace in sequence order.
func (s *Store) ToolCallsByRun(runID int64) ([]ToolCall, error) {
	rows, err := s.db.Query(`
		SELECT run_id, sequence_number, tool_name, parameters, category, success
		FROM orch_tool_calls WHERE run_id = ? ORDER BY sequence_number ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCall
	for rows.Next() {
		var call ToolCall
		var params string
		if err := rows.Scan(&call.RunID, &call.SequenceNumber, &call.ToolName, &params, &call.Category, &call.Success); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &call.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode tool call parameters: %w", err)
			}
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
