package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// stdoutPreviewLimit bounds the preview stored in the run row; the full
// output lives on disk at full_output_path.
const stdoutPreviewLimit = 5000

// InsertRun creates a run row in status running and returns its id. The
// row exists before the subprocess starts so a crash leaves a visible
// stale running record.
func (s *Store) InsertRun(r Run) (int64, error) {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	res, err := s.db.Exec(`
		INSERT INTO orch_runs (task_id, project_id, instruction, status, timeout_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.ProjectID, r.Instruction, string(RunRunning), r.TimeoutSeconds, formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	s.logger.Info("run record created",
		zap.Int64("run_id", id),
		zap.Int64("task_id", r.TaskID),
		zap.String("project_id", r.ProjectID))
	return id, nil
}

// CompleteRun transitions a run to its terminal status and records the
// observable outcome. The stdout preview is truncated to 5000 chars.
// Already-terminal rows are left untouched.
func (s *Store) CompleteRun(runID int64, status RunStatus, exitCode int, preview, fullOutputPath string, duration time.Duration) error {
	if !status.Terminal() {
		return fmt.Errorf("run %d: non-terminal completion status %q", runID, status)
	}
	if len(preview) > stdoutPreviewLimit {
		// Back off to a rune boundary; a byte-wise cut through Japanese
		// output would store invalid UTF-8.
		cut := stdoutPreviewLimit
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	_, err := s.db.Exec(`
		UPDATE orch_runs
		SET status = ?, exit_code = ?, stdout_preview = ?, full_output_path = ?,
		    duration_seconds = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), exitCode, preview, fullOutputPath,
		int(duration.Seconds()), formatTime(now()),
		runID, string(RunRunning))
	if err != nil {
		return fmt.Errorf("failed to complete run %d: %w", runID, err)
	}
	s.logger.Info("run record completed",
		zap.Int64("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("exit_code", exitCode))
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(id int64) (Run, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, project_id, instruction, status, exit_code, stdout_preview,
		       full_output_path, duration_seconds, timeout_seconds, created_at, completed_at
		FROM orch_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return r, err
}

// RecentRuns returns up to limit runs for a project, most recent first.
func (s *Store) RecentRuns(projectID string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, project_id, instruction, status, exit_code, stdout_preview,
		       full_output_path, duration_seconds, timeout_seconds, created_at, completed_at
		FROM orch_runs WHERE project_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunningRuns returns every run still in status running.
func (s *Store) RunningRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, project_id, instruction, status, exit_code, stdout_preview,
		       full_output_path, duration_seconds, timeout_seconds, created_at, completed_at
		FROM orch_runs WHERE status = ? ORDER BY created_at ASC`, string(RunRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list running runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ReconcileStaleRuns marks running rows older than the cutoff as failed
// and fails their tasks. Such rows are leftovers of a crash between run
// insert and completion. Returns the number of runs reconciled.
func (s *Store) ReconcileStaleRuns(olderThan time.Duration) (int, error) {
	cutoff := formatTime(now().Add(-olderThan))
	rows, err := s.db.Query(`
		SELECT id, task_id FROM orch_runs
		WHERE status = ? AND created_at < ?`, string(RunRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale runs: %w", err)
	}
	type stale struct{ runID, taskID int64 }
	var stales []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.runID, &st.taskID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan stale run: %w", err)
		}
		stales = append(stales, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, st := range stales {
		if err := s.CompleteRun(st.runID, RunFailed, -1, "", "", 0); err != nil {
			return 0, err
		}
		note := fmt.Sprintf("reconciled at startup: run #%d stale in running state", st.runID)
		if err := s.UpdateTaskStatus(st.taskID, TaskFailed, note); err != nil {
			return 0, err
		}
		s.logger.Warn("stale run reconciled",
			zap.Int64("run_id", st.runID),
			zap.Int64("task_id", st.taskID))
	}
	return len(stales), nil
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var instruction, preview, fullPath sql.NullString
	var exitCode, duration, timeout sql.NullInt64
	var created string
	var completed sql.NullString
	err := row.Scan(&r.ID, &r.TaskID, &r.ProjectID, &instruction, &r.Status, &exitCode,
		&preview, &fullPath, &duration, &timeout, &created, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	r.Instruction = instruction.String
	r.ExitCode = int(exitCode.Int64)
	r.StdoutPreview = preview.String
	r.FullOutputPath = fullPath.String
	r.DurationSeconds = int(duration.Int64)
	r.TimeoutSeconds = int(timeout.Int64)
	r.CreatedAt = parseTime(created)
	if completed.Valid {
		at := parseTime(completed.String)
		r.CompletedAt = &at
	}
	return r, nil
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
