package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// InsertTask enqueues a new task in status pending and returns its id.
func (s *Store) InsertTask(t Task) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	res, err := s.db.Exec(`
		INSERT INTO orch_tasks (project_id, title, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ProjectID, t.Title, t.Description, string(TaskPending), formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	s.logger.Info("task enqueued",
		zap.Int64("task_id", id),
		zap.String("project_id", t.ProjectID),
		zap.String("title", t.Title))
	return id, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(id int64) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, description, status, completion_note, created_at, completed_at
		FROM orch_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

// PendingTasks returns every pending task ordered by created_at
// ascending, which is the dispatch order.
func (s *Store) PendingTasks() ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, description, status, completion_note, created_at, completed_at
		FROM orch_tasks WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(TaskPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task, setting completed_at when the new
// status is terminal. A terminal row is never transitioned again.
func (s *Store) UpdateTaskStatus(id int64, status TaskStatus, completionNote string) error {
	var res sql.Result
	var err error
	if status.Terminal() {
		res, err = s.db.Exec(`
			UPDATE orch_tasks
			SET status = ?, completion_note = ?, completed_at = ?
			WHERE id = ? AND status NOT IN (?, ?)`,
			string(status), completionNote, formatTime(now()),
			id, string(TaskDone), string(TaskFailed))
	} else {
		res, err = s.db.Exec(`
			UPDATE orch_tasks SET status = ? WHERE id = ? AND status NOT IN (?, ?)`,
			string(status), id, string(TaskDone), string(TaskFailed))
	}
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		s.logger.Debug("task transition ignored, row already terminal",
			zap.Int64("task_id", id),
			zap.String("status", string(status)))
		return nil
	}
	s.logger.Info("task status updated",
		zap.Int64("task_id", id),
		zap.String("status", string(status)))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var desc, note sql.NullString
	var created string
	var completed sql.NullString
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &desc, &t.Status, &note, &created, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Description = desc.String
	t.CompletionNote = note.String
	t.CreatedAt = parseTime(created)
	if completed.Valid {
		at := parseTime(completed.String)
		t.CompletedAt = &at
	}
	return t, nil
}
