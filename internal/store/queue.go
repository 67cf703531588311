package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamtrace/fieldsync/internal/model"
)

// Enqueue inserts or replaces a queued edit for the task, keyed by
// (projectID, task.ID). Re-enqueuing the same task id overwrites the
// payload and resets the retry counter, never duplicates. The write is
// committed before Enqueue returns; a persistence failure is surfaced to
// the caller because the edit was user-initiated and cannot be retried
// automatically with a stale view.
func (s *Store) Enqueue(ctx context.Context, projectID string, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("cannot enqueue invalid task: %w", err)
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	query := `
	INSERT INTO queued_edits (project_id, task_id, task_json, retry_count, queued_at)
	VALUES (?, ?, ?, 0, ?)
	ON CONFLICT(project_id, task_id) DO UPDATE SET
		task_json = excluded.task_json,
		retry_count = 0,
		queued_at = excluded.queued_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		projectID, task.ID, string(taskJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue edit for task %s: %w", task.ID, err)
	}
	return nil
}

// Queue returns the queued edits for one project in queue order
// (oldest first, ties broken by task id). An empty queue returns nil.
func (s *Store) Queue(ctx context.Context, projectID string) ([]*model.QueuedEdit, error) {
	query := `
	SELECT task_json, retry_count FROM queued_edits
	WHERE project_id = ?
	ORDER BY queued_at, task_id
	`
	rows, err := s.conn.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue for project %s: %w", projectID, err)
	}
	defer rows.Close()

	return scanEdits(rows)
}

// QueuedProjects returns the ids of every project with a non-empty queue.
// Used by the global sync sweep.
func (s *Store) QueuedProjects(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT project_id FROM queued_edits ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued projects: %w", err)
	}
	return ids, nil
}

// Drain atomically replaces the project's queue with the surviving edits.
// An empty survivor set removes the project's queue entirely, so "no
// pending work" stays cheap to check via QueuedProjects.
func (s *Store) Drain(ctx context.Context, projectID string, surviving []*model.QueuedEdit) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin drain transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queued_edits WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear queue for project %s: %w", projectID, err)
	}

	now := time.Now().UTC()
	for i, edit := range surviving {
		taskJSON, err := json.Marshal(edit.Task)
		if err != nil {
			return fmt.Errorf("failed to marshal surviving task %s: %w", edit.Task.ID, err)
		}
		// Spread timestamps by insertion index to keep queue order stable.
		queuedAt := now.Add(time.Duration(i) * time.Millisecond)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO queued_edits (project_id, task_id, task_json, retry_count, queued_at)
			 VALUES (?, ?, ?, ?, ?)`,
			projectID, edit.Task.ID, string(taskJSON), edit.RetryCount,
			queuedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to write surviving edit %s: %w", edit.Task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit drain for project %s: %w", projectID, err)
	}
	return nil
}

func scanEdits(rows *sql.Rows) ([]*model.QueuedEdit, error) {
	var edits []*model.QueuedEdit
	for rows.Next() {
		var taskJSON string
		var retry int
		if err := rows.Scan(&taskJSON, &retry); err != nil {
			return nil, fmt.Errorf("failed to scan queued edit: %w", err)
		}
		var task model.Task
		if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
			return nil, fmt.Errorf("failed to parse queued task: %w", err)
		}
		edits = append(edits, &model.QueuedEdit{Task: &task, RetryCount: retry})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued edits: %w", err)
	}
	return edits, nil
}
