package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// InsertTask inserts a new task row. It writes no events; the submitter
// appends "task.created"/"task.queued" with AppendTaskEvent in the same
// mutation.
func (mc *MutationContext) InsertTask(ctx context.Context, t *models.Task) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = mc.tx.Exec(ctx, `
		INSERT INTO tasks (id, workspace_id, account_id, client_id, code, runtime_id, timeout_ms,
			metadata, status, next_event_sequence, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, t.ID, t.WorkspaceID, t.AccountID, t.ClientID, t.Code, t.RuntimeID, t.TimeoutMs,
		meta, t.Status, t.NextEventSequence, t.CreatedAt)
	return err
}

// AppendTaskEvent appends the next sequence-numbered event for a task.
// Sequence is strictly increasing per task (spec §3 invariant, §5 ordering).
func (mc *MutationContext) AppendTaskEvent(ctx context.Context, taskID string, eventName models.TaskEventName, eventType string, payload map[string]any, createdAt int64) (*models.TaskEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var seq int64
	if err := mc.tx.QueryRow(ctx, `
		UPDATE tasks SET next_event_sequence = next_event_sequence + 1, updated_at = $2
		WHERE id = $1
		RETURNING next_event_sequence - 1
	`, taskID, createdAt).Scan(&seq); err != nil {
		return nil, fmt.Errorf("allocate sequence: %w", err)
	}

	if _, err := mc.tx.Exec(ctx, `
		INSERT INTO task_events (task_id, sequence, event_name, type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, taskID, seq, eventName, eventType, payloadJSON, createdAt); err != nil {
		return nil, err
	}

	return &models.TaskEvent{
		TaskID: taskID, Sequence: seq, EventName: eventName, Type: eventType,
		Payload: payload, CreatedAt: createdAt,
	}, nil
}

// MarkTaskRunning transitions queued -> running. Idempotent: a second call
// from an already-running (or terminal) task is a no-op returning nil, nil.
func (mc *MutationContext) MarkTaskRunning(ctx context.Context, taskID string, now int64) (*models.Task, error) {
	row := mc.tx.QueryRow(ctx, `
		UPDATE tasks SET status = 'running', updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+taskColumns, taskID, now)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// TerminalTransition moves a task from {queued,running} to a terminal status.
// Idempotent: once terminal, a further call is a no-op returning nil, nil.
func (mc *MutationContext) TerminalTransition(ctx context.Context, taskID string, status models.TaskStatus, exitCode *int, result any, errMsg string, now int64) (*models.Task, error) {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = b
	}
	row := mc.tx.QueryRow(ctx, `
		UPDATE tasks SET status = $2, exit_code = $3, result = $4, error = $5,
			updated_at = $6, completed_at = $6
		WHERE id = $1 AND status IN ('queued','running')
		RETURNING `+taskColumns, taskID, status, exitCode, resultJSON, nullableString(errMsg), now)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// GetTask reads a task by its domain id.
func (qc *QueryContext) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := qc.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTaskEvents returns events for a task ordered by sequence.
func (qc *QueryContext) ListTaskEvents(ctx context.Context, taskID string) ([]models.TaskEvent, error) {
	rows, err := qc.tx.Query(ctx, `
		SELECT task_id, sequence, event_name, type, payload, created_at
		FROM task_events WHERE task_id = $1 ORDER BY sequence ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.TaskEvent
	for rows.Next() {
		var e models.TaskEvent
		var payload []byte
		if err := rows.Scan(&e.TaskID, &e.Sequence, &e.EventName, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const taskColumns = `id, workspace_id, account_id, coalesce(client_id,''), code, runtime_id, timeout_ms,
	metadata, status, exit_code, result, coalesce(error,''), next_event_sequence, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var meta, result []byte
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.AccountID, &t.ClientID, &t.Code, &t.RuntimeID, &t.TimeoutMs,
		&meta, &t.Status, &t.ExitCode, &result, &t.Error, &t.NextEventSequence, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
