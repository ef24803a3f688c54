package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskStatusCreated        TaskStatus = "CREATED"
	TaskStatusProcessing     TaskStatus = "PROCESSING"
	TaskStatusFailed         TaskStatus = "FAILED"
	TaskStatusNoAttemptsLeft TaskStatus = "NO_ATTEMPTS_LEFT"
)

// Task is one outbox entry. Key is the partitioning key used when the
// payload is published; for lifecycle events it is the request id.
type Task struct {
	ID            int64
	Key           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    sql.NullTime
	Payload       []byte
	Status        TaskStatus
	AttemptCount  int
	NextAttemptAt sql.NullTime
}

type TaskRepository interface {
	CreateTask(ctx context.Context, key string, payload []byte) error
	// GetPendingTasks returns due tasks. A task left PROCESSING for longer
	// than lease is due again, since its publisher is presumed dead.
	GetPendingTasks(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]*Task, error)
	MarkTaskProcessing(ctx context.Context, taskID int64) error
	DeleteTask(ctx context.Context, taskID int64) error
	UpdateTaskFailure(ctx context.Context, taskID int64, attemptCount int, newStatus TaskStatus, nextAttemptAt time.Time) error
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(db *sql.DB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db}
}

func (r *PostgresTaskRepository) CreateTask(ctx context.Context, key string, payload []byte) error {
	return createTask(ctx, r.db, key, payload)
}

func createTask(ctx context.Context, db execer, key string, payload []byte) error {
	query := `
		INSERT INTO tasks (key, created_at, updated_at, payload, status, attempt_count)
		VALUES ($1, NOW(), NOW(), $2, $3, 0)
	`
	_, err := db.ExecContext(ctx, query, key, payload, TaskStatusCreated)
	return err
}

const taskColumns = `t.id, t.key, t.created_at, t.updated_at, t.finished_at, t.payload, t.status, t.attempt_count, t.next_attempt_at`

// GetPendingTasks returns up to limit due tasks that still have attempts
// left, in insertion order. A task is held back while an earlier task with
// the same key is waiting out its retry delay or is being published, so
// events of one request are never published out of order. Dead-lettered
// tasks no longer block their key.
func (r *PostgresTaskRepository) GetPendingTasks(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE t.attempt_count < $3
		  AND (
		      (t.status IN ($1, $2) AND (t.next_attempt_at IS NULL OR t.next_attempt_at <= NOW()))
		      OR (t.status = $5 AND t.updated_at <= NOW() - make_interval(secs => $6))
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM tasks b
		      WHERE b.key = t.key AND b.id < t.id
		        AND (
		            (b.status IN ($1, $2) AND b.next_attempt_at > NOW())
		            OR (b.status = $5 AND b.updated_at > NOW() - make_interval(secs => $6))
		        )
		  )
		ORDER BY t.id
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, TaskStatusCreated, TaskStatusFailed, maxAttempts, limit,
		TaskStatusProcessing, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("select pending tasks: %w", err)
	}
	return scanTasks(rows)
}

func (r *PostgresTaskRepository) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t ORDER BY t.id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.Key, &t.CreatedAt,
			&t.UpdatedAt, &t.FinishedAt,
			&t.Payload, &t.Status,
			&t.AttemptCount, &t.NextAttemptAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) MarkTaskProcessing(ctx context.Context, taskID int64) error {
	query := `
		UPDATE tasks SET status = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, TaskStatusProcessing, taskID)
	return err
}

func (r *PostgresTaskRepository) DeleteTask(ctx context.Context, taskID int64) error {
	query := `DELETE FROM tasks WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, taskID)
	return err
}

func (r *PostgresTaskRepository) UpdateTaskFailure(ctx context.Context, taskID int64, attemptCount int, newStatus TaskStatus, nextAttemptAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = $1, attempt_count = $2, updated_at = NOW(), next_attempt_at = $3,
		    finished_at = CASE WHEN $1 = 'NO_ATTEMPTS_LEFT' THEN NOW() ELSE NULL END
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, newStatus, attemptCount, nextAttemptAt, taskID)
	return err
}
