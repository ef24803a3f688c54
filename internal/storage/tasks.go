package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"medquote/internal/apperr"
	"medquote/internal/repository"
)

// addTask must be called with st.mu held.
func (st *MemoryStore) addTask(key string, payload []byte) {
	st.nextTaskID++
	t := time.Now().UTC()
	st.tasks[st.nextTaskID] = &repository.Task{
		ID:        st.nextTaskID,
		Key:       key,
		CreatedAt: t,
		UpdatedAt: t,
		Payload:   payload,
		Status:    repository.TaskStatusCreated,
	}
}

func (st *MemoryStore) Tasks() repository.TaskRepository {
	return memoryTasks{st: st}
}

type memoryTasks struct {
	st *MemoryStore
}

func (m memoryTasks) CreateTask(_ context.Context, key string, payload []byte) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	m.st.addTask(key, append([]byte(nil), payload...))
	m.st.persist()
	return nil
}

func (m memoryTasks) sorted(keep func(t *repository.Task) bool, limit int) []*repository.Task {
	res := make([]*repository.Task, 0)
	for _, t := range m.st.tasks {
		if keep(t) {
			cp := *t
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (m memoryTasks) GetPendingTasks(_ context.Context, limit, maxAttempts int, lease time.Duration) ([]*repository.Task, error) {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	now := time.Now()
	retrying := func(t *repository.Task) bool {
		return t.Status == repository.TaskStatusCreated || t.Status == repository.TaskStatusFailed
	}
	inFlight := func(t *repository.Task) bool {
		return t.Status == repository.TaskStatusProcessing && now.Sub(t.UpdatedAt) < lease
	}
	blocking := func(t *repository.Task) bool {
		if inFlight(t) {
			return true
		}
		return retrying(t) && t.NextAttemptAt.Valid && t.NextAttemptAt.Time.After(now)
	}
	due := func(t *repository.Task) bool {
		if t.Status == repository.TaskStatusProcessing {
			return !inFlight(t)
		}
		return retrying(t) && !blocking(t)
	}

	// held[key] is the lowest id of a task that blocks its key.
	held := make(map[string]int64)
	for _, t := range m.st.tasks {
		if blocking(t) {
			if id, ok := held[t.Key]; !ok || t.ID < id {
				held[t.Key] = t.ID
			}
		}
	}
	return m.sorted(func(t *repository.Task) bool {
		if !due(t) || t.AttemptCount >= maxAttempts {
			return false
		}
		id, ok := held[t.Key]
		return !ok || t.ID < id
	}, limit), nil
}

func (m memoryTasks) ListTasks(_ context.Context, limit int) ([]*repository.Task, error) {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.sorted(func(*repository.Task) bool { return true }, limit), nil
}

func (m memoryTasks) update(taskID int64, fn func(t *repository.Task)) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	t, ok := m.st.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	m.st.persist()
	return nil
}

func (m memoryTasks) MarkTaskProcessing(_ context.Context, taskID int64) error {
	return m.update(taskID, func(t *repository.Task) {
		t.Status = repository.TaskStatusProcessing
	})
}

func (m memoryTasks) DeleteTask(_ context.Context, taskID int64) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	delete(m.st.tasks, taskID)
	m.st.persist()
	return nil
}

func (m memoryTasks) UpdateTaskFailure(_ context.Context, taskID int64, attemptCount int, newStatus repository.TaskStatus, nextAttemptAt time.Time) error {
	return m.update(taskID, func(t *repository.Task) {
		t.Status = newStatus
		t.AttemptCount = attemptCount
		t.NextAttemptAt = sql.NullTime{Time: nextAttemptAt, Valid: true}
		if newStatus == repository.TaskStatusNoAttemptsLeft {
			t.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		}
	})
}
