// Package processor drains the transactional outbox into a publisher.
package processor

import (
	"context"
	"log"
	"time"

	"medquote/internal/repository"
)

type Publisher interface {
	Publish(topic, key string, payload []byte) error
}

// LogPublisher stands in for Kafka when it is disabled.
type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(topic, key string, payload []byte) error {
	l := p.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("publish topic=%s key=%s payload=%s", topic, key, payload)
	return nil
}

type Config struct {
	Topic        string
	PollInterval time.Duration
	Limit        int
	MaxAttempts  int
	RetryDelay   time.Duration
	// Lease is how long a task may stay PROCESSING before it is retried.
	Lease        time.Duration
}

type TaskProcessor struct {
	repo         repository.TaskRepository
	producer     Publisher
	topic        string
	pollInterval time.Duration
	limit        int
	maxAttempts  int
	retryDelay   time.Duration
	lease        time.Duration
}

func NewTaskProcessor(repo repository.TaskRepository, producer Publisher, cfg Config) *TaskProcessor {
	p := &TaskProcessor{
		repo:         repo,
		producer:     producer,
		topic:        cfg.Topic,
		pollInterval: cfg.PollInterval,
		limit:        cfg.Limit,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
		lease:        cfg.Lease,
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	if p.limit <= 0 {
		p.limit = 100
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = 2 * time.Second
	}
	if p.lease <= 0 {
		p.lease = time.Minute
	}
	return p
}

func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessPendingTasks(ctx)
		}
	}
}

// ProcessPendingTasks runs one poll and returns how many tasks were
// published. Once a task fails, later tasks with the same key wait for the
// next poll.
func (p *TaskProcessor) ProcessPendingTasks(ctx context.Context) int {
	tasks, err := p.repo.GetPendingTasks(ctx, p.limit, p.maxAttempts, p.lease)
	if err != nil {
		log.Printf("outbox: fetch pending: %v", err)
		return 0
	}
	published := 0
	stalled := make(map[string]bool)
	for _, task := range tasks {
		if stalled[task.Key] {
			continue
		}
		if err := p.repo.MarkTaskProcessing(ctx, task.ID); err != nil {
			log.Printf("outbox: mark task %d processing: %v", task.ID, err)
			stalled[task.Key] = true
			continue
		}
		if err := p.producer.Publish(p.topic, task.Key, task.Payload); err != nil {
			p.fail(ctx, task, err)
			stalled[task.Key] = true
			continue
		}
		published++
		if err := p.repo.DeleteTask(ctx, task.ID); err != nil {
			log.Printf("outbox: delete published task %d: %v", task.ID, err)
		}
	}
	return published
}

// fail schedules a retry, or dead-letters the task once it is out of
// attempts.
func (p *TaskProcessor) fail(ctx context.Context, task *repository.Task, cause error) {
	attempt := task.AttemptCount + 1
	status := repository.TaskStatusFailed
	if attempt >= p.maxAttempts {
		status = repository.TaskStatusNoAttemptsLeft
	}
	if err := p.repo.UpdateTaskFailure(ctx, task.ID, attempt, status, time.Now().Add(p.retryDelay)); err != nil {
		log.Printf("outbox: record failure of task %d: %v", task.ID, err)
	}
	log.Printf("outbox: publish task %d key=%s attempt %d/%d: %v", task.ID, task.Key, attempt, p.maxAttempts, cause)
}
