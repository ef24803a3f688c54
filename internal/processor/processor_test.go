package processor_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/processor"
	"medquote/internal/repository"
	"medquote/internal/storage"
)

type publishCall struct {
	topic, key string
	payload    []byte
}

type fakePublisher struct {
	PublishFunc func(topic, key string, payload []byte) error
	calls       []publishCall
}

func (f *fakePublisher) Publish(topic, key string, payload []byte) error {
	f.calls = append(f.calls, publishCall{topic, key, payload})
	if f.PublishFunc != nil {
		return f.PublishFunc(topic, key, payload)
	}
	return nil
}

func newTasks(t *testing.T, payloads ...string) repository.TaskRepository {
	st, err := storage.New("")
	require.NoError(t, err)
	tasks := st.Tasks()
	for _, p := range payloads {
		require.NoError(t, tasks.CreateTask(context.Background(), "r1", []byte(p)))
	}
	return tasks
}

func TestProcessPublishesAndDeletes(t *testing.T) {
	tasks := newTasks(t, "a", "b")
	pub := &fakePublisher{}
	p := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events"})

	assert.Equal(t, 2, p.ProcessPendingTasks(context.Background()))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, publishCall{"events", "r1", []byte("a")}, pub.calls[0])

	left, err := tasks.ListTasks(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcessRetriesUntilNoAttemptsLeft(t *testing.T) {
	tasks := newTasks(t, "a")
	pub := &fakePublisher{PublishFunc: func(string, string, []byte) error { return errors.New("broker down") }}
	// retry immediately
	p := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events", MaxAttempts: 2, RetryDelay: time.Nanosecond})
	ctx := context.Background()

	assert.Equal(t, 0, p.ProcessPendingTasks(ctx))
	all, _ := tasks.ListTasks(ctx, 0)
	require.Len(t, all, 1)
	assert.Equal(t, repository.TaskStatusFailed, all[0].Status)
	assert.Equal(t, 1, all[0].AttemptCount)

	time.Sleep(time.Millisecond)
	assert.Equal(t, 0, p.ProcessPendingTasks(ctx))
	all, _ = tasks.ListTasks(ctx, 0)
	assert.Equal(t, repository.TaskStatusNoAttemptsLeft, all[0].Status)

	assert.Equal(t, 0, p.ProcessPendingTasks(ctx))
	assert.Len(t, pub.calls, 2)
}

func TestProcessKeepsKeyOrderOnFailure(t *testing.T) {
	st, err := storage.New("")
	require.NoError(t, err)
	tasks := st.Tasks()
	ctx := context.Background()
	for _, kv := range [][2]string{{"r1", "a"}, {"r2", "x"}, {"r1", "b"}} {
		require.NoError(t, tasks.CreateTask(ctx, kv[0], []byte(kv[1])))
	}

	fail := true
	pub := &fakePublisher{PublishFunc: func(_, _ string, payload []byte) error {
		if fail && string(payload) == "a" {
			return errors.New("broker down")
		}
		return nil
	}}
	p := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events", RetryDelay: 20 * time.Millisecond})

	// "b" must not overtake the failed "a"
	assert.Equal(t, 1, p.ProcessPendingTasks(ctx))
	assert.Equal(t, 0, p.ProcessPendingTasks(ctx))

	fail = false
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, p.ProcessPendingTasks(ctx))

	var order []string
	for _, c := range pub.calls {
		order = append(order, string(c.payload))
	}
	assert.Equal(t, []string{"a", "x", "a", "b"}, order)
}

func TestProcessRecoversStaleProcessing(t *testing.T) {
	tasks := newTasks(t, "a", "b")
	ctx := context.Background()
	// left behind by a publisher that died mid-send
	require.NoError(t, tasks.MarkTaskProcessing(ctx, 1))

	pub := &fakePublisher{}
	live := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events", Lease: time.Hour})
	assert.Equal(t, 0, live.ProcessPendingTasks(ctx))

	time.Sleep(2 * time.Millisecond)
	recovering := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events", Lease: time.Millisecond})
	assert.Equal(t, 2, recovering.ProcessPendingTasks(ctx))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, []byte("a"), pub.calls[0].payload)
	assert.Equal(t, []byte("b"), pub.calls[1].payload)
}

func TestStartStopsWithContext(t *testing.T) {
	tasks := newTasks(t, "a")
	pub := &fakePublisher{}
	p := processor.NewTaskProcessor(tasks, pub, processor.Config{Topic: "events", PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		left, _ := tasks.ListTasks(context.Background(), 0)
		return len(left) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := processor.LogPublisher{Logger: log.New(&buf, "", 0)}
	require.NoError(t, pub.Publish("events", "r1", []byte(`{"x":1}`)))
	assert.Equal(t, "publish topic=events key=r1 payload={\"x\":1}\n", buf.String())
}
