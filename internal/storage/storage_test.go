package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/apperr"
	"medquote/internal/models"
	"medquote/internal/repository"
	"medquote/internal/storage"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setupStorage(t *testing.T, file string) *storage.MemoryStore {
	st, err := storage.New(file)
	require.NoError(t, err)
	return st
}

func seed(t *testing.T, st *storage.MemoryStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateCustomer(ctx, &models.Customer{
		User: models.User{ID: "c1", Email: "mona@example.com", UserType: models.UserTypeCustomer, PasswordHash: "hash"},
	}))
	require.NoError(t, st.CreatePharmacy(ctx, &models.Pharmacy{
		User:         models.User{ID: "p1", Email: "nile@example.com", UserType: models.UserTypePharmacy, PasswordHash: "hash"},
		PharmacyName: "Nile", Latitude: 30, Longitude: 31,
	}))
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, st.CreateRequest(ctx, &models.MedicineRequest{
			ID: id, CustomerID: "c1", ManualMedicines: []string{"Aspirin"}, Radius: models.Radius5,
			Status: models.RequestStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, []byte(`{"type":"request.created"}`)))
	}
}

func pendingQuote(id, pharmacyID string) *models.Quote {
	return &models.Quote{
		ID: id, RequestID: "r1", PharmacyID: pharmacyID, Status: models.QuoteStatusPending,
		DeliveryPrice: decimal.NewFromInt(250), PickupPrice: decimal.NewFromInt(200),
		EstimatedDeliveryTime: "1 hour", CreatedAt: base,
	}
}

func TestUsers(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)
	ctx := context.Background()

	err := st.CreateCustomer(ctx, &models.Customer{User: models.User{ID: "c2", Email: "mona@example.com"}})
	assert.ErrorIs(t, err, apperr.ErrEmailTaken)

	u, err := st.GetUserByEmail(ctx, "nile@example.com")
	require.NoError(t, err)
	assert.Equal(t, "p1", u.ID)
	assert.Equal(t, "hash", u.PasswordHash)

	list, err := st.ListPharmacies(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, st.SetPharmacyVerified(ctx, "p1", true))
	list, err = st.ListPharmacies(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, st.SetPharmacyVerified(ctx, "nope", true), apperr.ErrNotFound)
	_, err = st.GetCustomer(ctx, "p1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListRequestsNewestFirst(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)

	list, err := st.ListRequests(context.Background(), repository.RequestFilter{CustomerID: "c1"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{list[0].ID, list[1].ID, list[2].ID})

	list, err = st.ListRequests(context.Background(), repository.RequestFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRequestUnknownCustomer(t *testing.T) {
	st := setupStorage(t, "")
	err := st.CreateRequest(context.Background(), &models.MedicineRequest{ID: "r9", CustomerID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWithRequestCommitsOnSuccess(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)
	ctx := context.Background()

	err := st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		require.NoError(t, tx.InsertQuote(ctx, pendingQuote("q1", "p1")))
		upd := tx.Request().Clone()
		upd.UpdateState(models.RequestStatusQuoted, base)
		require.NoError(t, tx.UpdateRequest(ctx, upd, models.RequestStatusPending))
		return tx.Enqueue(ctx, "r1", []byte("quote.submitted"))
	})
	require.NoError(t, err)

	r, err := st.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusQuoted, r.Status)

	quotes, err := st.ListQuotesByRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	tasks, err := st.Tasks().ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)
	assert.Equal(t, []byte("quote.submitted"), tasks[3].Payload)
}

func TestWithRequestDiscardsOnError(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		require.NoError(t, tx.InsertQuote(ctx, pendingQuote("q1", "p1")))
		require.NoError(t, tx.Enqueue(ctx, "r1", []byte("x")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetQuote(ctx, "q1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	tasks, _ := st.Tasks().ListTasks(ctx, 0)
	assert.Len(t, tasks, 3)

	err = st.WithRequest(ctx, "missing", func(repository.RequestTx) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWithRequestCompareAndSet(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)
	ctx := context.Background()

	err := st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		upd := tx.Request().Clone()
		upd.UpdateState(models.RequestStatusAccepted, base)
		return tx.UpdateRequest(ctx, upd, models.RequestStatusQuoted)
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		if err := tx.InsertQuote(ctx, pendingQuote("q1", "p1")); err != nil {
			return err
		}
		return tx.InsertQuote(ctx, pendingQuote("q2", "p1"))
	})
	assert.ErrorIs(t, err, apperr.ErrDuplicateQuote)

	err = st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		if err := tx.InsertQuote(ctx, pendingQuote("q1", "p1")); err != nil {
			return err
		}
		rejected := pendingQuote("q1", "p1")
		rejected.Status = models.QuoteStatusRejected
		if err := tx.UpdateQuoteStatus(ctx, rejected, models.QuoteStatusPending); err != nil {
			return err
		}
		return tx.UpdateQuoteStatus(ctx, rejected, models.QuoteStatusPending)
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestWithRequestSerializes(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)
	ctx := context.Background()

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
				cur := tx.Request()
				if cur.Status != models.RequestStatusPending {
					return apperr.ErrConflict
				}
				upd := cur.Clone()
				upd.UpdateState(models.RequestStatusCancelled, base)
				return tx.UpdateRequest(ctx, upd, models.RequestStatusPending)
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperr.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), conflicts.Load())
}

func TestWithRequestHonoursContext(t *testing.T) {
	st := setupStorage(t, "")
	seed(t, st)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = st.WithRequest(context.Background(), "r1", func(repository.RequestTx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := st.WithRequest(ctx, "r1", func(repository.RequestTx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other requests are not blocked
	assert.NoError(t, st.WithRequest(context.Background(), "r2", func(repository.RequestTx) error { return nil }))
	close(release)
}

func TestSnapshotReload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "medquote.json")
	st := setupStorage(t, file)
	seed(t, st)
	ctx := context.Background()
	require.NoError(t, st.WithRequest(ctx, "r1", func(tx repository.RequestTx) error {
		return tx.InsertQuote(ctx, pendingQuote("q1", "p1"))
	}))

	again := setupStorage(t, file)
	u, err := again.GetUserByEmail(ctx, "mona@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", u.PasswordHash)

	q, err := again.GetQuote(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(q.DeliveryPrice))

	list, err := again.ListRequests(ctx, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	tasks, err := again.Tasks().ListTasks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.NoError(t, again.Tasks().CreateTask(ctx, "r2", []byte("y")))
	tasks, _ = again.Tasks().ListTasks(ctx, 0)
	assert.Equal(t, int64(4), tasks[3].ID)
}

func TestMemoryTasks(t *testing.T) {
	st := setupStorage(t, "")
	tasks := st.Tasks()
	ctx := context.Background()

	require.NoError(t, tasks.CreateTask(ctx, "r1", []byte("a")))
	require.NoError(t, tasks.CreateTask(ctx, "r1", []byte("b")))

	pending, err := tasks.GetPendingTasks(ctx, 10, 3, time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, tasks.MarkTaskProcessing(ctx, pending[0].ID))
	require.NoError(t, tasks.UpdateTaskFailure(ctx, pending[1].ID, 1, repository.TaskStatusFailed, time.Now().Add(time.Hour)))

	pending, err = tasks.GetPendingTasks(ctx, 10, 3, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// a delayed task holds back later tasks of its key only
	require.NoError(t, tasks.CreateTask(ctx, "r1", []byte("c")))
	require.NoError(t, tasks.CreateTask(ctx, "r2", []byte("d")))
	pending, err = tasks.GetPendingTasks(ctx, 10, 3, time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []byte("d"), pending[0].Payload)
	require.NoError(t, tasks.DeleteTask(ctx, 3))
	require.NoError(t, tasks.DeleteTask(ctx, 4))

	require.NoError(t, tasks.DeleteTask(ctx, 1))
	all, _ := tasks.ListTasks(ctx, 0)
	require.Len(t, all, 1)
	assert.Equal(t, repository.TaskStatusFailed, all[0].Status)
	assert.ErrorIs(t, tasks.MarkTaskProcessing(ctx, 42), apperr.ErrNotFound)
}

func TestMemoryTasksProcessingLease(t *testing.T) {
	st := setupStorage(t, "")
	tasks := st.Tasks()
	ctx := context.Background()

	require.NoError(t, tasks.CreateTask(ctx, "r1", []byte("a")))
	require.NoError(t, tasks.CreateTask(ctx, "r1", []byte("b")))
	require.NoError(t, tasks.MarkTaskProcessing(ctx, 1))

	// an in-flight task holds back the rest of its key
	pending, err := tasks.GetPendingTasks(ctx, 10, 3, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// once its lease runs out it is handed out again, still first
	time.Sleep(2 * time.Millisecond)
	pending, err = tasks.GetPendingTasks(ctx, 10, 3, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []byte("a"), pending[0].Payload)
	assert.Equal(t, repository.TaskStatusProcessing, pending[0].Status)
}
