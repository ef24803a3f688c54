package storage

import (
	"context"
	"fmt"

	"medquote/internal/apperr"
	"medquote/internal/models"
	"medquote/internal/repository"
)

func (st *MemoryStore) requestLock(id string) chan struct{} {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()
	l, ok := st.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		st.locks[id] = l
	}
	return l
}

// WithRequest serializes all units of work on one request. Waiting for the
// lock gives up when ctx is done.
func (st *MemoryStore) WithRequest(ctx context.Context, requestID string, fn func(tx repository.RequestTx) error) error {
	st.mu.RLock()
	_, ok := st.requests[requestID]
	st.mu.RUnlock()
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, apperr.ErrNotFound)
	}

	lock := st.requestLock(requestID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	st.mu.RLock()
	tx := &memTx{
		request: st.requests[requestID].Clone(),
		quotes:  st.quotesOf(requestID),
	}
	st.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	return st.commit(tx)
}

func (st *MemoryStore) commit(tx *memTx) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if tx.updated != nil {
		st.requests[tx.updated.ID] = tx.updated
	}
	for _, q := range tx.written {
		st.quotes[q.ID] = q
	}
	for _, t := range tx.tasks {
		st.addTask(t.key, t.payload)
	}
	if tx.updated != nil || len(tx.written) > 0 || len(tx.tasks) > 0 {
		st.persist()
	}
	return nil
}

type stagedTask struct {
	key     string
	payload []byte
}

// memTx stages writes against the snapshot taken under the request lock.
type memTx struct {
	request *models.MedicineRequest
	quotes  []*models.Quote

	updated *models.MedicineRequest
	written []*models.Quote
	tasks   []stagedTask
}

func (t *memTx) Request() *models.MedicineRequest {
	return t.request
}

func (t *memTx) Quotes() []*models.Quote {
	return t.quotes
}

func (t *memTx) current() *models.MedicineRequest {
	if t.updated != nil {
		return t.updated
	}
	return t.request
}

// quote returns the staged or stored version of a quote under this request.
func (t *memTx) quote(id string) *models.Quote {
	for i := len(t.written) - 1; i >= 0; i-- {
		if t.written[i].ID == id {
			return t.written[i]
		}
	}
	for _, q := range t.quotes {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// view returns the latest version of every quote under the request.
func (t *memTx) view() []*models.Quote {
	latest := make(map[string]*models.Quote, len(t.quotes)+len(t.written))
	order := make([]string, 0, len(t.quotes)+len(t.written))
	for _, q := range append(append([]*models.Quote(nil), t.quotes...), t.written...) {
		if _, ok := latest[q.ID]; !ok {
			order = append(order, q.ID)
		}
		latest[q.ID] = q
	}
	res := make([]*models.Quote, 0, len(order))
	for _, id := range order {
		res = append(res, latest[id])
	}
	return res
}

func (t *memTx) UpdateRequest(_ context.Context, r *models.MedicineRequest, from models.RequestStatus) error {
	cur := t.current()
	if r.ID != cur.ID {
		return fmt.Errorf("request %s is not locked by this unit of work", r.ID)
	}
	if cur.Status != from {
		return fmt.Errorf("request %s is no longer %s: %w", r.ID, from, apperr.ErrConflict)
	}
	t.updated = r.Clone()
	return nil
}

func (t *memTx) InsertQuote(_ context.Context, q *models.Quote) error {
	if q.RequestID != t.request.ID {
		return fmt.Errorf("quote %s targets request %s: %w", q.ID, q.RequestID, apperr.ErrNotFound)
	}
	if t.quote(q.ID) != nil {
		return fmt.Errorf("quote %s: %w", q.ID, apperr.ErrConflict)
	}
	if q.Status == models.QuoteStatusPending {
		for _, e := range t.view() {
			if e.PharmacyID == q.PharmacyID && e.Status == models.QuoteStatusPending {
				return fmt.Errorf("pharmacy %s, request %s: %w", q.PharmacyID, q.RequestID, apperr.ErrDuplicateQuote)
			}
		}
	}
	t.written = append(t.written, q.Clone())
	return nil
}

func (t *memTx) UpdateQuoteStatus(_ context.Context, q *models.Quote, from models.QuoteStatus) error {
	cur := t.quote(q.ID)
	if cur == nil {
		return fmt.Errorf("quote %s: %w", q.ID, apperr.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("quote %s is no longer %s: %w", q.ID, from, apperr.ErrConflict)
	}
	upd := cur.Clone()
	upd.Status = q.Status
	upd.UpdatedAt = q.UpdatedAt
	t.written = append(t.written, upd)
	return nil
}

func (t *memTx) Enqueue(_ context.Context, key string, payload []byte) error {
	t.tasks = append(t.tasks, stagedTask{key: key, payload: append([]byte(nil), payload...)})
	return nil
}
