// Package repository declares the persistence contracts of the marketplace
// and implements them on PostgreSQL.
package repository

import (
	"context"

	"medquote/internal/models"
)

type UserRepository interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	CreatePharmacy(ctx context.Context, p *models.Pharmacy) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetPharmacy(ctx context.Context, id string) (*models.Pharmacy, error)
	ListPharmacies(ctx context.Context, verifiedOnly bool) ([]*models.Pharmacy, error)
	SetPharmacyVerified(ctx context.Context, id string, verified bool) error
}

// RequestFilter narrows ListRequests. The zero value lists everything.
type RequestFilter struct {
	CustomerID string
	OpenOnly   bool
	Limit      int
}

type RequestRepository interface {
	GetRequest(ctx context.Context, id string) (*models.MedicineRequest, error)
	// ListRequests returns requests most recent first.
	ListRequests(ctx context.Context, f RequestFilter) ([]*models.MedicineRequest, error)
	GetQuote(ctx context.Context, id string) (*models.Quote, error)
	// ListQuotesByRequest returns quotes oldest first.
	ListQuotesByRequest(ctx context.Context, requestID string) ([]*models.Quote, error)
	// ListQuotesByPharmacy returns quotes most recent first.
	ListQuotesByPharmacy(ctx context.Context, pharmacyID string) ([]*models.Quote, error)
}

// RequestTx is a unit of work holding the lock of one request. Writes become
// visible only if the function passed to Store.WithRequest returns nil.
type RequestTx interface {
	// Request and Quotes are the state read under the lock.
	Request() *models.MedicineRequest
	Quotes() []*models.Quote

	// UpdateRequest writes r if its stored status still equals from,
	// otherwise it fails with apperr.ErrConflict.
	UpdateRequest(ctx context.Context, r *models.MedicineRequest, from models.RequestStatus) error
	InsertQuote(ctx context.Context, q *models.Quote) error
	// UpdateQuoteStatus is a compare-and-set on the quote status.
	UpdateQuoteStatus(ctx context.Context, q *models.Quote, from models.QuoteStatus) error
	// Enqueue adds an outbox task committed together with the other writes.
	Enqueue(ctx context.Context, key string, payload []byte) error
}

type Store interface {
	UserRepository
	RequestRepository

	// CreateRequest stores r and its outbox payloads atomically.
	CreateRequest(ctx context.Context, r *models.MedicineRequest, payloads ...[]byte) error
	// WithRequest locks the request, runs fn and commits when fn returns nil.
	// An unknown request fails with apperr.ErrNotFound before fn runs.
	WithRequest(ctx context.Context, requestID string, fn func(tx RequestTx) error) error
	Tasks() TaskRepository
}
