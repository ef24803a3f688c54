package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"medquote/internal/apperr"
	"medquote/internal/lifecycle"
	"medquote/internal/models"
	"medquote/internal/repository"
)

// PharmacyService is the quote-side controller.
type PharmacyService struct {
	deps Deps
}

func NewPharmacyService(deps Deps) *PharmacyService {
	deps.setDefaults()
	return &PharmacyService{deps: deps}
}

type QuoteInput struct {
	DeliveryPrice decimal.Decimal
	PickupPrice   decimal.Decimal
	EstimatedTime string
	Notes         string
}

func (in QuoteInput) validate() error {
	var errs []error
	if in.DeliveryPrice.IsNegative() {
		errs = append(errs, apperr.Validation("delivery price %s is negative", in.DeliveryPrice))
	}
	if in.PickupPrice.IsNegative() {
		errs = append(errs, apperr.Validation("pickup price %s is negative", in.PickupPrice))
	}
	if !models.ValidEstimatedTime(in.EstimatedTime) {
		errs = append(errs, apperr.Validation("estimated time %q is not one of %s",
			in.EstimatedTime, strings.Join(models.EstimatedTimes, ", ")))
	}
	return errors.Join(errs...)
}

// VisibleRequest is a request as a pharmacy sees it in its feed.
type VisibleRequest struct {
	*models.MedicineRequest
	DistanceKm    float64 `json:"distance_km"`
	AlreadyQuoted bool    `json:"already_quoted"`
}

// PharmacyQuote is one of the pharmacy's own quotes. Customer contact is
// only filled in once the quote has been accepted.
type PharmacyQuote struct {
	*models.Quote
	Customer *models.CustomerContact `json:"customer,omitempty"`
}

// verifiedPharmacy reads the caller's pharmacy from the store, never the
// cache, so a revoked verification takes effect immediately.
func (s *PharmacyService) verifiedPharmacy(ctx context.Context, caller models.Caller) (*models.Pharmacy, error) {
	if err := requireRole(caller, models.UserTypePharmacy); err != nil {
		return nil, err
	}
	p, err := s.deps.Store.GetPharmacy(ctx, caller.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("pharmacy %s: %w", caller.UserID, apperr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	s.deps.Pharmacies.Put(p)
	if !p.Verified {
		return nil, fmt.Errorf("pharmacy %s is not verified: %w", p.ID, apperr.ErrForbidden)
	}
	return p, nil
}

// SubmitQuote attaches a pending quote to requestID and promotes a pending
// request to quoted. The terminal check and the insert happen under the
// request lock.
func (s *PharmacyService) SubmitQuote(ctx context.Context, caller models.Caller, requestID string, in QuoteInput) (*models.Quote, error) {
	p, err := s.verifiedPharmacy(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	r, err := s.deps.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if d, ok := inRadius(p, r); !ok {
		return nil, fmt.Errorf("request %s is %.1f km away, radius %d: %w", r.ID, d, r.Radius, apperr.ErrForbidden)
	}

	q := &models.Quote{
		ID:                    uuid.NewString(),
		RequestID:             requestID,
		PharmacyID:            p.ID,
		DeliveryPrice:         in.DeliveryPrice,
		PickupPrice:           in.PickupPrice,
		EstimatedDeliveryTime: in.EstimatedTime,
		Notes:                 strings.TrimSpace(in.Notes),
	}
	out, err := s.deps.transition(ctx, caller.UserID, requestID, func(repository.RequestTx) (lifecycle.Transition, error) {
		return lifecycle.Transition{Kind: lifecycle.QuoteSubmitted, Quote: q}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.Created, nil
}

// ListVisibleRequests returns the open requests within radius of the
// caller, most recent first.
func (s *PharmacyService) ListVisibleRequests(ctx context.Context, caller models.Caller) ([]VisibleRequest, error) {
	p, err := s.verifiedPharmacy(ctx, caller)
	if err != nil {
		return nil, err
	}
	open, err := s.deps.Store.ListRequests(ctx, repository.RequestFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	mine, err := s.deps.Store.ListQuotesByPharmacy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	quoted := make(map[string]bool, len(mine))
	for _, q := range mine {
		quoted[q.RequestID] = true
	}

	res := make([]VisibleRequest, 0)
	for _, r := range open {
		if !pharmacyCanSee(p, r) {
			continue
		}
		d, _ := inRadius(p, r)
		res = append(res, VisibleRequest{MedicineRequest: r, DistanceKm: d, AlreadyQuoted: quoted[r.ID]})
	}
	return res, nil
}

// ListMyQuotes returns the caller's quotes, most recent first. Unverified
// pharmacies can still list their history.
func (s *PharmacyService) ListMyQuotes(ctx context.Context, caller models.Caller) ([]PharmacyQuote, error) {
	if err := requireRole(caller, models.UserTypePharmacy); err != nil {
		return nil, err
	}
	quotes, err := s.deps.Store.ListQuotesByPharmacy(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	res := make([]PharmacyQuote, 0, len(quotes))
	for _, q := range quotes {
		pq := PharmacyQuote{Quote: q}
		if q.Status == models.QuoteStatusAccepted {
			r, err := s.deps.Store.GetRequest(ctx, q.RequestID)
			if err != nil {
				return nil, err
			}
			c, err := s.deps.Store.GetCustomer(ctx, r.CustomerID)
			if err != nil {
				return nil, err
			}
			pq.Customer = &models.CustomerContact{FullName: c.FullName, Phone: c.Phone}
		}
		res = append(res, pq)
	}
	return res, nil
}
