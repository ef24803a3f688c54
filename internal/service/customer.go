package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"medquote/internal/apperr"
	"medquote/internal/audit"
	"medquote/internal/events"
	"medquote/internal/lifecycle"
	"medquote/internal/models"
	"medquote/internal/repository"
)

// CustomerService is the request-side controller.
type CustomerService struct {
	deps Deps
}

func NewCustomerService(deps Deps) *CustomerService {
	deps.setDefaults()
	return &CustomerService{deps: deps}
}

// CreateRequestInput describes a new request. Exactly one of
// PrescriptionImageURL, Prescription and Medicines must be set; a nil
// Medicines means the manual list is absent.
type CreateRequestInput struct {
	PrescriptionImageURL string
	Prescription         io.Reader
	Medicines            []models.Medicine
	Radius               models.Radius
	Address              string
	Latitude             *float64
	Longitude            *float64
}

func (in CreateRequestInput) validate() error {
	var errs []error
	specs := 0
	if in.PrescriptionImageURL != "" {
		specs++
	}
	if in.Prescription != nil {
		specs++
	}
	if in.Medicines != nil {
		specs++
		if len(in.Medicines) == 0 {
			errs = append(errs, apperr.Validation("manual medicine list is empty"))
		}
		for i, m := range in.Medicines {
			if strings.TrimSpace(m.Name) == "" {
				errs = append(errs, apperr.Validation("medicine %d has no name", i+1))
			}
			if m.Quantity < 0 {
				errs = append(errs, apperr.Validation("medicine %d has negative quantity", i+1))
			}
		}
	}
	if specs != 1 {
		errs = append(errs, apperr.Validation("exactly one of prescription or manual medicines is required"))
	}
	if !in.Radius.Valid() {
		errs = append(errs, apperr.Validation("radius must be 5 or 10, got %d", in.Radius))
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		errs = append(errs, apperr.Validation("latitude and longitude go together"))
	} else if in.Latitude != nil && !models.ValidCoordinates(*in.Latitude, *in.Longitude) {
		errs = append(errs, apperr.Validation("coordinates out of range"))
	}
	return errors.Join(errs...)
}

// CreateRequest stores a pending request for the caller. Missing address
// and coordinates come from the customer's profile; an address without
// coordinates is geocoded. Nothing is stored when geocoding or the upload
// fails.
func (s *CustomerService) CreateRequest(ctx context.Context, caller models.Caller, in CreateRequestInput) (*models.MedicineRequest, error) {
	if err := requireRole(caller, models.UserTypeCustomer); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	customer, err := s.deps.Store.GetCustomer(ctx, caller.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("customer %s: %w", caller.UserID, apperr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}

	address := strings.TrimSpace(in.Address)
	lat, lon := in.Latitude, in.Longitude
	if address == "" {
		address = customer.Address
		if lat == nil {
			lat, lon = customer.Latitude, customer.Longitude
		}
	}
	if address == "" {
		return nil, apperr.Validation("delivery address is required")
	}
	if lat == nil {
		p, err := s.deps.Geocoder.Geocode(ctx, address)
		if err != nil {
			return nil, err
		}
		lat, lon = &p.Lat, &p.Lon
	}

	now := s.deps.Now()
	r := &models.MedicineRequest{
		ID:                   uuid.NewString(),
		CustomerID:           caller.UserID,
		PrescriptionImageURL: in.PrescriptionImageURL,
		Radius:               in.Radius,
		CustomerLatitude:     *lat,
		CustomerLongitude:    *lon,
		CustomerAddress:      address,
		Status:               models.RequestStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if in.Medicines != nil {
		r.ManualMedicines = make([]string, len(in.Medicines))
		for i, m := range in.Medicines {
			r.ManualMedicines[i] = m.String()
		}
	}

	uploaded := ""
	if in.Prescription != nil {
		if s.deps.Prescriptions == nil {
			return nil, fmt.Errorf("no prescription store configured: %w", apperr.ErrUpload)
		}
		url, err := s.deps.Prescriptions.Save(ctx, in.Prescription)
		if err != nil {
			return nil, err
		}
		r.PrescriptionImageURL, uploaded = url, url
	}

	payload, err := events.Created(r).Marshal()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.CreateRequest(ctx, r, payload); err != nil {
		if uploaded != "" {
			if rmErr := s.deps.Prescriptions.Remove(ctx, uploaded); rmErr != nil {
				log.Printf("remove orphaned prescription %s: %v", uploaded, rmErr)
			}
		}
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.deps.Audit.Log(audit.Transition(now, audit.EntityRequest, r.ID, "", string(r.Status), caller.UserID, "request created"))
	return r, nil
}

// ownRequest loads a request and checks the caller owns it.
func (s *CustomerService) ownRequest(ctx context.Context, caller models.Caller, requestID string) (*models.MedicineRequest, error) {
	if err := requireRole(caller, models.UserTypeCustomer); err != nil {
		return nil, err
	}
	r, err := s.deps.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !customerCanSee(caller, r) {
		return nil, fmt.Errorf("request %s: %w", requestID, apperr.ErrForbidden)
	}
	return r, nil
}

// AcceptQuote accepts quoteID for channel, rejects every other pending quote
// of the request and records the agreed price. Accepting on a request that
// is already resolved fails with ErrInvalidStateTransition; losing a race to
// a concurrent accept or cancel fails with ErrConflict.
func (s *CustomerService) AcceptQuote(ctx context.Context, caller models.Caller, quoteID string, channel models.Channel) (*models.MedicineRequest, error) {
	if err := requireRole(caller, models.UserTypeCustomer); err != nil {
		return nil, err
	}
	ch, err := s.deps.Channels.GetChannel(channel)
	if err != nil {
		return nil, err
	}
	q, err := s.deps.Store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	r, err := s.ownRequest(ctx, caller, q.RequestID)
	if err != nil {
		return nil, err
	}
	// Verification is read from the store: another process may have revoked
	// the pharmacy since this one last refreshed its cache.
	p, err := s.deps.Store.GetPharmacy(ctx, q.PharmacyID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("quote %s: %w", quoteID, apperr.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("load pharmacy of quote %s: %w", quoteID, err)
	case !p.Verified:
		return nil, fmt.Errorf("quote %s: %w", quoteID, apperr.ErrNotFound)
	}
	if r.Status.Terminal() {
		return nil, fmt.Errorf("accept on %s request %s: %w", r.Status, r.ID, apperr.ErrInvalidStateTransition)
	}
	if q.Status.Terminal() {
		return nil, fmt.Errorf("accept on %s quote %s: %w", q.Status, q.ID, apperr.ErrInvalidStateTransition)
	}

	out, err := s.deps.transition(ctx, caller.UserID, r.ID, func(tx repository.RequestTx) (lifecycle.Transition, error) {
		if cur := tx.Request(); cur.Status != r.Status && cur.Status.Terminal() {
			return lifecycle.Transition{}, fmt.Errorf("request %s became %s: %w", r.ID, cur.Status, apperr.ErrConflict)
		}
		var locked *models.Quote
		for _, lq := range tx.Quotes() {
			if lq.ID == quoteID {
				locked = lq
			}
		}
		if locked != nil && locked.Status != models.QuoteStatusPending {
			return lifecycle.Transition{}, fmt.Errorf("quote %s became %s: %w", quoteID, locked.Status, apperr.ErrConflict)
		}
		if locked == nil {
			return lifecycle.Transition{}, fmt.Errorf("quote %s: %w", quoteID, apperr.ErrNotFound)
		}
		if err := ch.Validate(locked); err != nil {
			return lifecycle.Transition{}, err
		}
		return lifecycle.Transition{
			Kind:        lifecycle.QuoteAccepted,
			QuoteID:     quoteID,
			Channel:     ch.Type(),
			AgreedPrice: ch.Price(locked),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.Request, nil
}

// CancelRequest cancels a pending or quoted request and rejects its pending
// quotes.
func (s *CustomerService) CancelRequest(ctx context.Context, caller models.Caller, requestID string) (*models.MedicineRequest, error) {
	if _, err := s.ownRequest(ctx, caller, requestID); err != nil {
		return nil, err
	}
	out, err := s.deps.transition(ctx, caller.UserID, requestID, func(repository.RequestTx) (lifecycle.Transition, error) {
		return lifecycle.Transition{Kind: lifecycle.RequestCancelled}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.Request, nil
}

// ListRequests returns the caller's requests, most recent first.
func (s *CustomerService) ListRequests(ctx context.Context, caller models.Caller) ([]*models.MedicineRequest, error) {
	if err := requireRole(caller, models.UserTypeCustomer); err != nil {
		return nil, err
	}
	return s.deps.Store.ListRequests(ctx, repository.RequestFilter{CustomerID: caller.UserID})
}

// GetRequest returns one of the caller's requests.
func (s *CustomerService) GetRequest(ctx context.Context, caller models.Caller, requestID string) (*models.MedicineRequest, error) {
	return s.ownRequest(ctx, caller, requestID)
}

// ListQuotes returns the quotes on one of the caller's requests that come
// from verified pharmacies, cheapest delivery first.
func (s *CustomerService) ListQuotes(ctx context.Context, caller models.Caller, requestID string) ([]*models.Quote, error) {
	if _, err := s.ownRequest(ctx, caller, requestID); err != nil {
		return nil, err
	}
	quotes, err := s.deps.Store.ListQuotesByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	verified, err := s.deps.verifiedPharmacies(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*models.Quote, 0, len(quotes))
	for _, q := range quotes {
		if !verified[q.PharmacyID] {
			continue
		}
		p, err := s.deps.pharmacy(ctx, q.PharmacyID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		q.Pharmacy = p.Profile()
		res = append(res, q)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if c := res[i].DeliveryPrice.Cmp(res[j].DeliveryPrice); c != 0 {
			return c < 0
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}
