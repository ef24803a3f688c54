package service

import (
	"context"

	"medquote/internal/audit"
	"medquote/internal/lifecycle"
	"medquote/internal/models"
	"medquote/internal/repository"
)

// OperatorActor is recorded as the actor of operator mutations.
const OperatorActor = "operator"

// OperatorService exposes fulfillment and pharmacy verification to
// operators, plus read access used by the console.
type OperatorService struct {
	deps Deps
}

func NewOperatorService(deps Deps) *OperatorService {
	deps.setDefaults()
	return &OperatorService{deps: deps}
}

// CompleteRequest marks an accepted request as fulfilled.
func (s *OperatorService) CompleteRequest(ctx context.Context, requestID string) (*models.MedicineRequest, error) {
	out, err := s.deps.transition(ctx, OperatorActor, requestID, func(repository.RequestTx) (lifecycle.Transition, error) {
		return lifecycle.Transition{Kind: lifecycle.RequestCompleted}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.Request, nil
}

func (s *OperatorService) VerifyPharmacy(ctx context.Context, pharmacyID string, verified bool) (*models.Pharmacy, error) {
	before, err := s.deps.Store.GetPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Store.SetPharmacyVerified(ctx, pharmacyID, verified); err != nil {
		return nil, err
	}
	p, err := s.deps.Store.GetPharmacy(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}
	s.deps.Pharmacies.Put(p)
	s.deps.Audit.Log(audit.Transition(s.deps.Now(), audit.EntityPharmacy, p.ID,
		verifiedState(before.Verified), verifiedState(p.Verified), OperatorActor, "pharmacy verification changed"))
	return p, nil
}

func verifiedState(v bool) string {
	if v {
		return "verified"
	}
	return "unverified"
}

func (s *OperatorService) ListPharmacies(ctx context.Context) ([]*models.Pharmacy, error) {
	return s.deps.Store.ListPharmacies(ctx, false)
}

func (s *OperatorService) ListRequests(ctx context.Context) ([]*models.MedicineRequest, error) {
	return s.deps.Store.ListRequests(ctx, repository.RequestFilter{})
}

func (s *OperatorService) ListQuotes(ctx context.Context, requestID string) ([]*models.Quote, error) {
	if _, err := s.deps.Store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListQuotesByRequest(ctx, requestID)
}

// Outbox returns up to limit outbox tasks.
func (s *OperatorService) Outbox(ctx context.Context, limit int) ([]*repository.Task, error) {
	return s.deps.Store.Tasks().ListTasks(ctx, limit)
}
