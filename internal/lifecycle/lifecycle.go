// Package lifecycle is the single place where a medicine request and its
// quotes change status. Both the customer and the pharmacy services call
// Apply; neither assigns a status field on its own.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"medquote/internal/apperr"
	"medquote/internal/models"
)

type Kind string

const (
	QuoteSubmitted   Kind = "quote_submitted"
	QuoteAccepted    Kind = "quote_accepted"
	RequestCancelled Kind = "request_cancelled"
	RequestCompleted Kind = "request_completed"
)

// Transition is one lifecycle event against a request.
type Transition struct {
	Kind Kind
	At   time.Time

	// QuoteSubmitted
	Quote *models.Quote

	// QuoteAccepted
	QuoteID     string
	Channel     models.Channel
	AgreedPrice decimal.Decimal
}

type QuoteChange struct {
	Quote *models.Quote
	From  models.QuoteStatus
}

// Outcome holds updated copies of everything a transition touched.
type Outcome struct {
	Request    *models.MedicineRequest
	PrevStatus models.RequestStatus
	Created    *models.Quote
	Changed    []QuoteChange
}

func (o *Outcome) RequestChanged() bool {
	return o.Request.Status != o.PrevStatus
}

// Apply computes the effect of t on req and quotes. Inputs are never
// modified; on error nothing is to be written.
func Apply(req *models.MedicineRequest, quotes []*models.Quote, t Transition) (*Outcome, error) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	out := &Outcome{Request: req.Clone(), PrevStatus: req.Status}

	switch t.Kind {
	case QuoteSubmitted:
		return out, submit(out, quotes, t)
	case QuoteAccepted:
		return out, accept(out, quotes, t)
	case RequestCancelled:
		return out, cancel(out, quotes, t)
	case RequestCompleted:
		return out, complete(out, t)
	}
	return nil, fmt.Errorf("unknown transition %q", t.Kind)
}

func submit(out *Outcome, quotes []*models.Quote, t Transition) error {
	req := out.Request
	if t.Quote == nil {
		return apperr.Validation("quote is required")
	}
	if req.Status.Terminal() {
		return fmt.Errorf("request %s is %s: %w", req.ID, req.Status, apperr.ErrRequestNotQuotable)
	}
	if t.Quote.RequestID != req.ID {
		return apperr.Validation("quote targets request %s, not %s", t.Quote.RequestID, req.ID)
	}
	for _, q := range quotes {
		if q.PharmacyID == t.Quote.PharmacyID && q.Status == models.QuoteStatusPending {
			return fmt.Errorf("pharmacy %s, request %s: %w", q.PharmacyID, req.ID, apperr.ErrDuplicateQuote)
		}
	}

	created := t.Quote.Clone()
	created.Status = models.QuoteStatusPending
	created.CreatedAt = t.At
	created.UpdatedAt = t.At
	out.Created = created

	// Promotion is monotonic: quoted stays quoted.
	if req.Status == models.RequestStatusPending {
		req.UpdateState(models.RequestStatusQuoted, t.At)
	}
	return nil
}

func accept(out *Outcome, quotes []*models.Quote, t Transition) error {
	req := out.Request
	if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusQuoted {
		return fmt.Errorf("accept on %s request %s: %w", req.Status, req.ID, apperr.ErrInvalidStateTransition)
	}
	if t.Channel != models.ChannelDelivery && t.Channel != models.ChannelPickup {
		return apperr.Validation("unknown channel %q", t.Channel)
	}

	var target *models.Quote
	for _, q := range quotes {
		if q.ID == t.QuoteID {
			target = q
			break
		}
	}
	if target == nil {
		return fmt.Errorf("quote %s under request %s: %w", t.QuoteID, req.ID, apperr.ErrNotFound)
	}
	if target.Status != models.QuoteStatusPending {
		return fmt.Errorf("accept on %s quote %s: %w", target.Status, target.ID, apperr.ErrInvalidStateTransition)
	}

	for _, q := range quotes {
		switch {
		case q.ID == target.ID:
			out.Changed = append(out.Changed, change(q, models.QuoteStatusAccepted, t.At))
		case q.Status == models.QuoteStatusPending:
			out.Changed = append(out.Changed, change(q, models.QuoteStatusRejected, t.At))
		}
	}

	req.UpdateState(models.RequestStatusAccepted, t.At)
	req.AcceptedQuoteID = target.ID
	req.Channel = t.Channel
	req.AgreedPrice = decimal.NewNullDecimal(t.AgreedPrice)
	return nil
}

func cancel(out *Outcome, quotes []*models.Quote, t Transition) error {
	req := out.Request
	if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusQuoted {
		return fmt.Errorf("cancel on %s request %s: %w", req.Status, req.ID, apperr.ErrInvalidStateTransition)
	}
	for _, q := range quotes {
		if q.Status == models.QuoteStatusPending {
			out.Changed = append(out.Changed, change(q, models.QuoteStatusRejected, t.At))
		}
	}
	req.UpdateState(models.RequestStatusCancelled, t.At)
	return nil
}

func complete(out *Outcome, t Transition) error {
	req := out.Request
	if req.Status != models.RequestStatusAccepted {
		return fmt.Errorf("complete on %s request %s: %w", req.Status, req.ID, apperr.ErrInvalidStateTransition)
	}
	req.UpdateState(models.RequestStatusCompleted, t.At)
	return nil
}

func change(q *models.Quote, to models.QuoteStatus, at time.Time) QuoteChange {
	c := q.Clone()
	c.Status = to
	c.UpdatedAt = at
	return QuoteChange{Quote: c, From: q.Status}
}
