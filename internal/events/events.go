// Package events defines the lifecycle events written to the outbox and
// consumed by the notifier.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"medquote/internal/lifecycle"
	"medquote/internal/models"
)

type Type string

const (
	RequestCreated   Type = "request.created"
	QuoteSubmitted   Type = "quote.submitted"
	QuoteAccepted    Type = "quote.accepted"
	QuoteRejected    Type = "quote.rejected"
	RequestCancelled Type = "request.cancelled"
	RequestCompleted Type = "request.completed"
)

type Event struct {
	ID          string               `json:"id"`
	Type        Type                 `json:"type"`
	RequestID   string               `json:"request_id"`
	CustomerID  string               `json:"customer_id"`
	QuoteID     string               `json:"quote_id,omitempty"`
	PharmacyID  string               `json:"pharmacy_id,omitempty"`
	Status      models.RequestStatus `json:"request_status"`
	Channel     models.Channel       `json:"channel,omitempty"`
	AgreedPrice string               `json:"agreed_price,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" || e.RequestID == "" {
		return Event{}, fmt.Errorf("decode event: missing type or request id")
	}
	return e, nil
}

func newEvent(t Type, r *models.MedicineRequest, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		RequestID:  r.ID,
		CustomerID: r.CustomerID,
		Status:     r.Status,
		OccurredAt: at,
	}
}

func Created(r *models.MedicineRequest) Event {
	return newEvent(RequestCreated, r, r.CreatedAt)
}

// FromOutcome lists the events a successful transition produces, in the
// order they should be published.
func FromOutcome(kind lifecycle.Kind, out *lifecycle.Outcome) []Event {
	r := out.Request
	at := r.UpdatedAt
	var res []Event

	switch kind {
	case lifecycle.QuoteSubmitted:
		e := newEvent(QuoteSubmitted, r, out.Created.CreatedAt)
		e.QuoteID = out.Created.ID
		e.PharmacyID = out.Created.PharmacyID
		res = append(res, e)
	case lifecycle.QuoteAccepted:
		for _, c := range out.Changed {
			if c.Quote.Status == models.QuoteStatusAccepted {
				e := newEvent(QuoteAccepted, r, at)
				e.QuoteID = c.Quote.ID
				e.PharmacyID = c.Quote.PharmacyID
				e.Channel = r.Channel
				if r.AgreedPrice.Valid {
					e.AgreedPrice = r.AgreedPrice.Decimal.StringFixed(2)
				}
				res = append([]Event{e}, res...)
				continue
			}
			res = append(res, rejected(r, c.Quote, at))
		}
	case lifecycle.RequestCancelled:
		res = append(res, newEvent(RequestCancelled, r, at))
		for _, c := range out.Changed {
			res = append(res, rejected(r, c.Quote, at))
		}
	case lifecycle.RequestCompleted:
		e := newEvent(RequestCompleted, r, at)
		e.QuoteID = r.AcceptedQuoteID
		res = append(res, e)
	}
	return res
}

func rejected(r *models.MedicineRequest, q *models.Quote, at time.Time) Event {
	e := newEvent(QuoteRejected, r, at)
	e.QuoteID = q.ID
	e.PharmacyID = q.PharmacyID
	return e
}

type Recipient struct {
	UserID string
	Role   models.UserType
}

// Recipients returns who gets notified about e.
func (e Event) Recipients() []Recipient {
	customer := Recipient{UserID: e.CustomerID, Role: models.UserTypeCustomer}
	pharmacy := Recipient{UserID: e.PharmacyID, Role: models.UserTypePharmacy}

	switch e.Type {
	case RequestCreated, QuoteSubmitted, RequestCancelled, RequestCompleted:
		return []Recipient{customer}
	case QuoteAccepted:
		return []Recipient{customer, pharmacy}
	case QuoteRejected:
		return []Recipient{pharmacy}
	}
	return nil
}

// Message is the human-readable notification text for e.
func (e Event) Message() string {
	switch e.Type {
	case RequestCreated:
		return fmt.Sprintf("Your request %s was sent to nearby pharmacies", e.RequestID)
	case QuoteSubmitted:
		return fmt.Sprintf("New quote %s for your request %s", e.QuoteID, e.RequestID)
	case QuoteAccepted:
		return fmt.Sprintf("Quote %s accepted for %s at %s", e.QuoteID, e.Channel, e.AgreedPrice)
	case QuoteRejected:
		return fmt.Sprintf("Quote %s for request %s was not selected", e.QuoteID, e.RequestID)
	case RequestCancelled:
		return fmt.Sprintf("Request %s was cancelled", e.RequestID)
	case RequestCompleted:
		return fmt.Sprintf("Request %s is completed", e.RequestID)
	}
	return string(e.Type)
}
