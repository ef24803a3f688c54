package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusQuoted    RequestStatus = "quoted"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no lifecycle event may change s any more
// apart from fulfillment of an accepted request.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusAccepted, RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusQuoted, RequestStatusAccepted,
		RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

// Radius is the search radius in kilometres. Only 5 and 10 exist.
type Radius int

const (
	Radius5  Radius = 5
	Radius10 Radius = 10
)

func (r Radius) Valid() bool {
	return r == Radius5 || r == Radius10
}

func (r Radius) Km() float64 {
	return float64(r)
}

type MedicineRequest struct {
	ID                   string              `json:"id"`
	CustomerID           string              `json:"customer_id"`
	PrescriptionImageURL string              `json:"prescription_image_url,omitempty"`
	ManualMedicines      []string            `json:"manual_medicines,omitempty"`
	Radius               Radius              `json:"radius"`
	CustomerLatitude     float64             `json:"customer_latitude"`
	CustomerLongitude    float64             `json:"customer_longitude"`
	CustomerAddress      string              `json:"customer_address"`
	Status               RequestStatus       `json:"status"`
	AcceptedQuoteID      string              `json:"accepted_quote_id,omitempty"`
	Channel              Channel             `json:"channel,omitempty"`
	AgreedPrice          decimal.NullDecimal `json:"agreed_price"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// HasPrescription and HasManualList are mutually exclusive on a valid request.
func (r *MedicineRequest) HasPrescription() bool {
	return r.PrescriptionImageURL != ""
}

func (r *MedicineRequest) HasManualList() bool {
	return len(r.ManualMedicines) > 0
}

func (r *MedicineRequest) Clone() *MedicineRequest {
	c := *r
	if r.ManualMedicines != nil {
		c.ManualMedicines = append([]string(nil), r.ManualMedicines...)
	}
	return &c
}

func (r *MedicineRequest) UpdateState(newStatus RequestStatus, at time.Time) {
	r.Status = newStatus
	r.UpdatedAt = at
}
