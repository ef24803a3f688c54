package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
)

func (s QuoteStatus) Terminal() bool {
	return s == QuoteStatusAccepted || s == QuoteStatusRejected
}

// Channel is the fulfillment mode chosen when a quote is accepted.
type Channel string

const (
	ChannelDelivery Channel = "delivery"
	ChannelPickup   Channel = "pickup"
)

// EstimatedTimes is the closed vocabulary for Quote.EstimatedDeliveryTime.
var EstimatedTimes = []string{
	"30 minutes",
	"1 hour",
	"1-2 hours",
	"2-3 hours",
	"3-4 hours",
	"4-6 hours",
	"Same day",
	"Next day",
}

func ValidEstimatedTime(s string) bool {
	for _, v := range EstimatedTimes {
		if v == s {
			return true
		}
	}
	return false
}

type Quote struct {
	ID                    string           `json:"id"`
	RequestID             string           `json:"request_id"`
	PharmacyID            string           `json:"pharmacy_id"`
	DeliveryPrice         decimal.Decimal  `json:"delivery_price"`
	PickupPrice           decimal.Decimal  `json:"pickup_price"`
	EstimatedDeliveryTime string           `json:"estimated_delivery_time"`
	Notes                 string           `json:"notes,omitempty"`
	Status                QuoteStatus      `json:"status"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	Pharmacy              *PharmacyProfile `json:"pharmacy,omitempty"`
}

func (q *Quote) Clone() *Quote {
	c := *q
	if q.Pharmacy != nil {
		p := *q.Pharmacy
		c.Pharmacy = &p
	}
	return &c
}
