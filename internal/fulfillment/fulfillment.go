package fulfillment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"medquote/internal/apperr"
	"medquote/internal/models"
)

// Channel knows how an accepted quote is handed over and what it costs.
type Channel interface {
	Validate(q *models.Quote) error
	Price(q *models.Quote) decimal.Decimal
	Type() models.Channel
}

type DeliveryChannel struct{}

func (c DeliveryChannel) Validate(q *models.Quote) error {
	if q.DeliveryPrice.IsNegative() {
		return apperr.Validation("delivery price must be >= 0, got %s", q.DeliveryPrice)
	}
	return nil
}

func (c DeliveryChannel) Price(q *models.Quote) decimal.Decimal {
	return q.DeliveryPrice
}

func (c DeliveryChannel) Type() models.Channel {
	return models.ChannelDelivery
}

type PickupChannel struct{}

func (c PickupChannel) Validate(q *models.Quote) error {
	if q.PickupPrice.IsNegative() {
		return apperr.Validation("pickup price must be >= 0, got %s", q.PickupPrice)
	}
	return nil
}

func (c PickupChannel) Price(q *models.Quote) decimal.Decimal {
	return q.PickupPrice
}

func (c PickupChannel) Type() models.Channel {
	return models.ChannelPickup
}

type Service interface {
	GetChannel(ch models.Channel) (Channel, error)
	ListChannels() []models.Channel
}

type channelService struct {
	channels map[models.Channel]Channel
}

func NewService() Service {
	return &channelService{
		channels: map[models.Channel]Channel{
			models.ChannelDelivery: DeliveryChannel{},
			models.ChannelPickup:   PickupChannel{},
		},
	}
}

func (s *channelService) GetChannel(ch models.Channel) (Channel, error) {
	if c, ok := s.channels[ch]; ok {
		return c, nil
	}
	return nil, apperr.Validation("unsupported channel %q", ch)
}

func (s *channelService) ListChannels() []models.Channel {
	list := make([]models.Channel, 0, len(s.channels))
	for k := range s.channels {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// ValidateQuote runs every registered channel's check, so a quote is
// acceptable through any channel the customer later picks.
func ValidateQuote(s Service, q *models.Quote) error {
	var errs []error
	for _, ch := range s.ListChannels() {
		c, err := s.GetChannel(ch)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch, err)
		}
		if err := c.Validate(q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
