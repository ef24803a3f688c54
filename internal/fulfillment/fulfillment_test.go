package fulfillment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/apperr"
	"medquote/internal/models"
)

func TestChannelPrice(t *testing.T) {
	s := NewService()
	q := &models.Quote{DeliveryPrice: decimal.NewFromInt(250), PickupPrice: decimal.NewFromInt(200)}

	d, err := s.GetChannel(models.ChannelDelivery)
	require.NoError(t, err)
	assert.Equal(t, "250", d.Price(q).String())

	p, err := s.GetChannel(models.ChannelPickup)
	require.NoError(t, err)
	assert.Equal(t, "200", p.Price(q).String())
}

func TestUnknownChannel(t *testing.T) {
	_, err := NewService().GetChannel("drone")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListChannels(t *testing.T) {
	assert.Equal(t, []models.Channel{models.ChannelDelivery, models.ChannelPickup}, NewService().ListChannels())
}

func TestValidateQuote(t *testing.T) {
	s := NewService()
	ok := &models.Quote{DeliveryPrice: decimal.Zero, PickupPrice: decimal.NewFromInt(5)}
	assert.NoError(t, ValidateQuote(s, ok))

	bad := &models.Quote{DeliveryPrice: decimal.NewFromInt(-1), PickupPrice: decimal.NewFromInt(-2)}
	err := ValidateQuote(s, bad)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "delivery price")
	assert.Contains(t, err.Error(), "pickup price")
}
