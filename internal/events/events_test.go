package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/lifecycle"
	"medquote/internal/models"
)

func quotedRequest() (*models.MedicineRequest, []*models.Quote) {
	r := &models.MedicineRequest{ID: "r1", CustomerID: "c1", Status: models.RequestStatusQuoted}
	quotes := []*models.Quote{
		{ID: "q1", RequestID: "r1", PharmacyID: "p1", Status: models.QuoteStatusPending, DeliveryPrice: decimal.NewFromInt(250)},
		{ID: "q2", RequestID: "r1", PharmacyID: "p2", Status: models.QuoteStatusPending, DeliveryPrice: decimal.NewFromInt(300)},
	}
	return r, quotes
}

func TestFromOutcomeAccept(t *testing.T) {
	r, quotes := quotedRequest()
	out, err := lifecycle.Apply(r, quotes, lifecycle.Transition{
		Kind:        lifecycle.QuoteAccepted,
		QuoteID:     "q2",
		Channel:     models.ChannelDelivery,
		AgreedPrice: decimal.NewFromInt(300),
	})
	require.NoError(t, err)

	evs := FromOutcome(lifecycle.QuoteAccepted, out)
	require.Len(t, evs, 2)
	assert.Equal(t, QuoteAccepted, evs[0].Type)
	assert.Equal(t, "q2", evs[0].QuoteID)
	assert.Equal(t, "p2", evs[0].PharmacyID)
	assert.Equal(t, "300.00", evs[0].AgreedPrice)
	assert.Equal(t, QuoteRejected, evs[1].Type)
	assert.Equal(t, "p1", evs[1].PharmacyID)

	assert.Equal(t, []Recipient{
		{UserID: "c1", Role: models.UserTypeCustomer},
		{UserID: "p2", Role: models.UserTypePharmacy},
	}, evs[0].Recipients())
	assert.Equal(t, []Recipient{{UserID: "p1", Role: models.UserTypePharmacy}}, evs[1].Recipients())
}

func TestFromOutcomeCancel(t *testing.T) {
	r, quotes := quotedRequest()
	out, err := lifecycle.Apply(r, quotes, lifecycle.Transition{Kind: lifecycle.RequestCancelled})
	require.NoError(t, err)

	evs := FromOutcome(lifecycle.RequestCancelled, out)
	require.Len(t, evs, 3)
	assert.Equal(t, RequestCancelled, evs[0].Type)
	assert.Equal(t, models.RequestStatusCancelled, evs[0].Status)
	assert.Equal(t, QuoteRejected, evs[1].Type)
	assert.Equal(t, QuoteRejected, evs[2].Type)
}

func TestMarshalRoundTrip(t *testing.T) {
	r := &models.MedicineRequest{ID: "r1", CustomerID: "c1", Status: models.RequestStatusPending,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	e := Created(r)

	data, err := e.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"request.created"`)
	assert.NotContains(t, string(data), "quote_id")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Contains(t, got.Message(), "r1")
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
	_, err = Unmarshal([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}
