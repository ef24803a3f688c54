package handler_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medquote/internal/apperr"
	"medquote/internal/handler"
	"medquote/internal/models"
	"medquote/internal/service"
	"medquote/internal/storage"
)

func setup(t *testing.T) (*handler.Handler, *bytes.Buffer) {
	t.Helper()
	st, err := storage.New("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.CreateCustomer(ctx, &models.Customer{
		User: models.User{ID: "c1", Email: "mona@example.com", UserType: models.UserTypeCustomer},
	}))
	require.NoError(t, st.CreatePharmacy(ctx, &models.Pharmacy{
		User:         models.User{ID: "p1", Email: "nile@example.com", UserType: models.UserTypePharmacy},
		PharmacyName: "Nile", LicenseNumber: "L-1",
	}))
	require.NoError(t, st.CreateRequest(ctx, &models.MedicineRequest{
		ID: "r1", CustomerID: "c1", ManualMedicines: []string{"Aspirin"}, Radius: models.Radius5,
		Status: models.RequestStatusPending,
	}, []byte(`{"type":"request.created","request_id":"r1"}`)))

	out := &bytes.Buffer{}
	return handler.New(service.NewOperatorService(service.Deps{Store: st}), out), out
}

func TestExecute(t *testing.T) {
	h, out := setup(t)
	ctx := context.Background()

	require.NoError(t, h.Execute(ctx, "help", nil))
	assert.Contains(t, out.String(), "verify <pharmacyID>")

	out.Reset()
	require.NoError(t, h.Execute(ctx, "pharmacies", nil))
	assert.Contains(t, out.String(), "Verified=false")

	out.Reset()
	require.NoError(t, h.Execute(ctx, "verify", []string{"p1"}))
	assert.Contains(t, out.String(), "Pharmacy p1 verified=true")

	out.Reset()
	require.NoError(t, h.Execute(ctx, "requests", nil))
	assert.Contains(t, out.String(), "ID=r1")

	out.Reset()
	require.NoError(t, h.Execute(ctx, "quotes", []string{"r1"}))
	assert.Contains(t, out.String(), "no quotes")

	out.Reset()
	require.NoError(t, h.Execute(ctx, "outbox", nil))
	assert.Contains(t, out.String(), "request.created")

	err := h.Execute(ctx, "complete", []string{"r1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	assert.ErrorIs(t, h.Execute(ctx, "exit", nil), handler.ErrExit)
	assert.Error(t, h.Execute(ctx, "accept", nil))
	assert.Error(t, h.Execute(ctx, "verify", []string{"p1", "maybe"}))
	assert.Error(t, h.Execute(ctx, "quotes", nil))
}
