package services

import (
	"context"
	"errors"
	"testing"

	"clubpay/internal/models/db_models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchOfflineMethodsSkipGateway(t *testing.T) {
	for _, method := range []db_models.PaymentMethod{db_models.MethodCash, db_models.MethodBankTransfer} {
		t.Run(string(method), func(t *testing.T) {
			// a nil registry proves it is never consulted
			d := NewDispatchService(nil, nil, nil, zerolog.Nop())
			charge := db_models.Charge{Method: method}
			charge.EnsureID()

			res, err := d.Dispatch(context.Background(), tenantA, charge, db_models.Member{})
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Equal(t, DispatchOffline, res.Status)
			assert.Empty(t, res.ExternalID)
			assert.Empty(t, res.Meta)
		})
	}
}

func TestDispatchPassesChargeIDAsIdempotencyKey(t *testing.T) {
	f := newFixture(t, "Ana")
	charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)

	for i := 0; i < 2; i++ {
		res, err := f.dispatcher.Dispatch(context.Background(), tenantA, charge, f.members[0])
		require.NoError(t, err)
		require.True(t, res.OK())
	}

	assert.Equal(t, []string{charge.ID.String(), charge.ID.String()}, f.pix.Keys())
	req := f.pix.Requests[0]
	assert.Equal(t, "12345678909", req.Customer.Document)
	assert.Equal(t, "+5511999990000", req.Customer.Phone)
	assert.Equal(t, int64(9990), req.AmountCents)

	stored := f.db.Snapshot(tenantA).Charges[0]
	require.NotNil(t, stored.GatewayID)
	assert.Equal(t, "fakepix_"+charge.ID.String(), *stored.GatewayID)
	assert.Equal(t, "fakepix", *stored.GatewayName)
	assert.JSONEq(t, `{"invoiceUrl":"https://pay.example/`+charge.ID.String()+`"}`, string(stored.GatewayMeta))
}

func TestDispatchWithoutAdapterIsBusinessError(t *testing.T) {
	f := newFixture(t, "Ana")
	charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)
	charge.Method = db_models.MethodCreditCard

	res, err := f.dispatcher.Dispatch(context.Background(), tenantA, charge, f.members[0])
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "fakepix")
	assert.Empty(t, f.pix.Requests)
}

func TestDispatchGatewayFailureLeavesChargePending(t *testing.T) {
	f := newFixture(t, "Ana")
	charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)
	f.pix.FailFor[charge.ID.String()] = errors.New("503 service unavailable")

	res, err := f.dispatcher.Dispatch(context.Background(), tenantA, charge, f.members[0])
	require.NoError(t, err)
	assert.Equal(t, DispatchFailed, res.Status)
	assert.Contains(t, res.Reason, "503")
	assert.Nil(t, f.db.Snapshot(tenantA).Charges[0].GatewayID)
}

func TestDispatchSplitBrainReportsExternalID(t *testing.T) {
	f := newFixture(t, "Ana")
	charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)
	f.db.Hooks.SetChargeGateway = func(uuid.UUID) error { return errors.New("deadlock detected") }

	res, err := f.dispatcher.Dispatch(context.Background(), tenantA, charge, f.members[0])
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "fakepix_"+charge.ID.String())
	assert.Contains(t, res.Reason, "deadlock detected")
	// exactly one creation attempt reached the gateway
	assert.Len(t, f.pix.Requests, 1)
}

func TestDispatchDecryptFailureIsFatal(t *testing.T) {
	f := newFixture(t, "Ana")
	charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)
	member := f.members[0]
	member.DocumentEnc = "bm90LWNpcGhlcnRleHQ="

	_, err := f.dispatcher.Dispatch(context.Background(), tenantA, charge, member)
	require.Error(t, err)
	assert.Empty(t, f.pix.Requests)
}
