package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"clubpay/internal/gateway"
	"clubpay/internal/gateway/asaas"
	"clubpay/internal/models/db_models"
	"clubpay/internal/models/job_models"
	"clubpay/internal/queue"
	"clubpay/internal/testutil"
	mem "clubpay/pkg/memcache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A payment's earlier notifications must not swallow the one that settles it.
func TestIngestSettlesPaymentAfterEarlierNotices(t *testing.T) {
	tests := []struct {
		name  string
		prior []string
	}{
		{"created then received", []string{"PAYMENT_CREATED"}},
		{"overdue then received", []string{"PAYMENT_OVERDUE"}},
		{"created, overdue, received", []string{"PAYMENT_CREATED", "PAYMENT_OVERDUE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, "Ana")
			charge := f.seedCharge(f.members[0].ID, "2025-02", db_models.ChargeStatusPending)

			mr := miniredis.RunT(t)
			q := queue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), queue.Options{Prefix: "test"}, zerolog.Nop())

			registry, err := gateway.NewRegistry(asaas.New(asaas.Config{WebhookToken: "whk"}))
			require.NoError(t, err)
			tenants := testutil.TenantList{Tenants: []db_models.Tenant{{ID: tenantA, IsActive: true}}}
			svc := NewWebhookService(registry, q, f.db, tenants, NewReconcileService(f.db, zerolog.Nop()), mem.NewTenantRefs(), zerolog.Nop())

			var outcomes []string
			require.NoError(t, q.Register(job_models.KindProcessWebhook, queue.KindConfig{
				Handler: func(ctx context.Context, task *queue.Task) error {
					var job job_models.WebhookJob
					if err := task.Decode(&job); err != nil {
						return err
					}
					out, err := svc.ProcessEvent(ctx, &job, nil)
					if err != nil {
						return err
					}
					outcomes = append(outcomes, out.Reason)
					return nil
				},
			}))

			headers := http.Header{}
			headers.Set("asaas-access-token", "whk")
			deliver := func(event string) *IngestResult {
				body := fmt.Sprintf(`{"id":"evt_%s","event":%q,"payment":{"id":"pay_1","value":99.9,"externalReference":%q}}`,
					event, event, charge.ID.String())
				res, err := svc.Ingest(ctx, "asaas", []byte(body), headers)
				require.NoError(t, err)
				for {
					took, err := q.Process(ctx, job_models.KindProcessWebhook, 0)
					require.NoError(t, err)
					if !took {
						break
					}
				}
				return res
			}

			for _, event := range tt.prior {
				deliver(event)
			}
			res := deliver("PAYMENT_RECEIVED")

			assert.False(t, res.Duplicate)
			assert.False(t, res.Ignored)
			assert.Equal(t, "webhook:asaas:payment_received:pay_1", res.TaskID)
			require.NotEmpty(t, outcomes)
			assert.Equal(t, ReasonReconciled, outcomes[len(outcomes)-1])

			snap := f.db.Snapshot(tenantA)
			assert.Equal(t, db_models.ChargeStatusPaid, snap.Charges[0].Status)
			require.Len(t, snap.Payments, 1)
			assert.Equal(t, "pay_1", snap.Payments[0].GatewayTxID)

			// a redelivery of the settling event still collapses
			again := deliver("PAYMENT_RECEIVED")
			assert.True(t, again.Duplicate)
		})
	}
}

func TestIngestIgnoresUnknownEvents(t *testing.T) {
	f, q, svc := newWebhookFixture(t)
	f.pix.Event = &gateway.NormalizedEvent{Type: gateway.EventUnknown, GatewayTxID: "pay_2"}

	res, err := svc.Ingest(context.Background(), "fakepix", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Empty(t, res.TaskID)
	assert.Empty(t, q.tasks)
	assert.Equal(t, http.StatusOK, WebhookHTTPStatus(err))
}
