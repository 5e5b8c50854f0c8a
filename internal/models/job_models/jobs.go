package job_models

import (
	"strings"
	"time"

	"clubpay/internal/gateway"
)

const (
	KindBillingFanout   = "billing.fanout"
	KindGenerateCharges = "billing.generate"
	KindProcessWebhook  = "webhook.process"
)

// FanoutJob carries the period the cron tick belongs to; the tenant list is
// read when the task runs.
type FanoutJob struct {
	BillingPeriod string `json:"billingPeriod"`
}

type GenerateChargesJob struct {
	TenantID      string `json:"tenantId"`
	ActorID       string `json:"actorId"`
	BillingPeriod string `json:"billingPeriod,omitempty"`
}

// WebhookJob is a normalized provider event waiting for reconciliation.
// TenantID is filled after the first successful tenant lookup.
type WebhookJob struct {
	ProviderName string                  `json:"providerName"`
	Event        gateway.NormalizedEvent `json:"event"`
	ReceivedAt   time.Time               `json:"receivedAt"`
	TenantID     string                  `json:"tenantId,omitempty"`
}

func FanoutTaskID(period string) string {
	return "fanout:" + period
}

func GenerateTaskID(tenantID, period string) string {
	return "generate:" + tenantID + ":" + period
}

// WebhookTaskID keys a webhook task by provider, normalized event type and
// transaction. A provider sends several events for one payment over its life,
// so the type keeps a settled payment from colliding with an earlier notice.
func WebhookTaskID(provider string, eventType gateway.EventType, gatewayTxID string) string {
	return "webhook:" + strings.ToLower(provider) + ":" + strings.ToLower(string(eventType)) + ":" + gatewayTxID
}
