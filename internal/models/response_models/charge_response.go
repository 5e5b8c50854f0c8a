package response_models

import "github.com/google/uuid"

type PendingRetryResponse struct {
	BillingPeriod string `json:"billingPeriod"`
	Updated       int64  `json:"updated"`
}

type CancelChargeResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// WebhookAck is the bare body payment providers expect.
type WebhookAck struct {
	Received bool `json:"received"`
}
