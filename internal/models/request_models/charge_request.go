package request_models

// GenerateChargesRequest triggers a manual generation run. BillingPeriod
// accepts an ISO timestamp, a date or YYYY-MM; DueDate an RFC3339 timestamp
// or a date.
type GenerateChargesRequest struct {
	BillingPeriod string `json:"billingPeriod"`
	DueDate       string `json:"dueDate"`
	Method        string `json:"method"`
}

type MarkPendingRetryRequest struct {
	BillingPeriod string `json:"billingPeriod"`
}
