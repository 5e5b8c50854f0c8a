package controllers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"clubpay/internal/metrics"
	"clubpay/internal/models/response_models"
	"clubpay/internal/services"
	"clubpay/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxWebhookBody caps what we read from a provider.
const maxWebhookBody = 1 << 20

// unknownProviderLabel stands in for path segments that matched no adapter.
const unknownProviderLabel = "unknown"

type WebhookController struct {
	webhookService services.WebhookService
	logger         zerolog.Logger
}

func NewWebhookController(webhookService services.WebhookService, logger zerolog.Logger) *WebhookController {
	return &WebhookController{
		webhookService: webhookService,
		logger:         logger.With().Str("component", "webhook_controller").Logger(),
	}
}

// Receive godoc
// @Summary Receive a payment provider webhook
// @Description Authenticates the raw body with the provider adapter and queues it for reconciliation
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} response_models.WebhookAck
// @Failure 401 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /webhooks/{provider} [post]
func (w *WebhookController) Receive(c *gin.Context) {
	provider := c.Param("provider")

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		w.respond(c, provider, http.StatusBadRequest, err, "Failed to read request body")
		return
	}

	_, err = w.webhookService.Ingest(c.Request.Context(), provider, raw, c.Request.Header)
	status := services.WebhookHTTPStatus(err)
	switch status {
	case http.StatusOK:
		metrics.WebhookRequests.WithLabelValues(providerLabel(provider, status), strconv.Itoa(status)).Inc()
		c.JSON(http.StatusOK, response_models.WebhookAck{Received: true})
	case http.StatusUnauthorized:
		w.respond(c, provider, status, err, "Invalid webhook signature")
	case http.StatusNotFound:
		w.respond(c, provider, status, err, "Unknown payment provider")
	default:
		w.respond(c, provider, status, err, "Webhook could not be processed")
	}
}

func (w *WebhookController) respond(c *gin.Context, provider string, status int, err error, message string) {
	metrics.WebhookRequests.WithLabelValues(providerLabel(provider, status), strconv.Itoa(status)).Inc()
	w.logger.Warn().Err(err).Str("provider", provider).Int("status", status).Str("trace_id", c.GetString("trace_id")).Msg("webhook rejected")
	utils.RespondError(c, status, message)
}

// providerLabel keeps the metric's label set bounded to registered providers.
// A body read failure happens before the registry lookup, so it is unknown too.
func providerLabel(provider string, status int) string {
	if status == http.StatusNotFound || status == http.StatusBadRequest {
		return unknownProviderLabel
	}
	return strings.ToLower(provider)
}
