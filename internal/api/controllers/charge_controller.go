package controllers

import (
	"net/http"
	"strings"
	"time"

	"clubpay/internal/models/db_models"
	"clubpay/internal/models/request_models"
	"clubpay/internal/models/response_models"
	"clubpay/internal/services"
	"clubpay/pkg/middleware"
	"clubpay/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ChargeController struct {
	chargeService services.ChargeService
}

func NewChargeController(chargeService services.ChargeService) *ChargeController {
	return &ChargeController{
		chargeService: chargeService,
	}
}

// Generate godoc
// @Summary Generate the month's charges for the caller's tenant
// @Description Idempotent per member and billing period. Partial failures are reported in errors and gatewayErrors.
// @Tags Charges
// @Accept json
// @Produce json
// @Param request body request_models.GenerateChargesRequest false "Generation options"
// @Success 200 {object} utils.APIResponse
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /charges/generate [post]
func (cc *ChargeController) Generate(c *gin.Context) {
	var req request_models.GenerateChargesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	var opts services.GenerateOptions
	if req.BillingPeriod != "" {
		period, err := utils.ParseBillingPeriod(req.BillingPeriod)
		if err != nil {
			utils.HandleServiceError(c, err)
			return
		}
		opts.Period = period
	}
	if req.DueDate != "" {
		due, err := utils.ParseDueDate(req.DueDate)
		if err != nil {
			utils.HandleServiceError(c, err)
			return
		}
		opts.DueDate = &due
	}
	if req.Method != "" {
		method := db_models.PaymentMethod(strings.ToUpper(req.Method))
		if !validMethod(method) {
			utils.RespondError(c, http.StatusBadRequest, "Unsupported payment method")
			return
		}
		opts.Method = method
	}

	result, err := cc.chargeService.Generate(c.Request.Context(), c.GetString(middleware.TenantIDKey), c.GetString(middleware.ActorIDKey), opts)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, result, "Charges generated")
}

// MarkPendingRetry godoc
// @Summary Move the period's PENDING charges to PENDING_RETRY
// @Tags Charges
// @Accept json
// @Produce json
// @Param request body request_models.MarkPendingRetryRequest false "Billing period, defaults to the current month"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /charges/pending-retry [post]
func (cc *ChargeController) MarkPendingRetry(c *gin.Context) {
	var req request_models.MarkPendingRetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	period := utils.CurrentBillingPeriod(time.Now())
	if req.BillingPeriod != "" {
		p, err := utils.ParseBillingPeriod(req.BillingPeriod)
		if err != nil {
			utils.HandleServiceError(c, err)
			return
		}
		period = p
	}

	updated, err := cc.chargeService.MarkPendingRetry(c.Request.Context(), c.GetString(middleware.TenantIDKey), c.GetString(middleware.ActorIDKey), period)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.PendingRetryResponse{BillingPeriod: period.String(), Updated: updated}, "Charges marked for retry")
}

// Cancel godoc
// @Summary Cancel an unpaid charge
// @Tags Charges
// @Produce json
// @Param id path string true "Charge id"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /charges/{id}/cancel [post]
func (cc *ChargeController) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid charge id")
		return
	}

	charge, err := cc.chargeService.CancelCharge(c.Request.Context(), c.GetString(middleware.TenantIDKey), c.GetString(middleware.ActorIDKey), id)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.CancelChargeResponse{ID: charge.ID, Status: string(charge.Status)}, "Charge cancelled")
}

// Redispatch godoc
// @Summary Send undispatched charges to the gateway again
// @Tags Charges
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /charges/redispatch [post]
func (cc *ChargeController) Redispatch(c *gin.Context) {
	result, err := cc.chargeService.RedispatchPending(c.Request.Context(), c.GetString(middleware.TenantIDKey), c.GetString(middleware.ActorIDKey))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, result, "Redispatch finished")
}

func validMethod(m db_models.PaymentMethod) bool {
	switch m {
	case db_models.MethodPix, db_models.MethodBoleto, db_models.MethodCreditCard, db_models.MethodCash, db_models.MethodBankTransfer:
		return true
	}
	return false
}
