package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Status:  "success",
		Code:    http.StatusOK,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

// HandleServiceError maps service sentinels to HTTP status codes. Anything
// unrecognised is logged and answered with a 500.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidTenant):
		RespondError(c, http.StatusBadRequest, "Invalid tenant identifier")
	case errors.Is(err, ErrInvalidBillingPeriod), errors.Is(err, ErrInvalidInput):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		RespondError(c, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, ErrChargeNotFound):
		RespondError(c, http.StatusNotFound, "Charge not found")
	case errors.Is(err, ErrInvalidChargeState):
		RespondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoActivePlan):
		RespondError(c, http.StatusUnprocessableEntity, "Tenant has no active plan")
	default:
		log.Error().Err(err).Str("trace_id", traceID(c)).Msg("unhandled service error")
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
