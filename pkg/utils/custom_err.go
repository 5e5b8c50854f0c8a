package utils

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTenant      = errors.New("invalid tenant identifier")
	ErrNoActivePlan       = errors.New("tenant has no active plan")
	ErrChargeNotFound     = errors.New("charge not found")
	ErrInvalidChargeState = errors.New("charge cannot transition from its current status")
	ErrUnauthenticated    = errors.New("missing actor or tenant")
)
