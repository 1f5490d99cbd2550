package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideledger/internal/address"
	"rideledger/internal/auth"
	"rideledger/internal/bond"
	"rideledger/internal/middleware"
	"rideledger/internal/repository"
	"rideledger/internal/service"
)

var (
	// ErrInvalidUniqueID is returned when the unique id path segment is not an unsigned integer.
	ErrInvalidUniqueID = errors.New("invalid unique id")

	// ErrInvalidRideKey is returned when the X-Ride-Key header is malformed.
	ErrInvalidRideKey = errors.New("invalid ride key")
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		middleware.GetLogger(c).Error("request failed", "error", err)
		c.JSON(code, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidRiderID),
		errors.Is(err, ErrInvalidUniqueID),
		errors.Is(err, ErrInvalidRideKey),
		errors.Is(err, address.ErrKeyMismatch),
		errors.Is(err, address.ErrInvalidSeed):
		return http.StatusBadRequest

	// Missing or bad proof of control
	case errors.Is(err, auth.ErrMissingIdentity),
		errors.Is(err, auth.ErrInvalidProof):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrInvalidRideState),
		errors.Is(err, service.ErrRideAlreadyCompleted),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict

	// Bond could not be funded
	case errors.Is(err, bond.ErrInsufficientFunds):
		return http.StatusPaymentRequired

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
