package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rideledger/internal/domain"
	"rideledger/internal/middleware"
	"rideledger/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// CreateRideRequest is the HTTP request body for creating a ride.
// Fields are pointers so a missing value is distinguishable from zero.
type CreateRideRequest struct {
	UniqueID *uint64 `json:"unique_id" binding:"required"`
	Fare     *uint64 `json:"fare" binding:"required"`
	Distance *uint64 `json:"distance" binding:"required"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	ByRider bool `json:"by_rider"`
}

// RideResponse is the HTTP representation of a ride record.
type RideResponse struct {
	Key       string `json:"key"`
	Bump      uint8  `json:"bump"`
	Rider     string `json:"rider"`
	Driver    string `json:"driver,omitempty"`
	UniqueID  uint64 `json:"unique_id"`
	Fare      uint64 `json:"fare"`
	Distance  uint64 `json:"distance"`
	Status    string `json:"status"`
	Bond      uint64 `json:"bond"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CloseRideResponse is the HTTP response for closing a ride.
type CloseRideResponse struct {
	Key      string `json:"key"`
	Refunded uint64 `json:"refunded"`
}

func toRideResponse(ride *domain.Ride) RideResponse {
	resp := RideResponse{
		Key:       ride.Key.String(),
		Bump:      ride.Bump,
		Rider:     ride.Rider.String(),
		UniqueID:  ride.UniqueID,
		Fare:      ride.Fare,
		Distance:  ride.Distance,
		Status:    string(ride.Status),
		Bond:      ride.Bond,
		CreatedAt: ride.CreatedAt.Format(time.RFC3339),
		UpdatedAt: ride.UpdatedAt.Format(time.RFC3339),
	}
	if ride.HasDriver() {
		resp.Driver = ride.Driver.String()
	}
	return resp
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	claimed, err := claimedKey(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		Caller:   middleware.GetCaller(c),
		UniqueID: *req.UniqueID,
		Fare:     *req.Fare,
		Distance: *req.Distance,
		Key:      claimed,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:rider/:unique_id
func (h *RideHandler) GetRide(c *gin.Context) {
	ref, err := rideRef(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// AcceptRide handles POST /v1/rides/:rider/:unique_id/accept
func (h *RideHandler) AcceptRide(c *gin.Context) {
	ref, err := rideRef(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.AcceptRide(c.Request.Context(), ref, middleware.GetCaller(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CompleteRide handles POST /v1/rides/:rider/:unique_id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	ref, err := rideRef(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.CompleteRide(c.Request.Context(), ref, middleware.GetCaller(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CancelRide handles POST /v1/rides/:rider/:unique_id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	ref, err := rideRef(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), ref, middleware.GetCaller(c), req.ByRider)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CloseRide handles DELETE /v1/rides/:rider/:unique_id
func (h *RideHandler) CloseRide(c *gin.Context) {
	ref, err := rideRef(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.rideService.CloseRide(c.Request.Context(), ref, middleware.GetCaller(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CloseRideResponse{
		Key:      result.Ride.Key.String(),
		Refunded: result.Refunded,
	})
}

// rideRef builds the routing input from the path and the optional key header.
func rideRef(c *gin.Context) (service.RideRef, error) {
	rider, err := domain.ParseIdentity(c.Param("rider"))
	if err != nil {
		return service.RideRef{}, service.ErrInvalidRiderID
	}
	uniqueID, err := strconv.ParseUint(c.Param("unique_id"), 10, 64)
	if err != nil {
		return service.RideRef{}, ErrInvalidUniqueID
	}
	key, err := claimedKey(c)
	if err != nil {
		return service.RideRef{}, err
	}
	return service.RideRef{Rider: rider, UniqueID: uniqueID, Key: key}, nil
}

func claimedKey(c *gin.Context) (*domain.Key, error) {
	raw := c.GetHeader(middleware.KeyHeader)
	if raw == "" {
		return nil, nil
	}
	key, err := domain.ParseKey(raw)
	if err != nil {
		return nil, ErrInvalidRideKey
	}
	return &key, nil
}
