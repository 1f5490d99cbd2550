package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rideledger/internal/domain"
	"rideledger/internal/service"
)

// KeyHandler exposes key derivation so clients can address rides offline.
type KeyHandler struct {
	rideService *service.RideService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(rideService *service.RideService) *KeyHandler {
	return &KeyHandler{rideService: rideService}
}

// KeyResponse is the HTTP response for a derived key.
type KeyResponse struct {
	Key  string `json:"key"`
	Bump uint8  `json:"bump"`
}

// DeriveKey handles GET /v1/keys/:rider/:unique_id
func (h *KeyHandler) DeriveKey(c *gin.Context) {
	rider, err := domain.ParseIdentity(c.Param("rider"))
	if err != nil {
		respondError(c, service.ErrInvalidRiderID)
		return
	}
	uniqueID, err := strconv.ParseUint(c.Param("unique_id"), 10, 64)
	if err != nil {
		respondError(c, ErrInvalidUniqueID)
		return
	}

	result, err := h.rideService.DeriveKey(rider, uniqueID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, KeyResponse{Key: result.Key.String(), Bump: result.Bump})
}
