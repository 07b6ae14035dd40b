package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/storage"
)

// AlbumCloser ends album sessions that belong to a removed pin.
type AlbumCloser interface {
	ClosePin(pinID int64) int
}

type PinHandler struct {
	logger *slog.Logger
	pins   storage.Pins
	albums AlbumCloser
}

func NewPinHandler(logger *slog.Logger, pins storage.Pins, albums AlbumCloser) *PinHandler {
	return &PinHandler{
		logger: logger,
		pins:   pins,
		albums: albums,
	}
}

type PinResponse struct {
	ID         int64     `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewPinResponse(pin storage.Pin) PinResponse {
	return PinResponse{
		ID:         pin.ID,
		Latitude:   pin.Latitude,
		Longitude:  pin.Longitude,
		Generation: pin.Generation,
		CreatedAt:  pin.CreatedAt,
	}
}

type createPinRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (h *PinHandler) List(c *gin.Context) {
	pins, err := h.pins.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to list pins", err)
		return
	}

	out := make([]PinResponse, 0, len(pins))
	for _, pin := range pins {
		out = append(out, NewPinResponse(pin))
	}
	c.JSON(http.StatusOK, out)
}

func (h *PinHandler) Create(c *gin.Context) {
	var req createPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})
		return
	}

	pin, err := h.pins.Create(c.Request.Context(), storage.Coordinate{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		respondError(c, h.logger, "failed to create pin", err)
		return
	}

	h.logger.Info("pin created", "pinID", pin.ID, "latitude", pin.Latitude, "longitude", pin.Longitude)
	c.JSON(http.StatusCreated, NewPinResponse(pin))
}

// Lookup finds the pin at an exact coordinate.
func (h *PinHandler) Lookup(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lon")), 64)
	if latErr != nil || lonErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon must be numbers"})
		return
	}

	pin, err := h.pins.FindByCoordinate(c.Request.Context(), storage.Coordinate{Latitude: lat, Longitude: lon})
	if err != nil {
		respondError(c, h.logger, "failed to look up pin", err)
		return
	}
	c.JSON(http.StatusOK, NewPinResponse(pin))
}

func (h *PinHandler) Get(c *gin.Context) {
	id, ok := pinIDParam(c)
	if !ok {
		return
	}

	pin, err := h.pins.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "failed to load pin", err)
		return
	}
	c.JSON(http.StatusOK, NewPinResponse(pin))
}

// Delete removes the pin with its photos and closes any album open on it.
func (h *PinHandler) Delete(c *gin.Context) {
	id, ok := pinIDParam(c)
	if !ok {
		return
	}

	if err := h.pins.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "failed to delete pin", err)
		return
	}
	closed := h.albums.ClosePin(id)

	h.logger.Info("pin deleted", "pinID", id, "closedSessions", closed)
	c.Status(http.StatusNoContent)
}

func pinIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pin id"})
		return 0, false
	}
	return id, true
}
