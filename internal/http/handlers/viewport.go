package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/storage"
)

type ViewportHandler struct {
	logger   *slog.Logger
	settings storage.Settings
}

func NewViewportHandler(logger *slog.Logger, settings storage.Settings) *ViewportHandler {
	return &ViewportHandler{
		logger:   logger,
		settings: settings,
	}
}

func (h *ViewportHandler) Get(c *gin.Context) {
	region, err := h.settings.Region(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no viewport saved"})
			return
		}
		respondError(c, h.logger, "failed to load viewport", err)
		return
	}
	c.JSON(http.StatusOK, region)
}

func (h *ViewportHandler) Save(c *gin.Context) {
	var region storage.Region
	if err := c.ShouldBindJSON(&region); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid viewport"})
		return
	}
	center := storage.Coordinate{Latitude: region.Latitude, Longitude: region.Longitude}
	if err := center.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if region.LatitudeDelta < 0 || region.LongitudeDelta < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "viewport span must not be negative"})
		return
	}

	if err := h.settings.SaveRegion(c.Request.Context(), region); err != nil {
		respondError(c, h.logger, "failed to save viewport", err)
		return
	}
	c.JSON(http.StatusOK, region)
}
