package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/http/render"
	"github.com/Oxyrus/virtualtourist/internal/storage"
	"github.com/Oxyrus/virtualtourist/web/pages"
)

type PageHandler struct {
	logger   *slog.Logger
	pins     storage.Pins
	photos   storage.Photos
	settings storage.Settings
}

func NewPageHandler(logger *slog.Logger, store storage.Store) *PageHandler {
	return &PageHandler{
		logger:   logger,
		pins:     store.Pins(),
		photos:   store.Photos(),
		settings: store.Settings(),
	}
}

func (h *PageHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()

	pins, err := h.pins.List(ctx)
	if err != nil {
		h.logger.Error("failed to list pins", "error", err)
		c.String(http.StatusInternalServerError, "failed to load pins")
		return
	}

	items := make([]pages.PinListItem, 0, len(pins))
	for _, pin := range pins {
		count, err := h.photos.CountByPin(ctx, pin.ID)
		if err != nil {
			h.logger.Error("failed to count photos", "pinID", pin.ID, "error", err)
			c.String(http.StatusInternalServerError, "failed to load pins")
			return
		}
		items = append(items, pages.PinListItem{
			ID:        pin.ID,
			Latitude:  pin.Latitude,
			Longitude: pin.Longitude,
			Photos:    count,
			CreatedAt: formatTimestamp(pin.CreatedAt),
			Href:      fmt.Sprintf("/api/pins/%d", pin.ID),
		})
	}

	data := pages.IndexData{Pins: items}
	region, err := h.settings.Region(ctx)
	switch {
	case err == nil:
		data.Region = fmt.Sprintf("%.4f, %.4f (span %.3f x %.3f)",
			region.Latitude, region.Longitude, region.LatitudeDelta, region.LongitudeDelta)
	case !errors.Is(err, storage.ErrNotFound):
		h.logger.Warn("failed to load viewport", "error", err)
	}

	render.HTML(c, http.StatusOK, pages.Index(data))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 MST")
}
