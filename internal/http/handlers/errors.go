package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/album"
	"github.com/Oxyrus/virtualtourist/internal/flickr"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, album.ErrSessionNotFound),
		errors.Is(err, album.ErrCellOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidCoordinate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, album.ErrBusy),
		errors.Is(err, album.ErrStaleDownload):
		return http.StatusConflict
	case errors.Is(err, album.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, flickr.ErrNetwork), errors.Is(err, flickr.ErrDecode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a JSON error. Server faults are logged and their
// details kept out of the response.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Error(msg, "error", err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
