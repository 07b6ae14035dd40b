package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/photometa"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

type PhotoHandler struct {
	logger *slog.Logger
	photos storage.Photos
}

func NewPhotoHandler(logger *slog.Logger, photos storage.Photos) *PhotoHandler {
	return &PhotoHandler{
		logger: logger,
		photos: photos,
	}
}

// Image serves the stored bytes, or a square thumbnail when size is given.
func (h *PhotoHandler) Image(c *gin.Context) {
	photo, err := h.photos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to load photo", err)
		return
	}

	raw := c.Query("size")
	if raw == "" {
		c.Header("Cache-Control", "private, max-age=86400")
		c.Data(http.StatusOK, http.DetectContentType(photo.Data), photo.Data)
		return
	}

	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 || size > photometa.MaxThumbnailSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 1 and " + strconv.Itoa(photometa.MaxThumbnailSize)})
		return
	}

	thumb, err := photometa.Thumbnail(photo.Data, size)
	if err != nil {
		h.logger.Warn("failed to build thumbnail", "photoID", photo.ID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "photo cannot be resized"})
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", thumb)
}
