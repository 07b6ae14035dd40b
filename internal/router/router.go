package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/album"
	"github.com/Oxyrus/virtualtourist/internal/config"
	"github.com/Oxyrus/virtualtourist/internal/http/handlers"
	"github.com/Oxyrus/virtualtourist/internal/http/middleware"
	"github.com/Oxyrus/virtualtourist/internal/http/ws"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

func New(cfg *config.Config, logger *slog.Logger, store storage.Store, albums *album.Manager) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logging(logger))

	pinHandler := handlers.NewPinHandler(logger, store.Pins(), albums)
	albumHandler := handlers.NewAlbumHandler(logger, albums)
	photoHandler := handlers.NewPhotoHandler(logger, store.Photos())
	viewportHandler := handlers.NewViewportHandler(logger, store.Settings())
	pageHandler := handlers.NewPageHandler(logger, store)
	streamHandler := ws.NewHandler(logger, store.Changes(), albums, cfg.RenderTick)

	r.GET("/", pageHandler.Index)
	r.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "database unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api")
	api.GET("/pins", pinHandler.List)
	api.POST("/pins", pinHandler.Create)
	api.GET("/pins/lookup", pinHandler.Lookup)
	api.GET("/pins/:id", pinHandler.Get)
	api.DELETE("/pins/:id", pinHandler.Delete)
	api.POST("/pins/:id/album", albumHandler.Open)

	api.GET("/albums/:session", albumHandler.Get)
	api.DELETE("/albums/:session", albumHandler.Close)
	api.GET("/albums/:session/changes", albumHandler.Changes)
	api.POST("/albums/:session/prefetch", albumHandler.Prefetch)
	api.POST("/albums/:session/new-collection", albumHandler.NewCollection)
	api.POST("/albums/:session/cells/:index/download", albumHandler.Download)
	api.DELETE("/albums/:session/cells/:index", albumHandler.DeleteCell)

	api.GET("/photos/:id/image", photoHandler.Image)

	api.GET("/viewport", viewportHandler.Get)
	api.PUT("/viewport", viewportHandler.Save)

	r.GET("/ws/pins", streamHandler.Pins)
	r.GET("/ws/albums/:session", streamHandler.Album)

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})

	return r
}
