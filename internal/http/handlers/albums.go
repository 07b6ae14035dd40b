package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/album"
)

// AlbumSessions is the album session registry.
type AlbumSessions interface {
	Open(ctx context.Context, pinID int64) (*album.Session, error)
	Get(id string) (*album.Session, error)
	Close(id string) error
}

type AlbumHandler struct {
	logger   *slog.Logger
	sessions AlbumSessions
}

func NewAlbumHandler(logger *slog.Logger, sessions AlbumSessions) *AlbumHandler {
	return &AlbumHandler{
		logger:   logger,
		sessions: sessions,
	}
}

type CellResponse struct {
	Key      string     `json:"key"`
	Status   string     `json:"status"`
	Title    string     `json:"title,omitempty"`
	SourceID string     `json:"sourceId,omitempty"`
	PhotoID  string     `json:"photoId,omitempty"`
	ImageURL string     `json:"imageUrl,omitempty"`
	TakenAt  *time.Time `json:"takenAt,omitempty"`
}

func NewCellResponse(cell album.Cell) CellResponse {
	out := CellResponse{
		Key:    cell.Key,
		Status: cell.Status.String(),
	}
	if cell.Meta != nil {
		out.Title = cell.Meta.Title
		out.SourceID = cell.Meta.ID
	}
	if cell.Photo != nil {
		out.PhotoID = cell.Photo.ID
		out.ImageURL = fmt.Sprintf("/api/photos/%s/image", cell.Photo.ID)
		out.TakenAt = cell.Photo.TakenAt
	}
	return out
}

func newCellResponses(cells []album.Cell) []CellResponse {
	out := make([]CellResponse, 0, len(cells))
	for _, cell := range cells {
		out = append(out, NewCellResponse(cell))
	}
	return out
}

type SessionResponse struct {
	ID          string         `json:"id"`
	PinID       int64          `json:"pinId"`
	State       string         `json:"state"`
	FromNetwork bool           `json:"fromNetwork"`
	Generation  int64          `json:"generation"`
	Cells       []CellResponse `json:"cells"`
	Notice      string         `json:"notice,omitempty"`
}

func newSessionResponse(snap album.Snapshot) SessionResponse {
	return SessionResponse{
		ID:          snap.ID,
		PinID:       snap.PinID,
		State:       snap.State.String(),
		FromNetwork: snap.FromNetwork,
		Generation:  snap.Generation,
		Cells:       newCellResponses(snap.Cells),
	}
}

type DiffResponse struct {
	Deleted  []int          `json:"deleted"`
	Inserted []int          `json:"inserted"`
	State    string         `json:"state"`
	Cells    []CellResponse `json:"cells"`
	Notice   string         `json:"notice,omitempty"`
}

func NewDiffResponse(diff album.Diff) DiffResponse {
	out := DiffResponse{
		Deleted:  diff.Deleted,
		Inserted: diff.Inserted,
		State:    diff.State.String(),
		Cells:    newCellResponses(diff.Cells),
		Notice:   diff.Notice,
	}
	if out.Deleted == nil {
		out.Deleted = []int{}
	}
	if out.Inserted == nil {
		out.Inserted = []int{}
	}
	return out
}

// Open starts an album session for the pin. The first diff is consumed here
// so the response carries any search notice.
func (h *AlbumHandler) Open(c *gin.Context) {
	pinID, ok := pinIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	session, err := h.sessions.Open(ctx, pinID)
	if err != nil {
		respondError(c, h.logger, "failed to open album", err)
		return
	}

	diff, err := session.Flush(ctx)
	if err != nil {
		respondError(c, h.logger, "failed to open album", err)
		return
	}

	out := newSessionResponse(session.Snapshot())
	out.Notice = diff.Notice
	c.JSON(http.StatusCreated, out)
}

func (h *AlbumHandler) Get(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session.Snapshot()))
}

// Changes returns everything that changed since the previous call.
func (h *AlbumHandler) Changes(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	diff, err := session.Flush(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to load album changes", err)
		return
	}
	c.JSON(http.StatusOK, NewDiffResponse(diff))
}

func (h *AlbumHandler) Download(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	index, ok := cellIndexParam(c)
	if !ok {
		return
	}

	cell, err := session.Download(c.Request.Context(), index)
	if err != nil {
		respondError(c, h.logger, "failed to download photo", err)
		return
	}
	c.JSON(http.StatusOK, NewCellResponse(cell))
}

func (h *AlbumHandler) DeleteCell(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	index, ok := cellIndexParam(c)
	if !ok {
		return
	}

	if err := session.Delete(c.Request.Context(), index); err != nil {
		respondError(c, h.logger, "failed to delete photo", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AlbumHandler) Prefetch(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	filled, err := session.Prefetch(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to prefetch photos", err)
		return
	}

	h.logger.Info("album prefetched", "session", session.ID(), "filled", filled)
	c.JSON(http.StatusOK, gin.H{"filled": filled})
}

func (h *AlbumHandler) NewCollection(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.NewCollection(c.Request.Context()); err != nil {
		respondError(c, h.logger, "failed to load a new collection", err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session.Snapshot()))
}

func (h *AlbumHandler) Close(c *gin.Context) {
	if err := h.sessions.Close(c.Param("session")); err != nil {
		respondError(c, h.logger, "failed to close album", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AlbumHandler) session(c *gin.Context) (*album.Session, bool) {
	session, err := h.sessions.Get(c.Param("session"))
	if err != nil {
		respondError(c, h.logger, "failed to load album", err)
		return nil, false
	}
	return session, true
}

func cellIndexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cell index"})
		return 0, false
	}
	return index, true
}
