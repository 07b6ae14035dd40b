// Package ws streams pin notifications and album diffs over WebSockets.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Oxyrus/virtualtourist/internal/album"
	"github.com/Oxyrus/virtualtourist/internal/changefeed"
	"github.com/Oxyrus/virtualtourist/internal/http/handlers"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	TypePinInserted = "pin.inserted"
	TypePinDeleted  = "pin.deleted"
	// TypeResync tells the client that notifications were dropped and its
	// pin list must be reloaded.
	TypeResync      = "resync"
	TypeAlbumDiff   = "album.diff"
	TypeAlbumClosed = "album.closed"
)

type PinDeleted struct {
	ID int64 `json:"id"`
}

type Handler struct {
	logger   *slog.Logger
	changes  *changefeed.Feed[storage.Change]
	sessions handlers.AlbumSessions
	tick     time.Duration
}

func NewHandler(logger *slog.Logger, changes *changefeed.Feed[storage.Change], sessions handlers.AlbumSessions, tick time.Duration) *Handler {
	return &Handler{
		logger:   logger,
		changes:  changes,
		sessions: sessions,
		tick:     tick,
	}
}

// Pins streams pin inserts and deletes until the client disconnects.
func (h *Handler) Pins(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.changes.Subscribe(storage.PinsTopic)
	defer sub.Close()

	gone := readUntilClosed(conn)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			if sub.TakeOverflow() {
				if err := write(conn, Message{Type: TypeResync}); err != nil {
					return
				}
			}
			msg, ok := pinMessage(change)
			if !ok {
				continue
			}
			if err := write(conn, msg); err != nil {
				h.logger.Debug("pin stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if sub.TakeOverflow() {
				if err := write(conn, Message{Type: TypeResync}); err != nil {
					return
				}
			}
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}

// Album streams one diff per tick while the session has changes. The stream
// consumes the session's diffs, so it should be the session's only reader.
func (h *Handler) Album(c *gin.Context) {
	session, err := h.sessions.Get(c.Param("session"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	gone := readUntilClosed(conn)
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	ctx := context.WithoutCancel(c.Request.Context())
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			diff, err := session.Flush(ctx)
			if errors.Is(err, album.ErrSessionClosed) {
				_ = write(conn, Message{Type: TypeAlbumClosed})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "album closed"),
					time.Now().Add(writeWait))
				return
			}
			if err != nil {
				h.logger.Error("album stream flush failed", "session", session.ID(), "error", err)
				return
			}
			if diff.Empty() {
				continue
			}
			if err := write(conn, Message{Type: TypeAlbumDiff, Payload: handlers.NewDiffResponse(diff)}); err != nil {
				h.logger.Debug("album stream write failed", "session", session.ID(), "error", err)
				return
			}
		case <-ping.C:
			if err := writePing(conn); err != nil {
				return
			}
		}
	}
}

func pinMessage(change storage.Change) (Message, bool) {
	if change.Kind != storage.KindPin {
		return Message{}, false
	}
	switch change.Op {
	case storage.OpInsert:
		if change.Pin == nil {
			return Message{}, false
		}
		return Message{Type: TypePinInserted, Payload: handlers.NewPinResponse(*change.Pin)}, true
	case storage.OpDelete:
		return Message{Type: TypePinDeleted, Payload: PinDeleted{ID: change.PinID}}, true
	default:
		return Message{}, false
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed. The returned channel closes when the connection goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

func write(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func writePing(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}
